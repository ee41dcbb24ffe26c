package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"drcrypt.com/pkg/logger"
	"drcrypt.com/pkg/safe"
)

// KafkaBroker 每个 topic 一个 writer；订阅用独立的 consumer group，
// 保证每个节点都能收到全量（广播语义，不做分摊）
type KafkaBroker struct {
	brokers []string
	group   string

	retryDelay time.Duration
	newReader  func(topics []string) messageReader

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewKafkaBroker(brokers []string) *KafkaBroker {
	b := &KafkaBroker{
		brokers:    brokers,
		group:      "pricefeed-" + uuid.NewString(),
		retryDelay: 5 * time.Second,
		writers:    make(map[string]*kafka.Writer),
	}
	b.newReader = b.dialReader
	return b
}

func (b *KafkaBroker) writer(topic string) *kafka.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.writers[topic]
	if !ok {
		w = &kafka.Writer{
			Addr:         kafka.TCP(b.brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // 同 symbol 落同一分区，保序
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 5 * time.Millisecond,
		}
		b.writers[topic] = w
	}
	return w
}

func (b *KafkaBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.writer(topic).WriteMessages(ctx, kafka.Message{Value: payload})
}

// PublishLatest 用 symbol 做 key，分区内按接收顺序
func (b *KafkaBroker) PublishLatest(ctx context.Context, topic, symbol string, payload []byte) error {
	return b.writer(topic).WriteMessages(ctx, kafka.Message{Key: []byte(symbol), Value: payload})
}

// messageReader kafka.Reader 里用到的部分
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Subscribe 读出错时关掉 reader 等一会儿重建，只有 ctx 结束才关闭返回的 chan
func (b *KafkaBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	out := make(chan Message, 8192)
	safe.Go("kafka.subscribe", func() {
		defer close(out)
		for ctx.Err() == nil {
			r := b.newReader(topics)
			err := b.consume(ctx, r, out)
			r.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "kafka read error, reconnecting",
				zap.Strings("topics", topics),
				zap.Duration("retry_in", b.retryDelay),
				zap.Error(err),
			)
			t := time.NewTimer(b.retryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	})
	return out, nil
}

func (b *KafkaBroker) consume(ctx context.Context, r messageReader, out chan<- Message) error {
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			return err
		}
		select {
		case out <- Message{Topic: m.Topic, Payload: m.Value}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *KafkaBroker) dialReader(topics []string) messageReader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		GroupID:     b.group,
		GroupTopics: topics,
		StartOffset: kafka.LastOffset, // 新节点只要实时流
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     100 * time.Millisecond,
	})
}

func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for _, w := range b.writers {
		errs = append(errs, w.Close())
	}
	clear(b.writers)
	return errors.Join(errs...)
}
