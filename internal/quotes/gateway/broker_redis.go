package gateway

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// LatestKey redis 里每个 symbol 的最新价：price:<symbol>
func LatestKey(symbol string) string { return "price:" + symbol }

// RedisBroker pub/sub 走 redis 频道；顺带维护 price:<symbol>
type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.rdb.Publish(ctx, topic, payload).Err()
}

// PublishLatest 一次往返：SET price:<symbol> + PUBLISH
func (b *RedisBroker) PublishLatest(ctx context.Context, topic, symbol string, payload []byte) error {
	_, err := b.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, LatestKey(symbol), payload, 0)
		p.Publish(ctx, topic, payload)
		return nil
	})
	return err
}

// Latest 读 price:<symbol>；没有时返回 redis.Nil
func (b *RedisBroker) Latest(ctx context.Context, symbol string) ([]byte, error) {
	return b.rdb.Get(ctx, LatestKey(symbol)).Bytes()
}

func (b *RedisBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	ps := b.rdb.Subscribe(ctx, topics...)
	// 等订阅确认，连不上直接报错
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan Message, 8192)
	go func() {
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Message{Topic: m.Channel, Payload: []byte(m.Payload)}:
				default:
				}
			}
		}
	}()
	return out, nil
}

// Close 连接由 app 统一关
func (b *RedisBroker) Close() error { return nil }
