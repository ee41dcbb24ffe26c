package gateway

import "context"

// Topic 所有节点共用的价格频道
const Topic = "price_updates"

type Message struct {
	Topic   string
	Payload []byte
}

type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe ctx 结束时关闭返回的 chan
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	Close() error
}

// LatestPublisher 额外维护 symbol 最新价（redis: price:<symbol>）
type LatestPublisher interface {
	PublishLatest(ctx context.Context, topic, symbol string, payload []byte) error
}
