package gateway

import (
	"context"
	"slices"
	"sync"
)

// MemBroker 单进程：runner 和 gateway 在同一个进程里
type MemBroker struct {
	mu     sync.RWMutex
	subs   map[string][]chan Message
	closed bool
}

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[string][]chan Message)}
}

func (b *MemBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}

	// fanout：at-most-once，慢订阅者直接丢
	msg := Message{Topic: topic, Payload: payload}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	ch := make(chan Message, 4096)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], ch)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(ch)
	}()
	return ch, nil
}

// remove 先从订阅表摘掉再 close，Publish 持读锁所以不会写到已关闭的 chan
func (b *MemBroker) remove(ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	found := false
	for t, list := range b.subs {
		if i := slices.Index(list, ch); i >= 0 {
			found = true
			b.subs[t] = slices.Delete(list, i, i+1)
			if len(b.subs[t]) == 0 {
				delete(b.subs, t)
			}
		}
	}
	if found {
		close(ch)
	}
}

func (b *MemBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	seen := make(map[chan Message]struct{})
	for _, list := range b.subs {
		for _, ch := range list {
			if _, ok := seen[ch]; !ok {
				seen[ch] = struct{}{}
				close(ch)
			}
		}
	}
	clear(b.subs)
	return nil
}
