package memstore

import (
	"context"
	"sort"
	"sync"

	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/internal/quotes/storage"
)

// Store 进程内实现：本地开发 / 测试 / storage.driver=memory
type Store struct {
	mu     sync.RWMutex
	data   map[string][]model.Tick // symbol -> 按时间升序
	closed bool
}

func New() *Store {
	return &Store{data: make(map[string][]model.Tick, 16)}
}

func (s *Store) Write(ctx context.Context, ticks []model.Tick) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	for _, t := range ticks {
		rows := s.data[t.Symbol]
		// 大部分是追加；乱序的插到正确位置，保持 (symbol, ts) 有序
		i := sort.Search(len(rows), func(i int) bool { return rows[i].Time.After(t.Time) })
		rows = append(rows, model.Tick{})
		copy(rows[i+1:], rows[i:])
		rows[i] = t
		s.data[t.Symbol] = rows
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, symbol string, limit int) ([]model.Tick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	rows := s.data[symbol]
	if limit <= 0 || len(rows) == 0 {
		return nil, nil
	}
	if limit > len(rows) {
		limit = len(rows)
	}
	out := make([]model.Tick, 0, limit)
	for i := len(rows) - 1; i >= len(rows)-limit; i-- {
		out = append(out, rows[i])
	}
	return out, nil
}

func (s *Store) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[symbol])
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var _ storage.Store = (*Store)(nil)
