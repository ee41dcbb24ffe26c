package badgerstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/shopspring/decimal"

	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/internal/quotes/storage"
)

// Store 单机嵌入式实现，key = tick/<symbol>/<unix nano 大端><序号 大端>
// 大端编码让字典序等于时间序，倒序迭代即“新 -> 旧”。
// 同一毫秒可能有多笔成交，序号保证 key 不重复，同时间戳按写入顺序排
type Store struct {
	db  *badger.DB
	seq atomic.Uint64
}

// Open dir 为空时用纯内存模式（测试用）
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", dir, err)
	}
	s := &Store{db: db}
	// 用启动时间做起点，重启后序号仍然比之前写的大
	s.seq.Store(uint64(time.Now().UnixNano()))
	return s, nil
}

func prefix(symbol string) []byte {
	return []byte("tick/" + symbol + "/")
}

const keySuffixLen = 16

func key(t model.Tick, seq uint64) []byte {
	p := prefix(t.Symbol)
	k := make([]byte, len(p)+keySuffixLen)
	copy(k, p)
	binary.BigEndian.PutUint64(k[len(p):], uint64(t.Time.UnixNano()))
	binary.BigEndian.PutUint64(k[len(p)+8:], seq)
	return k
}

func (s *Store) Write(ctx context.Context, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return storage.ErrClosed
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, t := range ticks {
		if err := wb.Set(key(t, s.seq.Add(1)), []byte(t.Price.String())); err != nil {
			return fmt.Errorf("badger set: %w", err)
		}
	}
	return wb.Flush()
}

func (s *Store) Recent(ctx context.Context, symbol string, limit int) ([]model.Tick, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.db.IsClosed() {
		return nil, storage.ErrClosed
	}

	p := prefix(symbol)
	out := make([]model.Tick, 0, min(limit, 256))
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = p
		opts.PrefetchSize = min(limit, 100)
		it := txn.NewIterator(opts)
		defer it.Close()

		// 倒序时 Seek 落在 <= seek 的最大 key 上
		seek := append(bytes.Clone(p), bytes.Repeat([]byte{0xFF}, keySuffixLen+1)...)
		for it.Seek(seek); it.ValidForPrefix(p) && len(out) < limit; it.Next() {
			item := it.Item()
			k := item.Key()
			if len(k) != len(p)+keySuffixLen {
				continue
			}
			ns := int64(binary.BigEndian.Uint64(k[len(p):]))
			var price decimal.Decimal
			if err := item.Value(func(v []byte) error {
				var err error
				price, err = decimal.NewFromString(string(v))
				return err
			}); err != nil {
				return fmt.Errorf("decode price %s: %w", symbol, err)
			}
			out = append(out, model.Tick{Symbol: symbol, Price: price, Time: time.Unix(0, ns).UTC()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

var _ storage.Store = (*Store)(nil)
