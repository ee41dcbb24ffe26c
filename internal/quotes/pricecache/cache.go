package pricecache

import (
	"sync"

	"drcrypt.com/internal/quotes/model"
)

// DefaultCapacity 每个 symbol 保留最近多少条
const DefaultCapacity = 50

// WindowKey 窗口缓存的复合 key（symbol + 窗口大小），不拼字符串
type WindowKey struct {
	Symbol string
	Size   int
}

// Stats 单个 symbol 的缓存状态
type Stats struct {
	Len      int    `json:"len"`
	Total    uint64 `json:"total"`    // 进程启动以来 append 的总条数（含预热）
	Complete bool   `json:"complete"` // 缓存里已经是该 symbol 的全部历史
}

// entry：环形缓冲 + latest 直接引用
// 只由 ingest 协程写，读是 history/http 协程，用 entry 自己的锁
type entry struct {
	mu       sync.RWMutex
	buf      []model.Tick
	head     int // 下一次写入的位置
	n        int
	total    uint64
	complete bool
	latest   *model.Tick

	memo map[int][]model.Tick // size -> window，append 时作废
}

// Cache 进程内最近行情；不持久化，重启即清空
type Cache struct {
	capacity int

	mu      sync.RWMutex
	entries map[string]*entry
}

func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*entry, 16),
	}
}

func (c *Cache) Capacity() int { return c.capacity }

func (c *Cache) get(symbol string) *entry {
	c.mu.RLock()
	e := c.entries[symbol]
	c.mu.RUnlock()
	return e
}

func (c *Cache) getOrCreate(symbol string) *entry {
	if e := c.get(symbol); e != nil {
		return e
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.entries[symbol]; e != nil {
		return e
	}
	e := &entry{buf: make([]model.Tick, c.capacity)}
	c.entries[symbol] = e
	return e
}

// Append O(1) 写入；超过容量覆盖最老的一条
func (c *Cache) Append(t model.Tick) {
	e := c.getOrCreate(t.Symbol)

	e.mu.Lock()
	e.push(t)
	e.mu.Unlock()
}

func (e *entry) push(t model.Tick) {
	e.buf[e.head] = t
	e.latest = &e.buf[e.head]
	e.head = (e.head + 1) % len(e.buf)
	if e.n < len(e.buf) {
		e.n++
	}
	e.total++
	e.memo = nil
}

// Latest 最新一条；ok=false 表示还没有任何数据（不是错误）
func (c *Cache) Latest(symbol string) (model.Tick, bool) {
	e := c.get(symbol)
	if e == nil {
		return model.Tick{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.latest == nil {
		return model.Tick{}, false
	}
	return *e.latest, true
}

// Window 最近 k 条，旧 -> 新
func (c *Cache) Window(symbol string, k int) []model.Tick {
	return c.WindowFor(WindowKey{Symbol: symbol, Size: k})
}

// WindowFor 同 Window；同一个 key 在下次 append 前复用结果
// 返回的切片调用方只读
func (c *Cache) WindowFor(key WindowKey) []model.Tick {
	if key.Size <= 0 {
		return nil
	}
	e := c.get(key.Symbol)
	if e == nil {
		return nil
	}

	e.mu.RLock()
	if w, ok := e.memo[key.Size]; ok {
		e.mu.RUnlock()
		return w
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok := e.memo[key.Size]; ok {
		return w
	}
	w := e.snapshot(key.Size)
	if e.memo == nil {
		e.memo = make(map[int][]model.Tick, 4)
	}
	e.memo[key.Size] = w
	return w
}

// snapshot 拷贝最近 k 条（调用方持锁）
func (e *entry) snapshot(k int) []model.Tick {
	if k > e.n {
		k = e.n
	}
	out := make([]model.Tick, k)
	size := len(e.buf)
	start := (e.head - k + size) % size
	for i := 0; i < k; i++ {
		out[i] = e.buf[(start+i)%size]
	}
	return out
}

// Warm 启动时用存储里的数据预热（ticks 旧 -> 新）
// complete=true 表示存储里该 symbol 的历史已经全部在这里了
func (c *Cache) Warm(symbol string, ticks []model.Tick, complete bool) {
	e := c.getOrCreate(symbol)

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range ticks {
		e.push(t)
	}
	e.complete = complete
}

// Track 提前登记一个 symbol（没有数据也算“已知”，历史查询返回空而不是 no data）
func (c *Cache) Track(symbol string) {
	c.getOrCreate(symbol)
}

func (c *Cache) Stats(symbol string) (Stats, bool) {
	e := c.get(symbol)
	if e == nil {
		return Stats{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Len: e.n, Total: e.total, Complete: e.isComplete()}, true
}

// 预热时是全量，且之后还没有发生过淘汰
func (e *entry) isComplete() bool {
	return e.complete && e.total <= uint64(len(e.buf))
}

func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for s := range c.entries {
		out = append(out, s)
	}
	return out
}
