// Package dedup 记录已处理的 (orderId, state)
package dedup

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/gocopy/pkg/kvstore"
	"github.com/betbot/gocopy/pkg/logger"
)

const (
	DefaultTTL = 24 * time.Hour

	storePrefix   = "dedup/"
	defaultShards = 16
)

// Cache 分片的 TTL 集合，条目过期后删除以控制大小。
// 配置 Store 时标记可跨重启保留
type Cache struct {
	ttl    time.Duration
	shards []shard
	store  *kvstore.Store
	now    func() time.Time
	log    *logrus.Entry
}

type shard struct {
	mu sync.Mutex
	m  map[string]time.Time // key -> 过期时间
}

type Option func(*Cache)

// WithStore 将标记持久化到 s
func WithStore(s *kvstore.Store) Option {
	return func(c *Cache) { c.store = s }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:    ttl,
		shards: make([]shard, defaultShards),
		now:    time.Now,
		log:    logger.Component("dedup"),
	}
	for i := range c.shards {
		c.shards[i].m = make(map[string]time.Time)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) shard(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &c.shards[h.Sum32()%uint32(len(c.shards))]
}

// sweep 清理单个分片的过期 key，调用方需持有 sh.mu
func (sh *shard) sweep(now time.Time) {
	for k, exp := range sh.m {
		if !exp.After(now) {
			delete(sh.m, k)
		}
	}
}

// Seen TTL 内是否已标记
func (c *Cache) Seen(key string) bool {
	now := c.now()
	sh := c.shard(key)
	sh.mu.Lock()
	exp, ok := sh.m[key]
	sh.mu.Unlock()
	if ok && exp.After(now) {
		return true
	}
	if c.store == nil {
		return false
	}
	found, err := c.store.Has(storePrefix + key)
	if err != nil {
		c.log.WithError(err).Warn("dedup store lookup failed")
		return false
	}
	if found {
		sh.mu.Lock()
		sh.m[key] = now.Add(c.ttl)
		sh.mu.Unlock()
	}
	return found
}

// Mark 标记为已处理
func (c *Cache) Mark(key string) {
	now := c.now()
	sh := c.shard(key)
	sh.mu.Lock()
	sh.sweep(now)
	sh.m[key] = now.Add(c.ttl)
	sh.mu.Unlock()

	if c.store != nil {
		if err := c.store.SetTTL(storePrefix+key, nil, c.ttl); err != nil {
			c.log.WithError(err).Warn("dedup store write failed")
		}
	}
}

// TryMark 标记 key，已存在时返回 false
func (c *Cache) TryMark(key string) bool {
	if c.Seen(key) {
		return false
	}
	c.Mark(key)
	return true
}

// Len 内存中未过期的条目数
func (c *Cache) Len() int {
	now := c.now()
	n := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		sh.sweep(now)
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}
