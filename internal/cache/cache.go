// Package cache provides a TTL plus LRU result cache keyed by request
// fingerprint.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/modelmesh/internal/model"
)

// Config tunes the cache.
type Config struct {
	// MaxEntries caps the cache; the least recently used entry is evicted
	// past it. Default: 1000.
	MaxEntries int
	// TTL is the lifetime of an entry. Default: 5m.
	TTL time.Duration
	// SweepInterval paces the background expiry sweep. Default: 1m.
	SweepInterval time.Duration
}

// DefaultConfig returns standard cache tuning.
func DefaultConfig() Config {
	return Config{
		MaxEntries:    1000,
		TTL:           5 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits            uint64  `json:"hits"`
	Misses          uint64  `json:"misses"`
	Evictions       uint64  `json:"evictions"`
	ExpiredRemovals uint64  `json:"expired_removals"`
	Entries         int     `json:"entries"`
	HitRate         float64 `json:"hit_rate"`
}

type entry struct {
	key       string
	result    model.MergedResult
	taskType  model.TaskType
	models    []string
	expiresAt time.Time
}

// Cache is a bounded TTL+LRU store for merged results. Safe for concurrent
// use.
type Cache struct {
	cfg Config

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64

	stopOnce sync.Once
	stopCh   chan struct{}

	nowFunc func() time.Time
}

// New creates a cache. Call StartSweeper to enable background expiry.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Cache{
		cfg:     cfg,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
		stopCh:  make(chan struct{}),
		nowFunc: time.Now,
	}
}

// Fingerprint derives a stable cache key from the request fields that
// determine the answer. The prompt is NFKC-normalized and whitespace is
// collapsed so trivially reformatted prompts share an entry.
func Fingerprint(req model.Request) string {
	prompt := norm.NFKC.String(req.Prompt)
	prompt = strings.Join(strings.Fields(prompt), " ")

	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(req.TaskType))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(req.QualityThreshold, 'f', -1, 64)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(req.CostLimit, 'f', -1, 64)))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached result for a key. An expired entry is removed and
// counted, and reported as a miss.
func (c *Cache) Get(key string) (model.MergedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return model.MergedResult{}, false
	}
	e := el.Value.(*entry)
	if c.nowFunc().After(e.expiresAt) {
		c.removeElement(el)
		c.expired++
		c.misses++
		return model.MergedResult{}, false
	}

	c.ll.MoveToFront(el)
	c.hits++
	return e.result, true
}

// Put stores a merged result under the key, tagged with its task type and
// contributing models for targeted invalidation.
func (c *Cache) Put(key string, taskType model.TaskType, result model.MergedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.result = result
		e.taskType = taskType
		e.models = append([]string(nil), result.ContributingModels...)
		e.expiresAt = c.nowFunc().Add(c.cfg.TTL)
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{
		key:       key,
		result:    result,
		taskType:  taskType,
		models:    append([]string(nil), result.ContributingModels...),
		expiresAt: c.nowFunc().Add(c.cfg.TTL),
	})
	c.items[key] = el

	for c.ll.Len() > c.cfg.MaxEntries {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.evictions++
	}
}

// Invalidate removes a single entry. Returns whether it was present.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if ok {
		c.removeElement(el)
	}
	return ok
}

// InvalidateTaskType removes every entry produced for the task type and
// returns the number removed.
func (c *Cache) InvalidateTaskType(taskType model.TaskType) int {
	return c.invalidateMatching(func(e *entry) bool {
		return e.taskType == taskType
	})
}

// InvalidateModel removes every entry a model contributed to. Used when a
// model's learned confidence shifts enough to distrust old answers.
func (c *Cache) InvalidateModel(modelName string) int {
	return c.invalidateMatching(func(e *entry) bool {
		for _, name := range e.models {
			if name == modelName {
				return true
			}
		}
		return false
	})
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats snapshots counters. Hit rate is hits over total lookups.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:            c.hits,
		Misses:          c.misses,
		Evictions:       c.evictions,
		ExpiredRemovals: c.expired,
		Entries:         c.ll.Len(),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// StartSweeper launches the background expiry sweep. Stop terminates it.
func (c *Cache) StartSweeper() {
	go func() {
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				if removed := c.sweep(); removed > 0 {
					zap.L().Debug("cache: swept expired entries", zap.Int("removed", removed))
				}
			}
		}
	}()
}

// Stop terminates the background sweeper. Idempotent.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Cache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if e := el.Value.(*entry); now.After(e.expiresAt) {
			c.removeElement(el)
			c.expired++
			removed++
		}
		el = prev
	}
	return removed
}

func (c *Cache) invalidateMatching(match func(*entry) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if match(el.Value.(*entry)) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

// removeElement assumes the lock is held.
func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, e.key)
}
