package bucketing

import (
	"hash"
	"sync"
	"time"

	"travel-auth/internal/config"

	"github.com/spaolacci/murmur3"
)

// Manager maps identifiers onto a fixed number of partitions so wide Scylla
// and ClickHouse partitions stay bounded.
type Manager struct {
	userBuckets  int
	eventBuckets int
	pool         sync.Pool
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		userBuckets:  cfg.Bucketing.UserBuckets,
		eventBuckets: cfg.Bucketing.EventBuckets,
	}
	if m.userBuckets <= 0 {
		m.userBuckets = 1
	}
	if m.eventBuckets <= 0 {
		m.eventBuckets = 1
	}
	m.pool = sync.Pool{New: func() interface{} { return murmur3.New64() }}
	return m
}

// UserBucket is stable for a user id for as long as the bucket count is unchanged.
func (m *Manager) UserBucket(userID string) int {
	return m.bucket(userID, m.userBuckets)
}

func (m *Manager) EventBucket(key string) int {
	return m.bucket(key, m.eventBuckets)
}

func (m *Manager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (m *Manager) UserBuckets() int { return m.userBuckets }

func (m *Manager) bucket(key string, n int) int {
	h := m.pool.Get().(hash.Hash64)
	defer m.pool.Put(h)
	h.Reset()
	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % uint64(n))
}
