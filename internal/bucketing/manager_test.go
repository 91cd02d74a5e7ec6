package bucketing

import (
	"testing"
	"time"

	"travel-auth/internal/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestUserBucketStableAndInRange(t *testing.T) {
	m := NewManager(&config.Config{Bucketing: config.BucketingConfig{UserBuckets: 16, EventBuckets: 4}})

	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		id := uuid.NewString()
		b := m.UserBucket(id)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 16)
		assert.Equal(t, b, m.UserBucket(id))
		seen[b] = true
	}
	assert.Greater(t, len(seen), 8, "ids should spread across buckets")

	e := m.EventBucket("+919876543210")
	assert.Less(t, e, 4)
}

func TestDateBucket(t *testing.T) {
	m := NewManager(&config.Config{})
	ts := time.Date(2024, 3, 9, 23, 59, 30, 0, time.FixedZone("IST", 5*3600+1800))

	assert.Equal(t, "2024-03-09", m.DateBucket(ts))
	assert.Equal(t, 1, m.UserBuckets())
}
