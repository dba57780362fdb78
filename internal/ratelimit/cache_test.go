package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResultCacheEvictsOldestTenth(t *testing.T) {
	c := newResultCache(20, time.Hour)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 21; i++ {
		c.put(fmt.Sprintf("k%02d", i), i, base.Add(time.Duration(i)*time.Second))
	}

	// 21 > 20 -> drop 21/10 = 2 oldest
	assert.Equal(t, 19, c.len())
	now := base.Add(time.Minute)
	_, ok := c.get("k00", now)
	assert.False(t, ok)
	_, ok = c.get("k01", now)
	assert.False(t, ok)
	v, ok := c.get("k02", now)
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestResultCacheTTL(t *testing.T) {
	c := newResultCache(10, time.Second)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.put("a", "x", base)

	_, ok := c.get("a", base.Add(500*time.Millisecond))
	assert.True(t, ok)
	_, ok = c.get("a", base.Add(2*time.Second))
	assert.False(t, ok)
	assert.Equal(t, 0, c.len())
}

func TestUpdateRefreshesAge(t *testing.T) {
	c := newResultCache(3, time.Hour)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.put("a", 1, base)
	c.put("b", 2, base.Add(time.Second))
	c.put("c", 3, base.Add(2*time.Second))
	c.put("a", 10, base.Add(3*time.Second))
	c.put("d", 4, base.Add(4*time.Second))

	now := base.Add(5 * time.Second)
	_, ok := c.get("b", now)
	assert.False(t, ok, "b is the oldest after a was refreshed")
	v, ok := c.get("a", now)
	assert.True(t, ok)
	assert.Equal(t, 10, v)
}
