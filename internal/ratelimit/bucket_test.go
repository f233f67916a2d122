package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time { return f.t }
func (f *fakeClock) advance(d time.Duration) {
	f.t = f.t.Add(d)
}

func newTestBucket(capacity, refillRate float64) (*Bucket, *fakeClock) {
	fc := &fakeClock{t: time.Now()}
	b := &Bucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: fc.t,
		clk:        fc,
	}
	return b, fc
}

func TestBucketStartsFull(t *testing.T) {
	b := NewBucket(10, 1)
	assert.Equal(t, 10, b.Available())
}

func TestBucketConsumeDrainsTokens(t *testing.T) {
	b, _ := newTestBucket(5, 1)
	require.True(t, b.TryConsume(3))
	assert.Equal(t, 2, b.Available())
}

func TestBucketRejectsOverdraw(t *testing.T) {
	b, _ := newTestBucket(5, 1)
	require.False(t, b.TryConsume(6))
	assert.Equal(t, 5, b.Available(), "failed consume must not touch tokens")
}

func TestBucketRefillsOverTime(t *testing.T) {
	b, fc := newTestBucket(10, 2) // 2 tokens/sec
	require.True(t, b.TryConsume(10))
	assert.Equal(t, 0, b.Available())

	fc.advance(3 * time.Second)
	assert.Equal(t, 6, b.Available())
}

func TestBucketRefillNeverExceedsCapacity(t *testing.T) {
	b, fc := newTestBucket(5, 100)
	fc.advance(time.Hour)
	assert.Equal(t, 5, b.Available())
}

func TestBucketAtCapacity(t *testing.T) {
	b, _ := newTestBucket(5, 1)
	assert.True(t, b.AtCapacity())
	b.TryConsume(1)
	assert.False(t, b.AtCapacity())
}
