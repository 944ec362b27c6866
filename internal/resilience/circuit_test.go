package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensOnFailureRatio(t *testing.T) {
	b := NewBreaker("test", 4, 0.5, time.Minute, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.True(t, b.Allow(ctx))
		b.Report(ctx, true)
	}
	for i := 0; i < 2; i++ {
		assert.True(t, b.Allow(ctx))
		b.Report(ctx, false)
	}

	assert.False(t, b.Allow(ctx), "breaker open after 50% failures")
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker("test", 1, 0.5, 10*time.Millisecond, zerolog.Nop())
	ctx := context.Background()

	b.Report(ctx, false)
	assert.False(t, b.Allow(ctx))

	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.Allow(ctx), "one probe admitted after cool-off")

	b.Report(ctx, false)
	assert.False(t, b.Allow(ctx), "failed probe reopens")

	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.Allow(ctx))
	b.Report(ctx, true)
	assert.True(t, b.Allow(ctx), "successful probe closes")
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	b := NewBreaker("test", 10, 0.9, time.Minute, zerolog.Nop())
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		assert.True(t, b.Allow(ctx))
		b.Report(ctx, i%2 == 0)
	}
	assert.True(t, b.Allow(ctx))
}

func TestBackoffGrowsExponentially(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, base, Backoff(base, 1, 0))
	assert.Equal(t, 2*base, Backoff(base, 2, 0))
	assert.Equal(t, 4*base, Backoff(base, 3, 0))
}

func TestBackoffJitterStaysBounded(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := Backoff(base, 2, 0.2)
		assert.GreaterOrEqual(t, d, 160*time.Millisecond)
		assert.LessOrEqual(t, d, 240*time.Millisecond)
	}
}
