package pricefeed

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

// unreachableClient points at a port nothing listens on, so every read
// fails with a transport-level error — this exercises the "continues
// through transient read/parse errors" and "completes cleanly on
// cancellation" contract without a live Redis instance.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 20 * time.Millisecond})
}

func TestSubscribeCompletesCleanlyOnCancellation(t *testing.T) {
	src := NewRedisSource(unreachableClient(), 8)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := src.Subscribe(ctx, "index:price", 5*time.Millisecond)
	assert.NoError(t, err)

	time.Sleep(20 * time.Millisecond) // let a few failing polls happen
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel closes after cancellation")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("subscription did not complete after cancellation")
	}
}

func TestSubscribeNeverEmitsOnPersistentReadFailure(t *testing.T) {
	src := NewRedisSource(unreachableClient(), 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := src.Subscribe(ctx, "index:price", 5*time.Millisecond)
	assert.NoError(t, err)

	select {
	case tick := <-ch:
		t.Fatalf("unexpected tick from an unreachable backing store: %+v", tick)
	case <-time.After(50 * time.Millisecond):
	}
}
