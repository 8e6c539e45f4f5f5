package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestPauserLocalFallback(t *testing.T) {
	ctx := context.Background()
	p := NewPauser(nil)

	if p.IsPaused(ctx) {
		t.Error("new pauser should not be paused")
	}
	if err := p.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !p.IsPaused(ctx) {
		t.Error("pause did not take effect")
	}
	if err := p.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if p.IsPaused(ctx) {
		t.Error("resume did not take effect")
	}
}

func TestPauserSharedViaRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	a := NewPauser(rdb)
	b := NewPauser(rdb)

	if err := a.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	// A second process sees the flag through Redis.
	if !b.IsPaused(ctx) {
		t.Error("pause not visible to other pauser")
	}

	if err := a.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if a.IsPaused(ctx) {
		t.Error("resume not visible on the pausing instance")
	}
}
