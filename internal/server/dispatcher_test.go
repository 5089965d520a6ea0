package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestDispatcherCloseDrainsQueue(t *testing.T) {
	release := make(chan struct{})
	var ran atomic.Int32
	d := NewDispatcher(context.Background(), 2, 10, func(context.Context, Job) {
		<-release
		ran.Add(1)
	})
	for i := range 6 {
		if err := d.Submit(Job{Token: string(rune('a' + i))}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	close(release)
	d.Close()
	if got := ran.Load(); got != 6 {
		t.Fatalf("ran %d jobs, want 6", got)
	}
	if err := d.Submit(Job{Token: "late"}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("Submit after Close = %v, want ErrDispatcherClosed", err)
	}
	d.Close()
}

func TestDispatcherQueueFull(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	d := NewDispatcher(context.Background(), 1, 1, func(context.Context, Job) {
		started <- struct{}{}
		<-release
	})
	defer d.Close()
	defer close(release)

	if err := d.Submit(Job{Token: "running"}); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := d.Submit(Job{Token: "queued"}); err != nil {
		t.Fatal(err)
	}
	if d.Depth() != 1 {
		t.Fatalf("Depth() = %d, want 1", d.Depth())
	}
	if err := d.Submit(Job{Token: "rejected"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit on full queue = %v, want ErrQueueFull", err)
	}
}

func TestDispatcherPassesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var sawCancelled atomic.Bool
	d := NewDispatcher(ctx, 1, 1, func(ctx context.Context, _ Job) {
		sawCancelled.Store(ctx.Err() != nil)
	})
	if err := d.Submit(Job{Token: "x"}); err != nil {
		t.Fatal(err)
	}
	d.Close()
	if !sawCancelled.Load() {
		t.Fatal("job should observe the dispatcher context")
	}
}
