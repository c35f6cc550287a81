package pump

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGroupGoAndWorkers(t *testing.T) {
	t.Parallel()
	g := New(context.Background(), nil)

	release := make(chan struct{})
	block := func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
	if !g.Go("pull-video", block) {
		t.Fatal("Go returned false for a new worker")
	}
	if g.Go("pull-video", block) {
		t.Error("duplicate worker name accepted")
	}
	g.Go("push", block)

	workers := g.Workers()
	if len(workers) != 2 || workers[0].Name != "pull-video" || workers[1].Name != "push" {
		t.Fatalf("Workers: got %+v", workers)
	}
	if workers[0].StartedAt.IsZero() {
		t.Error("StartedAt should not be zero")
	}

	close(release)
	if err := g.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n := len(g.Workers()); n != 0 {
		t.Errorf("workers after Wait: got %d, want 0", n)
	}
}

func TestGroupFailureCancelsPeers(t *testing.T) {
	t.Parallel()
	g := New(context.Background(), nil)
	boom := errors.New("boom")

	g.Go("peer", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	g.Go("failing", func(context.Context) error { return boom })

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Errorf("Wait: got %v, want boom", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("peer was not cancelled")
	}
}

func TestGroupShutdown(t *testing.T) {
	t.Parallel()
	g := New(context.Background(), nil)
	g.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	g.Shutdown()
	if err := g.Wait(); err != nil {
		t.Errorf("Wait after Shutdown: %v", err)
	}
	if g.Context().Err() == nil {
		t.Error("context still live after Shutdown")
	}
}
