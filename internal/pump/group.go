package pump

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Worker is a long-lived loop. It returns nil on a normal stop.
type Worker func(ctx context.Context) error

// WorkerInfo describes a running worker.
type WorkerInfo struct {
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
}

// Group owns the workers of one process. The first worker error cancels
// the context every other worker runs under.
type Group struct {
	log    *slog.Logger
	eg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	workers map[string]WorkerInfo
}

// New returns a Group whose workers run under a child of ctx. If log is
// nil, slog.Default() is used.
func New(ctx context.Context, log *slog.Logger) *Group {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{
		log:     log.With("component", "pump"),
		eg:      eg,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]WorkerInfo),
	}
}

// Context returns the context workers run under.
func (g *Group) Context() context.Context { return g.ctx }

// Go starts w under name. It returns false, without starting anything,
// when a worker with that name is already running.
func (g *Group) Go(name string, w Worker) bool {
	g.mu.Lock()
	if _, ok := g.workers[name]; ok {
		g.mu.Unlock()
		g.log.Warn("worker already running, rejecting duplicate", "worker", name)
		return false
	}
	g.workers[name] = WorkerInfo{Name: name, StartedAt: time.Now()}
	g.mu.Unlock()

	g.eg.Go(func() error {
		defer g.remove(name)
		g.log.Debug("worker started", "worker", name)
		err := w(g.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			g.log.Error("worker failed", "worker", name, "error", err)
			return err
		}
		g.log.Debug("worker stopped", "worker", name)
		return nil
	})
	return true
}

func (g *Group) remove(name string) {
	g.mu.Lock()
	delete(g.workers, name)
	g.mu.Unlock()
}

// Workers returns the running workers sorted by name.
func (g *Group) Workers() []WorkerInfo {
	g.mu.RLock()
	out := make([]WorkerInfo, 0, len(g.workers))
	for _, w := range g.workers {
		out = append(out, w)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Shutdown cancels every worker. It does not wait for them.
func (g *Group) Shutdown() { g.cancel() }

// Wait blocks until every worker has returned and reports the first
// failure.
func (g *Group) Wait() error {
	err := g.eg.Wait()
	g.cancel()
	return err
}
