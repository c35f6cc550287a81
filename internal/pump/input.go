package pump

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/hoststream/internal/event"
	"github.com/zsiec/hoststream/internal/queue"
)

// Replayer consumes input payloads (pointer, keyboard, touch) on the
// capture side.
type Replayer interface {
	Replay(ctx context.Context, payload []byte) error
}

// ReplayFunc adapts a function to Replayer.
type ReplayFunc func(ctx context.Context, payload []byte) error

func (f ReplayFunc) Replay(ctx context.Context, payload []byte) error { return f(ctx, payload) }

// Demux pops multiplexed records from a queue. Payload records go to
// Replayer; control records are raised on Signals.
type Demux struct {
	Queue    queue.Queue
	Replayer Replayer
	Signals  *event.Channel
	// Events, when set, is checked for Stop.
	Events *event.Channel
	Stats  *Stats
	Tick   time.Duration
	Log    *slog.Logger
}

// Run is a Worker. A record that does not decode is logged and skipped.
func (d *Demux) Run(ctx context.Context) error {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "demux", "channel", d.Queue.Spec().Kind.String())
	tick := d.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	buf := make([]byte, d.Queue.Spec().SlotCapacity)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if d.Events != nil && d.Events.Peek(event.Stop) {
			return nil
		}

		waitCtx, cancel := context.WithTimeout(ctx, tick)
		_, n, err := d.Queue.PopInto(waitCtx, buf)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			continue
		}
		if err != nil {
			return fmt.Errorf("pop %s: %w", d.Queue.Spec().Kind, err)
		}

		rec, err := event.DecodeRecord(buf[:n])
		if err != nil {
			log.Warn("skipping record", "error", err)
			if d.Stats != nil {
				d.Stats.Errors.Add(1)
			}
			continue
		}
		if rec.Control {
			if d.Signals != nil {
				d.Signals.Raise(rec.Event())
			}
			if d.Stats != nil {
				d.Stats.Events.Add(1)
			}
			continue
		}
		if d.Replayer == nil {
			continue
		}
		if err := d.Replayer.Replay(ctx, rec.Payload); err != nil {
			log.Warn("input replay failed", "error", err)
			if d.Stats != nil {
				d.Stats.Errors.Add(1)
			}
			continue
		}
		d.Stats.packet(len(rec.Payload), false)
	}
}

// Uplink writes multiplexed records into a queue. It is the producer half
// of a Demux in the other process. Calls are serialized so the queue keeps
// a single producer.
type Uplink struct {
	Queue queue.Queue

	mu sync.Mutex
}

// SendInput queues an input payload, blocking while the queue is full.
func (u *Uplink) SendInput(ctx context.Context, payload []byte) error {
	return u.push(ctx, event.PayloadRecord(payload), false)
}

// SendEvent queues a compact control record.
func (u *Uplink) SendEvent(ctx context.Context, k event.Kind, value byte) error {
	rec, err := event.EncodeRecord(k, value)
	if err != nil {
		return err
	}
	return u.push(ctx, rec, true)
}

// TrySendEvent is SendEvent without blocking; it returns queue.ErrFull.
func (u *Uplink) TrySendEvent(k event.Kind, value byte) error {
	rec, err := event.EncodeRecord(k, value)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.Queue.TryPush(rec, queue.Meta{Kind: u.Queue.Spec().Kind, Control: true})
}

func (u *Uplink) push(ctx context.Context, rec []byte, control bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.Queue.Push(ctx, rec, queue.Meta{Kind: u.Queue.Spec().Kind, Control: control})
}
