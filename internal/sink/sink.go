// Package sink delivers packets popped from the shared queues to the
// network. Sinks report congestion by raising event.BufferOverflow on the
// board they were given; the bitrate adapter on the delivery side reacts to
// it.
package sink

import (
	"context"
	"errors"
	"time"

	"github.com/zsiec/hoststream/internal/event"
	"github.com/zsiec/hoststream/internal/queue"
)

// ErrUnavailable reports a receiver that could not be reached.
var ErrUnavailable = errors.New("sink: receiver unavailable")

// DefaultSlowWrite is how long a single send may take before the sink
// reports congestion.
const DefaultSlowWrite = 50 * time.Millisecond

// Sink accepts packets for delivery. Send may be called from several
// goroutines, one per channel.
type Sink interface {
	Send(ctx context.Context, pkt queue.Packet) error
	Close() error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, pkt queue.Packet) error

func (f Func) Send(ctx context.Context, pkt queue.Packet) error { return f(ctx, pkt) }

func (f Func) Close() error { return nil }

// Discard drops every packet.
var Discard Sink = Func(func(context.Context, queue.Packet) error { return nil })

// congestion raises BufferOverflow on board when a send ran longer than
// limit. A nil board disables reporting.
type congestion struct {
	board *event.Channel
	limit time.Duration
}

func (c congestion) observe(start time.Time) bool {
	if c.board == nil || c.limit <= 0 || time.Since(start) < c.limit {
		return false
	}
	c.overflow()
	return true
}

func (c congestion) overflow() {
	if c.board != nil {
		c.board.RaiseValue(event.BufferOverflow, 1)
	}
}
