package pump

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zsiec/hoststream/internal/event"
	"github.com/zsiec/hoststream/internal/metadata"
	"github.com/zsiec/hoststream/internal/queue"
	"github.com/zsiec/hoststream/internal/sink"
)

// upstream lists the board events the delivery side forwards unchanged to
// the capture side.
var upstream = []event.Kind{
	event.IdrFrame,
	event.ChangeFramerate,
	event.PointerVisible,
	event.ChangeDisplay,
}

// Pull drains one shared queue into a sink.
//
// When Board is set the loop also owns bitrate adaptation: ChangeBitrate
// on the board sets the adapter step and BufferOverflow backs it off; the
// resulting target is raised as ChangeBitrate on the shared table. Other
// requests on the board are forwarded as is. Only one Pull per process
// should be given the board.
type Pull struct {
	Queue queue.Queue
	Sink  sink.Sink
	// Meta, when set, is marked active while the loop runs.
	Meta *metadata.Block
	// Events is the shared event table.
	Events *event.Channel
	// Board is the local control and congestion board.
	Board   *event.Channel
	Adapter *BitrateAdapter
	// Resync drops whatever is queued when the loop starts.
	Resync bool
	Stats  *Stats
	Tick   time.Duration
	Log    *slog.Logger
}

// Run is a Worker. It returns nil when ctx is done or Stop is raised on
// either table. A sink failure raises Stop before returning.
func (p *Pull) Run(ctx context.Context) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "pull", "channel", p.Queue.Spec().Kind.String())
	tick := p.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	if p.Board != nil && p.Adapter == nil {
		p.Adapter = NewBitrateAdapter(MinBitrateStep)
	}
	if p.Resync {
		p.Queue.Resync()
	}
	if p.Meta != nil {
		p.Meta.SetActive(true)
		defer p.Meta.SetActive(false)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if p.Events.Peek(event.Stop) {
			log.Info("stop requested by peer")
			return nil
		}
		if p.Board != nil {
			if p.control(log) {
				return nil
			}
		}

		pkt, err := p.pop(ctx, tick)
		if errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pop %s: %w", p.Queue.Spec().Kind, err)
		}

		if err := p.Sink.Send(ctx, pkt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if p.Stats != nil {
				p.Stats.Errors.Add(1)
			}
			log.Error("send failed, stopping peer", "error", err)
			p.Events.RaiseValue(event.Stop, 1)
			return fmt.Errorf("send %s packet %d: %w", pkt.Kind, pkt.Index, err)
		}
		p.Stats.packet(len(pkt.Payload), pkt.KeyFrame)
	}
}

// pop waits at most tick for a packet. It returns DeadlineExceeded, with
// ctx still live, when nothing arrived.
func (p *Pull) pop(ctx context.Context, tick time.Duration) (queue.Packet, error) {
	if pkt, err := p.Queue.TryPop(); !errors.Is(err, queue.ErrEmpty) {
		return pkt, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, tick)
	defer cancel()
	pkt, err := p.Queue.Pop(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return queue.Packet{}, ctx.Err()
	}
	return pkt, err
}

// control applies pending board events and reports whether the board
// asked the loop to stop.
func (p *Pull) control(log *slog.Logger) bool {
	if _, ok := p.Board.Pop(event.Stop); ok {
		log.Info("stop requested locally")
		p.Events.RaiseValue(event.Stop, 1)
		return true
	}
	if ev, ok := p.Board.Pop(event.ChangeBitrate); ok {
		target := p.Adapter.Set(ev.Value)
		log.Info("bitrate requested", "step", ev.Value, "target_kbps", target)
		p.raise(log, event.Event{Kind: event.ChangeBitrate, Value: target})
	}
	if _, ok := p.Board.Pop(event.BufferOverflow); ok {
		target := p.Adapter.Overflow()
		log.Warn("send buffer overflow, backing off", "step", p.Adapter.Step(), "target_kbps", target)
		p.raise(log, event.Event{Kind: event.ChangeBitrate, Value: target})
	}
	for _, k := range upstream {
		if ev, ok := p.Board.Pop(k); ok {
			p.raise(log, ev)
		}
	}
	return false
}

func (p *Pull) raise(log *slog.Logger, ev event.Event) {
	if err := p.Events.Raise(ev); err != nil {
		log.Warn("dropping event", "kind", ev.Kind.String(), "error", err)
		return
	}
	if p.Stats != nil {
		p.Stats.Events.Add(1)
	}
}
