package pump

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zsiec/hoststream/internal/event"
	"github.com/zsiec/hoststream/internal/mailbox"
	"github.com/zsiec/hoststream/internal/media"
	"github.com/zsiec/hoststream/internal/metadata"
	"github.com/zsiec/hoststream/internal/nal"
	"github.com/zsiec/hoststream/internal/queue"
)

// DefaultTick is how often idle loops re-check events and shutdown.
const DefaultTick = 10 * time.Millisecond

// downstream lists the shared events the capture side forwards to the
// encoder through the mailbox.
var downstream = []event.Kind{
	event.IdrFrame,
	event.ChangeBitrate,
	event.ChangeFramerate,
	event.PointerVisible,
	event.ChangeDisplay,
}

// Push drains the mailbox into the shared queues. Video is drained fully
// before audio on every pass so the more frequent audio packets cannot
// starve it.
type Push struct {
	Mailbox *mailbox.Mailbox
	Video   queue.Queue
	// Audio is optional.
	Audio queue.Queue
	// VideoMeta, when set, is marked active while the loop runs and gets
	// the codec and coded size of the stream.
	VideoMeta *metadata.Block
	// Events is the shared event table.
	Events *event.Channel
	// Patcher prepends parameter sets to key frames that lack them. A nil
	// Patcher disables patching.
	Patcher *nal.Patcher
	Stats   *Stats
	Tick    time.Duration
	Log     *slog.Logger

	log          *slog.Logger
	video, audio channelClock
}

// channelClock derives the per-slot index and duration of one channel.
type channelClock struct {
	index  uint64
	last   time.Duration
	primed bool
}

func (c *channelClock) next(ts time.Duration) (uint64, time.Duration) {
	var d time.Duration
	if c.primed && ts > c.last {
		d = ts - c.last
	}
	c.last, c.primed = ts, true
	idx := c.index
	c.index++
	return idx, d
}

// Run is a Worker. It returns nil when ctx is done, the mailbox shuts down,
// or a peer raises Stop. Any other failure raises Stop before returning so
// the delivery side does not wait on a dead producer.
func (p *Push) Run(ctx context.Context) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "push")
	p.log = log
	tick := p.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	if p.VideoMeta != nil {
		p.VideoMeta.SetActive(true)
		defer p.VideoMeta.SetActive(false)
		if p.Patcher != nil && p.Patcher.OnSPS == nil {
			p.Patcher.OnSPS = func(s nal.SPS) {
				log.Info("video size changed", "width", s.Width, "height", s.Height, "codec", s.CodecString())
				p.VideoMeta.SetSize(int32(s.Width), int32(s.Height))
			}
		}
	}

	timer := time.NewTimer(tick)
	defer timer.Stop()
	for {
		if p.Events.Peek(event.Stop) {
			log.Info("stop requested by peer")
			return nil
		}
		p.forwardEvents()

		if err := p.drain(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("push failed, stopping peer", "error", err)
			p.Events.RaiseValue(event.Stop, 1)
			return err
		}

		timer.Reset(tick)
		select {
		case <-ctx.Done():
			return nil
		case <-p.Mailbox.Done():
			return nil
		case <-p.Mailbox.Ready():
		case <-timer.C:
		}
	}
}

func (p *Push) forwardEvents() {
	for _, k := range downstream {
		if ev, ok := p.Events.Pop(k); ok {
			p.Mailbox.Signals.Raise(ev)
			if p.Stats != nil {
				p.Stats.Events.Add(1)
			}
		}
	}
}

func (p *Push) drain(ctx context.Context) error {
	for {
		f, ok := p.Mailbox.NextVideo()
		if !ok {
			break
		}
		if err := p.pushVideo(ctx, f); err != nil {
			return err
		}
	}
	for {
		f, ok := p.Mailbox.NextAudio()
		if !ok {
			return nil
		}
		if p.Audio == nil {
			continue
		}
		idx, d := p.audio.next(f.Timestamp)
		meta := queue.Meta{Kind: queue.Audio, Index: idx, Duration: d}
		if err := p.push(ctx, p.Audio, f.Data, meta); err != nil {
			return fmt.Errorf("audio: %w", err)
		}
	}
}

func (p *Push) pushVideo(ctx context.Context, f media.VideoFrame) error {
	data, key := f.Data, f.IsKeyframe
	if p.Patcher != nil && f.Codec.UsesParameterSets() {
		patched, detected := p.Patcher.Patch(f.Codec, f.Data)
		if len(patched) != len(f.Data) && p.Stats != nil {
			p.Stats.Patched.Add(1)
		}
		data, key = patched, key || detected
	}
	if p.VideoMeta != nil && p.VideoMeta.Codec() != f.Codec {
		p.VideoMeta.SetCodec(f.Codec)
	}
	idx, d := p.video.next(f.Timestamp)
	meta := queue.Meta{KeyFrame: key, Kind: queue.Video, Index: idx, Duration: d}
	if err := p.push(ctx, p.Video, data, meta); err != nil {
		return fmt.Errorf("video frame %d: %w", idx, err)
	}
	return nil
}

func (p *Push) push(ctx context.Context, q queue.Queue, payload []byte, meta queue.Meta) error {
	err := q.Push(ctx, payload, meta)
	if errors.Is(err, queue.ErrTooLarge) {
		// Dropped; the stream continues with the next frame.
		p.log.Warn("dropping oversized packet", "channel", meta.Kind.String(), "size", len(payload))
		if p.Stats != nil {
			p.Stats.Errors.Add(1)
		}
		return nil
	}
	if err != nil {
		return err
	}
	p.Stats.packet(len(payload), meta.KeyFrame)
	return nil
}
