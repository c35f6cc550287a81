// Package source stands in for the capture encoder: it replays an Annex B
// elementary stream from disk into the mailbox at a fixed frame rate and
// answers the encoder-side signals the pump forwards.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/zsiec/hoststream/internal/event"
	"github.com/zsiec/hoststream/internal/mailbox"
	"github.com/zsiec/hoststream/internal/media"
	"github.com/zsiec/hoststream/internal/nal"
)

// ErrNoEncoder reports that no usable frame source could be started.
var ErrNoEncoder = errors.New("source: no working encoder")

// DefaultFPS is used when Replay.FPS is unset.
const DefaultFPS = 30

// Load reads an Annex B file and splits it into access units. A file that
// is missing or holds no frames is ErrNoEncoder.
func Load(path string, codec media.Codec) ([]media.VideoFrame, error) {
	if codec != media.H264 && codec != media.H265 {
		return nil, fmt.Errorf("%w: cannot replay %s", ErrNoEncoder, codec)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoEncoder, err)
	}
	aus := nal.AccessUnits(codec, data)
	if len(aus) == 0 {
		return nil, fmt.Errorf("%w: %s has no access units", ErrNoEncoder, path)
	}
	frames := make([]media.VideoFrame, len(aus))
	for i, au := range aus {
		frames[i] = media.VideoFrame{Data: au, Codec: codec, IsKeyframe: nal.ContainsKeyframe(codec, au)}
	}
	return frames, nil
}

// Replay publishes Frames into Mailbox, one every 1/FPS. An IdrFrame
// signal skips ahead to the next key frame; ChangeFramerate retimes the
// replay. When Loop is set the stream restarts after the last frame,
// otherwise Run returns nil.
type Replay struct {
	Frames  []media.VideoFrame
	Mailbox *mailbox.Mailbox
	FPS     int
	Loop    bool
	Log     *slog.Logger
}

// Run replays until ctx is done, the mailbox shuts down, or the frames
// run out.
func (r *Replay) Run(ctx context.Context) error {
	if len(r.Frames) == 0 {
		return ErrNoEncoder
	}
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "replay")
	fps := r.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}

	start := time.Now()
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for i := 0; ; {
		select {
		case <-ctx.Done():
			return nil
		case <-r.Mailbox.Done():
			return nil
		case <-ticker.C:
		}

		if ev, ok := r.Mailbox.Signals.Pop(event.ChangeFramerate); ok && ev.Value > 0 && int(ev.Value) != fps {
			fps = int(ev.Value)
			ticker.Reset(time.Second / time.Duration(fps))
			log.Info("framerate changed", "fps", fps)
		}
		if ev, ok := r.Mailbox.Signals.Pop(event.ChangeBitrate); ok {
			log.Debug("bitrate requested", "kbps", ev.Value)
		}
		if _, ok := r.Mailbox.Signals.Pop(event.IdrFrame); ok {
			i = r.nextKeyframe(i)
			log.Debug("key frame requested", "frame", i)
		}

		f := r.Frames[i]
		f.Timestamp = time.Since(start)
		r.Mailbox.PublishVideo(f)

		i++
		if i == len(r.Frames) {
			if !r.Loop {
				return nil
			}
			i = 0
		}
	}
}

// nextKeyframe returns the index of the first key frame at or after i,
// wrapping once. It returns i when the stream has none.
func (r *Replay) nextKeyframe(i int) int {
	for n := range len(r.Frames) {
		j := (i + n) % len(r.Frames)
		if r.Frames[j].IsKeyframe {
			return j
		}
	}
	return i
}
