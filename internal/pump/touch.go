package pump

import (
	"context"
	"log/slog"
	"time"

	"github.com/zsiec/hoststream/internal/event"
	"github.com/zsiec/hoststream/internal/mailbox"
	"github.com/zsiec/hoststream/internal/metadata"
)

// Touch copies the capture geometry the encoder reports through the
// mailbox into the video channel's metadata block, where the delivery side
// reads it to map pointer input.
type Touch struct {
	Mailbox *mailbox.Mailbox
	Meta    *metadata.Block
	Events  *event.Channel
	Tick    time.Duration
	Log     *slog.Logger
}

// Run is a Worker.
func (t *Touch) Run(ctx context.Context) error {
	log := t.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "touch")
	tick := t.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var seen uint64
	for {
		if t.Events != nil && t.Events.Peek(event.Stop) {
			return nil
		}
		if g, v := t.Mailbox.TouchPort(); v != seen {
			seen = v
			if g.Valid() {
				t.Meta.SetGeometry(g)
				log.Debug("touch port updated", "width", g.Width, "height", g.Height,
					"env_width", g.EnvWidth, "env_height", g.EnvHeight)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.Mailbox.Done():
			return nil
		case <-t.Mailbox.TouchChanged():
		case <-ticker.C:
		}
	}
}
