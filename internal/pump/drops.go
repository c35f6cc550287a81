package pump

import (
	"context"
	"log/slog"
	"time"

	"github.com/zsiec/hoststream/internal/event"
	"github.com/zsiec/hoststream/internal/mailbox"
)

// DefaultDropInterval is how often a DropMonitor samples the mailbox.
const DefaultDropInterval = time.Second

// DropMonitor reports encoder-side congestion to the delivery side. When
// the mailbox dropped video frames since the last sample it sends
// BufferOverflow through Uplink, which the delivery side raises on its
// board so the bitrate adapter backs off.
type DropMonitor struct {
	Mailbox  *mailbox.Mailbox
	Uplink   *Uplink
	Events   *event.Channel
	Interval time.Duration
	Log      *slog.Logger
}

// Run is a Worker.
func (m *DropMonitor) Run(ctx context.Context) error {
	log := m.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "drops")
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultDropInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last, _ := m.Mailbox.Dropped()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.Mailbox.Done():
			return nil
		case <-ticker.C:
		}
		if m.Events != nil && m.Events.Peek(event.Stop) {
			return nil
		}
		dropped, _ := m.Mailbox.Dropped()
		if dropped == last {
			continue
		}
		log.Warn("mailbox dropped video frames", "count", dropped-last)
		last = dropped
		if err := m.Uplink.TrySendEvent(event.BufferOverflow, 1); err != nil {
			log.Debug("overflow report not queued", "error", err)
		}
	}
}
