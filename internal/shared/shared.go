// Package shared assembles the shared state record: the event table plus,
// for each channel, a metadata block and a ring queue. The creating process
// formats the record and writes a channel table into its header; the
// opening process reads that table back, so both sides derive identical
// offsets without exchanging configuration.
//
//	[0, headerSize)            magic, channel count, channel table
//	[headerSize, +TableSize)   event table
//	per channel, 64-aligned:   metadata block, then queue
package shared

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zsiec/hoststream/internal/event"
	"github.com/zsiec/hoststream/internal/layout"
	"github.com/zsiec/hoststream/internal/metadata"
	"github.com/zsiec/hoststream/internal/queue"
	"github.com/zsiec/hoststream/internal/segment"
)

const (
	offMagic = 0
	offCount = 4
	offTable = 16

	entrySize     = 32
	entryKind     = 0
	entryDepth    = 4
	entryCapacity = 8
	entryDisc     = 12
	entryMetaOff  = 16 // uint64
	entryQueueOff = 24 // uint64
	maxChannels   = 4
	stateMagic    = 0x53544154 // "STAT"
)

var headerSize = layout.Align(offTable+maxChannels*entrySize, layout.CacheLine)

// Channel is one channel's view of the shared state.
type Channel struct {
	Kind  queue.Kind
	Queue queue.Queue
	Meta  *metadata.Block
}

// State is a formatted or attached shared state record.
type State struct {
	Events   *event.Channel
	channels [maxChannels]*Channel
}

// Channel returns the channel of kind k, if the record has one.
func (s *State) Channel(k queue.Kind) (*Channel, bool) {
	if int(k) >= maxChannels || s.channels[k] == nil {
		return nil, false
	}
	return s.channels[k], true
}

// Channels returns every present channel in kind order.
func (s *State) Channels() []*Channel {
	var out []*Channel
	for _, c := range s.channels {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

type config struct {
	poll  time.Duration
	alive func() error
	log   *slog.Logger
}

// Option configures the queues and event table built over the record.
type Option func(*config)

// WithPollInterval bounds every blocking wait on the record.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) { c.poll = d }
}

// WithAlive installs the liveness check every wait polls.
func WithAlive(fn func() error) Option {
	return func(c *config) { c.alive = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.log = l }
}

func (c config) queueOptions() []queue.Option {
	opts := []queue.Option{queue.WithLogger(c.log)}
	if c.poll > 0 {
		opts = append(opts, queue.WithPollInterval(c.poll))
	}
	if c.alive != nil {
		opts = append(opts, queue.WithAlive(c.alive))
	}
	return opts
}

func (c config) eventOptions() []event.Option {
	var opts []event.Option
	if c.poll > 0 {
		opts = append(opts, event.WithPollInterval(c.poll))
	}
	if c.alive != nil {
		opts = append(opts, event.WithAlive(c.alive))
	}
	return opts
}

func buildConfig(opts []Option) config {
	var c config
	for _, fn := range opts {
		fn(&c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

type placement struct {
	spec     queue.Spec
	metaOff  int
	queueOff int
}

func plan(specs []queue.Spec) ([]placement, int, error) {
	if len(specs) == 0 || len(specs) > maxChannels {
		return nil, 0, fmt.Errorf("state needs 1 to %d channels, got %d", maxChannels, len(specs))
	}
	var seen [maxChannels]bool
	off := headerSize + layout.Align(event.TableSize, layout.CacheLine)
	out := make([]placement, 0, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, 0, err
		}
		if int(spec.Kind) >= maxChannels || seen[spec.Kind] {
			return nil, 0, fmt.Errorf("duplicate or unknown channel %s", spec.Kind)
		}
		seen[spec.Kind] = true
		p := placement{spec: spec, metaOff: off}
		off += layout.Align(metadata.Size, layout.CacheLine)
		p.queueOff = off
		off += layout.Align(spec.Size(), layout.CacheLine)
		out = append(out, p)
	}
	return out, off, nil
}

// Size returns the bytes a record with these channels occupies.
func Size(specs []queue.Spec) (int, error) {
	_, size, err := plan(specs)
	return size, err
}

// Format lays out a fresh record in r.
func Format(r layout.Region, specs []queue.Spec, opts ...Option) (*State, error) {
	places, size, err := plan(specs)
	if err != nil {
		return nil, err
	}
	if r.Len() < size {
		return nil, fmt.Errorf("%w: state needs %d bytes, region has %d", layout.ErrLayout, size, r.Len())
	}
	c := buildConfig(opts)

	r.Sub(0, headerSize+event.TableSize).Zero()
	events, err := event.New(r.Sub(headerSize, event.TableSize), c.eventOptions()...)
	if err != nil {
		return nil, err
	}
	st := &State{Events: events}
	for i, p := range places {
		meta, err := metadata.New(r.Sub(p.metaOff, metadata.Size))
		if err != nil {
			return nil, err
		}
		meta.Reset()
		q, err := queue.Format(r.Sub(p.queueOff, p.spec.Size()), p.spec, c.queueOptions()...)
		if err != nil {
			return nil, err
		}
		st.channels[p.spec.Kind] = &Channel{Kind: p.spec.Kind, Queue: q, Meta: meta}

		e := r.Sub(offTable+i*entrySize, entrySize)
		e.Store32(entryKind, uint32(p.spec.Kind))
		e.Store32(entryDepth, uint32(p.spec.Depth))
		e.Store32(entryCapacity, uint32(p.spec.SlotCapacity))
		e.Store32(entryDisc, uint32(p.spec.Discipline))
		e.Store64(entryMetaOff, uint64(p.metaOff))
		e.Store64(entryQueueOff, uint64(p.queueOff))
	}
	r.Store32(offCount, uint32(len(places)))
	r.Store32(offMagic, stateMagic)
	c.log.Debug("shared state formatted", "channels", len(places), "size", size)
	return st, nil
}

// Attach reads the channel table a creator wrote into r.
func Attach(r layout.Region, opts ...Option) (*State, error) {
	if r.Len() < headerSize+event.TableSize {
		return nil, fmt.Errorf("%w: state region of %d bytes", layout.ErrLayout, r.Len())
	}
	if r.Load32(offMagic) != stateMagic {
		return nil, fmt.Errorf("%w: state record is not formatted", layout.ErrLayout)
	}
	n := int(r.Load32(offCount))
	if n == 0 || n > maxChannels {
		return nil, fmt.Errorf("%w: state records %d channels", layout.ErrLayout, n)
	}
	c := buildConfig(opts)

	events, err := event.New(r.Sub(headerSize, event.TableSize), c.eventOptions()...)
	if err != nil {
		return nil, err
	}
	st := &State{Events: events}
	for i := 0; i < n; i++ {
		e := r.Sub(offTable+i*entrySize, entrySize)
		spec := queue.Spec{
			Kind:         queue.Kind(e.Load32(entryKind)),
			Depth:        int(e.Load32(entryDepth)),
			SlotCapacity: int(e.Load32(entryCapacity)),
			Discipline:   queue.Discipline(e.Load32(entryDisc)),
		}
		if int(spec.Kind) >= maxChannels {
			return nil, fmt.Errorf("%w: channel table entry %d has kind %d", layout.ErrLayout, i, spec.Kind)
		}
		metaOff := int(e.Load64(entryMetaOff))
		queueOff := int(e.Load64(entryQueueOff))
		if !r.Fits(metaOff, metadata.Size) || !r.Fits(queueOff, spec.Size()) {
			return nil, fmt.Errorf("%w: %s channel lies outside the state record", layout.ErrLayout, spec.Kind)
		}
		meta, err := metadata.New(r.Sub(metaOff, metadata.Size))
		if err != nil {
			return nil, err
		}
		q, err := queue.Attach(r.Sub(queueOff, spec.Size()), spec, c.queueOptions()...)
		if err != nil {
			return nil, err
		}
		st.channels[spec.Kind] = &Channel{Kind: spec.Kind, Queue: q, Meta: meta}
	}
	return st, nil
}

// Create allocates a segment sized for specs and formats its state record.
// The segment's liveness check is wired into every wait.
func Create(nameHint string, specs []queue.Spec, segOpts []segment.Option, opts ...Option) (*segment.Segment, *State, error) {
	size, err := Size(specs)
	if err != nil {
		return nil, nil, err
	}
	seg, err := segment.Create(nameHint, size, segOpts...)
	if err != nil {
		return nil, nil, err
	}
	st, err := Format(seg.State(), specs, append([]Option{WithAlive(seg.Alive)}, opts...)...)
	if err != nil {
		seg.Destroy()
		return nil, nil, err
	}
	return seg, st, nil
}

// Open maps the segment named by h and attaches to its state record.
func Open(h segment.Handle, segOpts []segment.Option, opts ...Option) (*segment.Segment, *State, error) {
	seg, err := segment.Open(h, segOpts...)
	if err != nil {
		return nil, nil, err
	}
	return attachSegment(seg, opts)
}

// Await is Open, waiting for the creator when the segment does not exist
// yet.
func Await(ctx context.Context, h segment.Handle, segOpts []segment.Option, opts ...Option) (*segment.Segment, *State, error) {
	seg, err := segment.Await(ctx, h, segOpts...)
	if err != nil {
		return nil, nil, err
	}
	return attachSegment(seg, opts)
}

func attachSegment(seg *segment.Segment, opts []Option) (*segment.Segment, *State, error) {
	st, err := Attach(seg.State(), append([]Option{WithAlive(seg.Alive)}, opts...)...)
	if err != nil {
		seg.Close()
		return nil, nil, err
	}
	return seg, st, nil
}

// DefaultSpecs returns the default geometry of every channel kind.
func DefaultSpecs() []queue.Spec {
	out := make([]queue.Spec, 0, maxChannels)
	for _, k := range queue.Kinds() {
		out = append(out, queue.DefaultSpec(k))
	}
	return out
}
