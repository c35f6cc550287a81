package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zsiec/hoststream/internal/futex"
	"github.com/zsiec/hoststream/internal/layout"
)

var (
	// ErrFull is returned by TryPush when no slot is free.
	ErrFull = errors.New("queue: full")
	// ErrEmpty is returned by TryPop when nothing is queued.
	ErrEmpty = errors.New("queue: empty")
	// ErrTooLarge reports a payload longer than the slot capacity.
	ErrTooLarge = errors.New("queue: payload exceeds slot capacity")
)

// Header field offsets. Producer-owned and consumer-owned words sit on
// separate cache lines from the read-only geometry.
const (
	offMagic        = 0
	offKind         = 4
	offDepth        = 8
	offSlotCapacity = 12
	offDiscipline   = 16

	offIn       = 64 // uint64, producer count
	offDataSeq  = 72 // uint32, bumped after every publish
	offOut      = 80 // uint64, consumer count
	offSpaceSeq = 88 // uint32, bumped after every consume
	offLock     = 96 // uint32, ordered discipline only

	offOrder   = 128 // [depth]int32, ordered discipline only
	headerSize = 128

	queueMagic = 0x51554555 // "QUEU"
)

// Slot header field offsets, relative to the slot start.
const (
	slotLength   = 0  // uint32
	slotFlags    = 4  // uint32
	slotIndex    = 8  // uint64
	slotDuration = 16 // int64, nanoseconds
	slotKind     = 24 // uint32

	slotHeaderSize = 32
)

const (
	flagKeyFrame = 1 << 0
	flagControl  = 1 << 1
)

// Meta is the per-packet metadata stored alongside the payload.
type Meta struct {
	KeyFrame bool
	// Control marks a multiplexed control record rather than payload.
	Control  bool
	Kind     Kind
	Index    uint64
	Duration time.Duration
}

// Packet is a payload and its metadata.
type Packet struct {
	Meta
	Payload []byte
}

// Queue is one direction of a channel. Exactly one goroutine may push and
// exactly one may pop at a time, possibly in different processes.
type Queue interface {
	// Push copies payload into a free slot, blocking while the queue is
	// full.
	Push(ctx context.Context, payload []byte, meta Meta) error
	// TryPush is Push without blocking; it returns ErrFull.
	TryPush(payload []byte, meta Meta) error
	// Pop removes the oldest packet, blocking while the queue is empty.
	Pop(ctx context.Context) (Packet, error)
	// PopInto copies the oldest packet's payload into dst and returns its
	// metadata and length. If dst is too short nothing is consumed and the
	// error is io.ErrShortBuffer with the required length.
	PopInto(ctx context.Context, dst []byte) (Meta, int, error)
	// TryPop is Pop without blocking; it returns ErrEmpty.
	TryPop() (Packet, error)
	// Peek reports whether a packet is waiting.
	Peek() bool
	// Len returns the number of queued packets.
	Len() int
	// Cap returns the depth.
	Cap() int
	// Spec returns the queue geometry.
	Spec() Spec
	// Resync discards everything queued, so the consumer continues from
	// the newest packet published after the call.
	Resync()
}

type config struct {
	poll  time.Duration
	alive func() error
	log   *slog.Logger
}

// Option configures a queue handle.
type Option func(*config)

// WithPollInterval bounds each blocking wait.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) { c.poll = d }
}

// WithAlive installs a liveness check polled between waits, typically the
// owning segment's Alive method.
func WithAlive(fn func() error) Option {
	return func(c *config) { c.alive = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.log = l }
}

// Format initializes r as an empty queue with the given geometry and returns
// a handle to it. Only the process that creates the region formats it.
func Format(r layout.Region, spec Spec, opts ...Option) (Queue, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if r.Len() < spec.Size() {
		return nil, fmt.Errorf("%w: %s queue needs %d bytes, region has %d", layout.ErrLayout, spec.Kind, spec.Size(), r.Len())
	}
	hdr := r.Sub(0, headerSize)
	hdr.Zero()
	hdr.Store32(offKind, uint32(spec.Kind))
	hdr.Store32(offDepth, uint32(spec.Depth))
	hdr.Store32(offSlotCapacity, uint32(spec.SlotCapacity))
	hdr.Store32(offDiscipline, uint32(spec.Discipline))
	q := build(r, spec, opts)
	if o, ok := q.(*ordered); ok {
		o.reset()
	}
	hdr.Store32(offMagic, queueMagic)
	return q, nil
}

// Attach returns a handle to a queue some process already formatted in r.
// The stored geometry must match spec.
func Attach(r layout.Region, spec Spec, opts ...Option) (Queue, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if r.Len() < spec.Size() {
		return nil, fmt.Errorf("%w: %s queue needs %d bytes, region has %d", layout.ErrLayout, spec.Kind, spec.Size(), r.Len())
	}
	if m := r.Load32(offMagic); m != queueMagic {
		return nil, fmt.Errorf("%w: %s queue is not formatted", layout.ErrLayout, spec.Kind)
	}
	stored := Spec{
		Kind:         Kind(r.Load32(offKind)),
		Depth:        int(r.Load32(offDepth)),
		SlotCapacity: int(r.Load32(offSlotCapacity)),
		Discipline:   Discipline(r.Load32(offDiscipline)),
	}
	if stored != spec {
		return nil, fmt.Errorf("%w: stored queue %+v, want %+v", layout.ErrLayout, stored, spec)
	}
	return build(r, spec, opts), nil
}

func build(r layout.Region, spec Spec, opts []Option) Queue {
	c := config{poll: futex.DefaultPollInterval}
	for _, fn := range opts {
		fn(&c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	b := base{
		r:    r,
		spec: spec,
		cfg:  c,
		log:  c.log.With("component", "queue", "channel", spec.Kind.String()),
	}
	if spec.Discipline == Ordered {
		return newOrdered(b)
	}
	return &monotonic{base: b}
}

// base holds what both disciplines share: the region, the slot codec, and
// the blocking-wait loop.
type base struct {
	r    layout.Region
	spec Spec
	cfg  config
	log  *slog.Logger
}

func (b *base) Spec() Spec { return b.spec }
func (b *base) Cap() int   { return b.spec.Depth }

func (b *base) slot(i int) layout.Region {
	stride := b.spec.slotStride()
	return b.r.Sub(b.spec.slotsOffset()+i*stride, stride)
}

func (b *base) checkPayload(payload []byte) error {
	if len(payload) > b.spec.SlotCapacity {
		return fmt.Errorf("%w: %d bytes into %d-byte %s slot", ErrTooLarge, len(payload), b.spec.SlotCapacity, b.spec.Kind)
	}
	return nil
}

func (b *base) writeSlot(i int, payload []byte, meta Meta) {
	s := b.slot(i)
	copy(s.Bytes(slotHeaderSize, len(payload)), payload)
	var flags uint32
	if meta.KeyFrame {
		flags |= flagKeyFrame
	}
	if meta.Control {
		flags |= flagControl
	}
	s.Store32(slotFlags, flags)
	s.Store64(slotIndex, meta.Index)
	s.Store64(slotDuration, uint64(meta.Duration))
	s.Store32(slotKind, uint32(b.spec.Kind))
	s.Store32(slotLength, uint32(len(payload)))
}

// slotLen returns the stored payload length, validated against the
// capacity so a corrupt length never reads past the slot.
func (b *base) slotLen(i int) (int, error) {
	n := int(b.slot(i).Load32(slotLength))
	if n > b.spec.SlotCapacity {
		b.log.Warn("dropping slot with corrupt length", "slot", i, "length", n)
		return 0, fmt.Errorf("%w: %s slot %d claims %d bytes", layout.ErrLayout, b.spec.Kind, i, n)
	}
	return n, nil
}

func (b *base) readSlot(i int, dst []byte) Meta {
	s := b.slot(i)
	n := int(s.Load32(slotLength))
	copy(dst, s.Bytes(slotHeaderSize, n))
	flags := s.Load32(slotFlags)
	return Meta{
		KeyFrame: flags&flagKeyFrame != 0,
		Control:  flags&flagControl != 0,
		Kind:     Kind(s.Load32(slotKind)),
		Index:    s.Load64(slotIndex),
		Duration: time.Duration(int64(s.Load64(slotDuration))),
	}
}

func (b *base) wait(ctx context.Context, seqOff int, ready func() bool) error {
	return futex.Until(ctx, b.r.Word(seqOff), b.cfg.poll, ready, b.cfg.alive)
}

func (b *base) signal(seqOff int) {
	futex.Signal(b.r.Word(seqOff))
}

// pusher and popper are the discipline-specific halves. The blocking
// methods are written once on top of them.
type pusher interface {
	TryPush(payload []byte, meta Meta) error
	Peek() bool
	full() bool
}

func push(ctx context.Context, b *base, q pusher, payload []byte, meta Meta) error {
	for {
		err := q.TryPush(payload, meta)
		if !errors.Is(err, ErrFull) {
			return err
		}
		if err := b.wait(ctx, offSpaceSeq, func() bool { return !q.full() }); err != nil {
			return err
		}
	}
}

type popper interface {
	tryPopInto(dst []byte) (Meta, int, error)
	headLen() (int, error)
	Peek() bool
}

func popInto(ctx context.Context, b *base, q popper, dst []byte) (Meta, int, error) {
	for {
		meta, n, err := q.tryPopInto(dst)
		if !errors.Is(err, ErrEmpty) {
			return meta, n, err
		}
		if err := b.wait(ctx, offDataSeq, q.Peek); err != nil {
			return Meta{}, 0, err
		}
	}
}

func pop(ctx context.Context, b *base, q popper) (Packet, error) {
	for {
		if err := b.wait(ctx, offDataSeq, q.Peek); err != nil {
			return Packet{}, err
		}
		n, err := q.headLen()
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if err != nil {
			return Packet{}, err
		}
		buf := make([]byte, n)
		meta, got, err := q.tryPopInto(buf)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Meta: meta, Payload: buf[:got]}, nil
	}
}

func tryPop(q popper) (Packet, error) {
	n, err := q.headLen()
	if err != nil {
		return Packet{}, err
	}
	buf := make([]byte, n)
	meta, got, err := q.tryPopInto(buf)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Meta: meta, Payload: buf[:got]}, nil
}
