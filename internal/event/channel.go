package event

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/zsiec/hoststream/internal/futex"
	"github.com/zsiec/hoststream/internal/layout"
)

// DataType tags the bytes attached to an event.
type DataType uint32

const (
	Number DataType = iota
	HDRInfo
	Text
)

// MaxData is the largest attachment an event can carry.
const MaxData = 256

// ErrTooLarge reports an attachment longer than MaxData.
var ErrTooLarge = errors.New("event: attachment too large")

// Event is one raised signal.
type Event struct {
	Kind  Kind
	Value int32
	Type  DataType
	Data  []byte
}

// Slot field offsets.
const (
	offSeq      = 0  // uint32, odd while a write is in progress
	offUnread   = 4  // uint32, seq of the pending raise, 0 once read
	offValue    = 8  // int32
	offDataType = 12 // uint32
	offDataLen  = 16 // uint32
	offLock     = 20 // uint32, serializes writers of one slot
	offData     = 32 // [MaxData]byte

	slotSize = 320
)

// TableSize is the number of bytes a Channel occupies.
const TableSize = numKinds * slotSize

// Channel is a table of last-write-wins event slots.
type Channel struct {
	r     layout.Region
	poll  time.Duration
	alive func() error
}

// Option configures a Channel.
type Option func(*Channel)

// WithPollInterval bounds each wait.
func WithPollInterval(d time.Duration) Option {
	return func(c *Channel) { c.poll = d }
}

// WithAlive installs a liveness check polled between waits.
func WithAlive(fn func() error) Option {
	return func(c *Channel) { c.alive = fn }
}

// New returns a Channel over r, which must be TableSize bytes and either
// zeroed or shared with a Channel that has been in use.
func New(r layout.Region, opts ...Option) (*Channel, error) {
	if r.Len() < TableSize {
		return nil, fmt.Errorf("%w: event table needs %d bytes, region has %d", layout.ErrLayout, TableSize, r.Len())
	}
	c := &Channel{r: r.Sub(0, TableSize), poll: futex.DefaultPollInterval}
	for _, fn := range opts {
		fn(c)
	}
	return c, nil
}

// NewLocal returns a Channel backed by process memory, for signals that
// never leave the process.
func NewLocal(opts ...Option) *Channel {
	c, _ := New(layout.Heap(TableSize), opts...)
	return c
}

func (c *Channel) slot(k Kind) (layout.Region, bool) {
	if int(k) >= numKinds {
		return layout.Region{}, false
	}
	return c.r.Sub(int(k)*slotSize, slotSize), true
}

// Raise overwrites the slot for ev.Kind and marks it unread.
func (c *Channel) Raise(ev Event) error {
	s, ok := c.slot(ev.Kind)
	if !ok {
		return fmt.Errorf("raise: unknown %s", ev.Kind)
	}
	if len(ev.Data) > MaxData {
		return fmt.Errorf("%w: %d bytes for %s", ErrTooLarge, len(ev.Data), ev.Kind)
	}

	lock := layout.NewSpinLock(s, offLock)
	lock.Lock()
	seq := s.Load32(offSeq)
	s.Store32(offSeq, seq+1)
	s.StoreInt32(offValue, ev.Value)
	s.Store32(offDataType, uint32(ev.Type))
	s.Store32(offDataLen, uint32(len(ev.Data)))
	copy(s.Bytes(offData, len(ev.Data)), ev.Data)
	next := seq + 2
	if next == 0 {
		// Zero means "read"; skip it on wraparound.
		next = 2
	}
	s.Store32(offSeq, next)
	s.Store32(offUnread, next)
	lock.Unlock()

	futex.Wake(s.Word(offUnread))
	return nil
}

// Peek reports whether k has an unread event.
func (c *Channel) Peek(k Kind) bool {
	s, ok := c.slot(k)
	return ok && s.Load32(offUnread) != 0
}

// Pop returns the last event raised for k and marks it read. It returns
// false when nothing is unread.
func (c *Channel) Pop(k Kind) (Event, bool) {
	s, ok := c.slot(k)
	if !ok {
		return Event{}, false
	}
	for {
		pending := s.Load32(offUnread)
		if pending == 0 {
			return Event{}, false
		}
		ev, seq, ok := read(s, k)
		if !ok || seq != pending {
			// A raise is in flight or just landed; its unread store
			// follows shortly.
			runtime.Gosched()
			continue
		}
		// Fails only if a newer raise published in the meantime, which
		// then becomes the event to return.
		if s.CAS32(offUnread, pending, 0) {
			return ev, true
		}
	}
}

func read(s layout.Region, k Kind) (Event, uint32, bool) {
	before := s.Load32(offSeq)
	if before&1 != 0 {
		return Event{}, 0, false
	}
	n := int(s.Load32(offDataLen))
	if n > MaxData {
		n = MaxData
	}
	ev := Event{
		Kind:  k,
		Value: s.LoadInt32(offValue),
		Type:  DataType(s.Load32(offDataType)),
	}
	if n > 0 {
		ev.Data = append([]byte(nil), s.Bytes(offData, n)...)
	}
	if s.Load32(offSeq) != before {
		return Event{}, 0, false
	}
	return ev, before, true
}

// Wait blocks until k has an unread event, ctx is done, or the liveness
// check fails. It does not consume the event.
func (c *Channel) Wait(ctx context.Context, k Kind) error {
	s, ok := c.slot(k)
	if !ok {
		return fmt.Errorf("wait: unknown %s", k)
	}
	return futex.Until(ctx, s.Word(offUnread), c.poll, func() bool { return c.Peek(k) }, c.alive)
}

// RaiseValue raises a numeric event.
func (c *Channel) RaiseValue(k Kind, v int32) error {
	return c.Raise(Event{Kind: k, Value: v})
}
