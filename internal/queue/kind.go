package queue

import (
	"fmt"

	"github.com/zsiec/hoststream/internal/layout"
)

// Kind identifies what a queue carries. Each kind has its own default slot
// capacity, depth, and discipline.
type Kind uint32

const (
	Video Kind = iota
	Audio
	Input
	Control
)

// Kinds lists every channel kind in layout order.
func Kinds() []Kind { return []Kind{Video, Audio, Input, Control} }

func (k Kind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	case Input:
		return "input"
	case Control:
		return "control"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown channel kind %q", s)
}

// Discipline selects how producer and consumer coordinate.
type Discipline uint32

const (
	// Monotonic tracks ever-increasing producer and consumer counters and
	// needs no lock. Suited to the high-rate media channels.
	Monotonic Discipline = iota
	// Ordered keeps an order array of occupied slots under a shared spin
	// lock. Suited to small records where slot reuse order must be explicit.
	Ordered
)

func (d Discipline) String() string {
	switch d {
	case Monotonic:
		return "monotonic"
	case Ordered:
		return "ordered"
	default:
		return fmt.Sprintf("discipline(%d)", uint32(d))
	}
}

// ParseDiscipline maps a discipline name back to its Discipline.
func ParseDiscipline(s string) (Discipline, error) {
	for _, d := range []Discipline{Monotonic, Ordered} {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown discipline %q", s)
}

// Spec describes one queue's geometry.
type Spec struct {
	Kind         Kind
	Depth        int
	SlotCapacity int
	Discipline   Discipline
}

// DefaultSpec returns the default geometry for k.
func DefaultSpec(k Kind) Spec {
	switch k {
	case Video:
		return Spec{Kind: Video, Depth: 8, SlotCapacity: 5 << 20, Discipline: Monotonic}
	case Audio:
		return Spec{Kind: Audio, Depth: 16, SlotCapacity: 32 << 10, Discipline: Monotonic}
	case Input:
		return Spec{Kind: Input, Depth: 64, SlotCapacity: 4 << 10, Discipline: Ordered}
	default:
		return Spec{Kind: Control, Depth: 16, SlotCapacity: 256, Discipline: Ordered}
	}
}

// Validate checks the geometry.
func (s Spec) Validate() error {
	if s.Depth <= 0 {
		return fmt.Errorf("%s queue: depth %d must be positive", s.Kind, s.Depth)
	}
	if s.SlotCapacity <= 0 {
		return fmt.Errorf("%s queue: slot capacity %d must be positive", s.Kind, s.SlotCapacity)
	}
	if s.Discipline != Monotonic && s.Discipline != Ordered {
		return fmt.Errorf("%s queue: unknown %s", s.Kind, s.Discipline)
	}
	return nil
}

func (s Spec) slotStride() int {
	return layout.Align(slotHeaderSize+s.SlotCapacity, layout.CacheLine)
}

func (s Spec) slotsOffset() int {
	if s.Discipline == Ordered {
		return layout.Align(headerSize+4*s.Depth, layout.CacheLine)
	}
	return headerSize
}

// Size returns the number of bytes a queue with this geometry occupies.
func (s Spec) Size() int {
	return s.slotsOffset() + s.Depth*s.slotStride()
}
