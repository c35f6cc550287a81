// Package metadata is the per-channel status block shared next to each
// queue: whether a worker is active, the codec in use, and the capture
// geometry the delivery side needs to map pointer input back onto the
// captured display.
//
// Every field is its own atomic 32-bit word. A reader may see a mix of old
// and new fields while a writer updates several; consumers tolerate that.
package metadata

import (
	"fmt"
	"math"

	"github.com/zsiec/hoststream/internal/layout"
	"github.com/zsiec/hoststream/internal/media"
)

const (
	offActive        = 0
	offCodec         = 4
	offEnvWidth      = 8
	offEnvHeight     = 12
	offWidth         = 16
	offHeight        = 20
	offClientOffsetX = 24
	offClientOffsetY = 28
	offOffsetX       = 32
	offOffsetY       = 36
	offScalarInv     = 40 // float32 bits

	// Size is the block size.
	Size = 64
)

// Geometry is the capture-to-client coordinate mapping.
type Geometry struct {
	EnvWidth, EnvHeight          int32
	Width, Height                int32
	ClientOffsetX, ClientOffsetY int32
	OffsetX, OffsetY             int32
	ScalarInv                    float32
}

// Valid reports whether the geometry describes a real capture surface.
func (g Geometry) Valid() bool {
	return g.Width != 0 && g.Height != 0 && g.EnvWidth != 0 && g.EnvHeight != 0
}

// Block is one channel's metadata.
type Block struct {
	r layout.Region
}

// New returns the block stored in r.
func New(r layout.Region) (*Block, error) {
	if r.Len() < Size {
		return nil, fmt.Errorf("%w: metadata block needs %d bytes, region has %d", layout.ErrLayout, Size, r.Len())
	}
	return &Block{r: r.Sub(0, Size)}, nil
}

// Reset zeroes every field.
func (b *Block) Reset() { b.r.Zero() }

func (b *Block) SetActive(active bool) {
	var v uint32
	if active {
		v = 1
	}
	b.r.Store32(offActive, v)
}

func (b *Block) Active() bool { return b.r.Load32(offActive) != 0 }

func (b *Block) SetCodec(c media.Codec) { b.r.Store32(offCodec, uint32(c)) }

func (b *Block) Codec() media.Codec { return media.Codec(b.r.Load32(offCodec)) }

// SetGeometry stores each field of g. The update is not atomic as a whole.
func (b *Block) SetGeometry(g Geometry) {
	b.r.StoreInt32(offEnvWidth, g.EnvWidth)
	b.r.StoreInt32(offEnvHeight, g.EnvHeight)
	b.r.StoreInt32(offWidth, g.Width)
	b.r.StoreInt32(offHeight, g.Height)
	b.r.StoreInt32(offClientOffsetX, g.ClientOffsetX)
	b.r.StoreInt32(offClientOffsetY, g.ClientOffsetY)
	b.r.StoreInt32(offOffsetX, g.OffsetX)
	b.r.StoreInt32(offOffsetY, g.OffsetY)
	b.r.Store32(offScalarInv, math.Float32bits(g.ScalarInv))
}

// Geometry loads each field.
func (b *Block) Geometry() Geometry {
	return Geometry{
		EnvWidth:      b.r.LoadInt32(offEnvWidth),
		EnvHeight:     b.r.LoadInt32(offEnvHeight),
		Width:         b.r.LoadInt32(offWidth),
		Height:        b.r.LoadInt32(offHeight),
		ClientOffsetX: b.r.LoadInt32(offClientOffsetX),
		ClientOffsetY: b.r.LoadInt32(offClientOffsetY),
		OffsetX:       b.r.LoadInt32(offOffsetX),
		OffsetY:       b.r.LoadInt32(offOffsetY),
		ScalarInv:     math.Float32frombits(b.r.Load32(offScalarInv)),
	}
}

// SetSize updates only the encoded width and height.
func (b *Block) SetSize(width, height int32) {
	b.r.StoreInt32(offWidth, width)
	b.r.StoreInt32(offHeight, height)
}

// Snapshot is a JSON-friendly copy of a block.
type Snapshot struct {
	Active   bool     `json:"active"`
	Codec    string   `json:"codec"`
	Geometry Geometry `json:"geometry"`
}

// Snapshot copies the block.
func (b *Block) Snapshot() Snapshot {
	return Snapshot{Active: b.Active(), Codec: b.Codec().String(), Geometry: b.Geometry()}
}
