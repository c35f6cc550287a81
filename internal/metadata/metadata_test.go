package metadata

import (
	"errors"
	"testing"

	"github.com/zsiec/hoststream/internal/layout"
	"github.com/zsiec/hoststream/internal/media"
)

func TestZeroAtCreation(t *testing.T) {
	t.Parallel()
	b, err := New(layout.Heap(Size))
	if err != nil {
		t.Fatal(err)
	}
	if b.Active() {
		t.Error("Active: got true on a fresh block")
	}
	if g := b.Geometry(); g != (Geometry{}) || g.Valid() {
		t.Errorf("Geometry: got %+v, want zero", g)
	}
}

func TestFieldsRoundTrip(t *testing.T) {
	t.Parallel()
	b, _ := New(layout.Heap(Size))
	g := Geometry{
		EnvWidth: 3840, EnvHeight: 2160,
		Width: 1920, Height: 1080,
		ClientOffsetX: -12, ClientOffsetY: 40,
		OffsetX: 1920, OffsetY: 0,
		ScalarInv: 0.5,
	}
	b.SetActive(true)
	b.SetCodec(media.H265)
	b.SetGeometry(g)

	if !b.Active() {
		t.Error("Active: got false")
	}
	if b.Codec() != media.H265 {
		t.Errorf("Codec: got %v, want h265", b.Codec())
	}
	if got := b.Geometry(); got != g {
		t.Errorf("Geometry: got %+v, want %+v", got, g)
	}
	if !b.Geometry().Valid() {
		t.Error("Valid: got false")
	}

	b.SetSize(1280, 720)
	if got := b.Geometry(); got.Width != 1280 || got.Height != 720 || got.EnvWidth != 3840 {
		t.Errorf("after SetSize: got %+v", got)
	}

	snap := b.Snapshot()
	if !snap.Active || snap.Codec != "h265" {
		t.Errorf("Snapshot: got %+v", snap)
	}

	b.Reset()
	if b.Active() {
		t.Error("Active after Reset: got true")
	}
}

func TestShortRegion(t *testing.T) {
	t.Parallel()
	if _, err := New(layout.Heap(Size - 4)); !errors.Is(err, layout.ErrLayout) {
		t.Errorf("got %v, want ErrLayout", err)
	}
}
