package mailbox

import (
	"testing"
	"time"

	"github.com/zsiec/hoststream/internal/event"
	"github.com/zsiec/hoststream/internal/media"
	"github.com/zsiec/hoststream/internal/metadata"
)

func TestVideoFIFO(t *testing.T) {
	t.Parallel()
	m := New(4, 4)
	for i := 0; i < 3; i++ {
		m.PublishVideo(media.VideoFrame{Data: []byte{byte(i)}, Timestamp: time.Duration(i)})
	}
	select {
	case <-m.Ready():
	default:
		t.Fatal("Ready not signalled after publish")
	}
	for i := 0; i < 3; i++ {
		f, ok := m.NextVideo()
		if !ok || f.Data[0] != byte(i) {
			t.Fatalf("NextVideo %d: got %v,%v", i, f.Data, ok)
		}
	}
	if _, ok := m.NextVideo(); ok {
		t.Error("NextVideo on empty mailbox succeeded")
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	t.Parallel()
	m := New(2, 2)
	for i := 0; i < 5; i++ {
		m.PublishAudio(media.AudioFrame{Data: []byte{byte(i)}})
	}
	if _, audio := m.Dropped(); audio != 3 {
		t.Errorf("audio dropped: got %d, want 3", audio)
	}
	f, _ := m.NextAudio()
	if f.Data[0] != 3 {
		t.Errorf("oldest surviving frame: got %d, want 3", f.Data[0])
	}
	if v, a := m.Pending(); v != 0 || a != 1 {
		t.Errorf("Pending: got %d,%d, want 0,1", v, a)
	}
}

func TestSignals(t *testing.T) {
	t.Parallel()
	m := New(0, 0)
	m.Signals.RaiseValue(event.ChangeBitrate, 8000)
	m.Signals.Raise(event.Event{Kind: event.IdrFrame})
	if ev, ok := m.Signals.Pop(event.ChangeBitrate); !ok || ev.Value != 8000 {
		t.Errorf("bitrate: got %+v,%v", ev, ok)
	}
	if !m.Signals.Peek(event.IdrFrame) {
		t.Error("IDR request lost")
	}
}

func TestTouchPort(t *testing.T) {
	t.Parallel()
	m := New(0, 0)
	if _, v := m.TouchPort(); v != 0 {
		t.Fatalf("initial version: got %d, want 0", v)
	}
	g := metadata.Geometry{Width: 1920, Height: 1080, EnvWidth: 1920, EnvHeight: 1080, ScalarInv: 1}
	m.SetTouchPort(g)
	select {
	case <-m.TouchChanged():
	default:
		t.Fatal("TouchChanged not signalled")
	}
	got, v := m.TouchPort()
	if got != g || v != 1 {
		t.Errorf("TouchPort: got %+v v%d", got, v)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	t.Parallel()
	m := New(0, 0)
	m.Shutdown()
	m.Shutdown()
	select {
	case <-m.Done():
	default:
		t.Fatal("Done not closed")
	}
}
