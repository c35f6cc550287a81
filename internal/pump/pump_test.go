package pump

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/hoststream/internal/event"
	"github.com/zsiec/hoststream/internal/layout"
	"github.com/zsiec/hoststream/internal/mailbox"
	"github.com/zsiec/hoststream/internal/media"
	"github.com/zsiec/hoststream/internal/metadata"
	"github.com/zsiec/hoststream/internal/nal"
	"github.com/zsiec/hoststream/internal/queue"
	"github.com/zsiec/hoststream/internal/shared"
	"github.com/zsiec/hoststream/internal/sink"
)

const tick = 2 * time.Millisecond

func newState(t *testing.T) *shared.State {
	t.Helper()
	specs := []queue.Spec{
		{Kind: queue.Video, Depth: 4, SlotCapacity: 1 << 16, Discipline: queue.Monotonic},
		{Kind: queue.Audio, Depth: 4, SlotCapacity: 1024, Discipline: queue.Monotonic},
		{Kind: queue.Input, Depth: 8, SlotCapacity: 256, Discipline: queue.Ordered},
	}
	size, err := shared.Size(specs)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	st, err := shared.Format(layout.Heap(size), specs, shared.WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	return st
}

func channel(t *testing.T, st *shared.State, k queue.Kind) *shared.Channel {
	t.Helper()
	ch, ok := st.Channel(k)
	if !ok {
		t.Fatalf("no %s channel", k)
	}
	return ch
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func run(w Worker) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w(ctx) }()
	return cancel, done
}

func finish(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
		return nil
	}
}

func TestBitrateAdapterFloor(t *testing.T) {
	t.Parallel()
	a := NewBitrateAdapter(3)
	if got := a.Overflow(); got != 2000 {
		t.Errorf("first overflow: got %d, want 2000", got)
	}
	for i := 0; i < 1000; i++ {
		a.Overflow()
	}
	if a.Step() != MinBitrateStep {
		t.Errorf("step after many overflows: got %d, want %d", a.Step(), MinBitrateStep)
	}
	if got := a.Target(); got != 1000 {
		t.Errorf("floor target: got %d, want 1000", got)
	}
	if got := a.Set(6); got != 6000 {
		t.Errorf("Set(6): got %d, want 6000", got)
	}
	if got := a.Set(-4); got != 1000 {
		t.Errorf("Set(-4): got %d, want the floor", got)
	}
	if got := NewBitrateAdapter(0).Step(); got != MinBitrateStep {
		t.Errorf("zero start step: got %d, want %d", got, MinBitrateStep)
	}
}

func TestPushDrainsVideoBeforeAudio(t *testing.T) {
	t.Parallel()
	st := newState(t)
	video := channel(t, st, queue.Video)
	audio := channel(t, st, queue.Audio)
	mb := mailbox.New(8, 8)

	for i := 0; i < 3; i++ {
		mb.PublishAudio(media.AudioFrame{Data: []byte{byte(i)}, Timestamp: time.Duration(i) * 20 * time.Millisecond})
	}
	mb.PublishVideo(media.VideoFrame{Data: []byte("v0"), Codec: media.AV1, Timestamp: 0})
	mb.PublishVideo(media.VideoFrame{Data: []byte("v1"), Codec: media.AV1, IsKeyframe: true, Timestamp: 33 * time.Millisecond})

	stats := &Stats{}
	p := &Push{Mailbox: mb, Video: video.Queue, Audio: audio.Queue, VideoMeta: video.Meta, Events: st.Events, Stats: stats, Tick: tick}
	cancel, done := run(p.Run)

	waitFor(t, "all packets", func() bool { return video.Queue.Len() == 2 && audio.Queue.Len() == 3 })
	if !video.Meta.Active() {
		t.Error("video metadata not active while pushing")
	}
	if got := video.Meta.Codec(); got != media.AV1 {
		t.Errorf("codec: got %s, want av1", got)
	}
	cancel()
	if err := finish(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if video.Meta.Active() {
		t.Error("video metadata still active after exit")
	}

	first, _ := video.Queue.TryPop()
	second, _ := video.Queue.TryPop()
	if string(first.Payload) != "v0" || first.Index != 0 || first.Duration != 0 || first.KeyFrame {
		t.Errorf("first video packet: %+v", first.Meta)
	}
	if string(second.Payload) != "v1" || second.Index != 1 || second.Duration != 33*time.Millisecond || !second.KeyFrame {
		t.Errorf("second video packet: %+v", second.Meta)
	}
	for i := 0; i < 3; i++ {
		pkt, err := audio.Queue.TryPop()
		if err != nil {
			t.Fatalf("audio pop %d: %v", i, err)
		}
		if pkt.Payload[0] != byte(i) || pkt.Index != uint64(i) {
			t.Errorf("audio %d: got payload %d index %d", i, pkt.Payload[0], pkt.Index)
		}
		if i > 0 && pkt.Duration != 20*time.Millisecond {
			t.Errorf("audio %d duration: got %v, want 20ms", i, pkt.Duration)
		}
	}
	if got := stats.Snapshot(); got.Packets != 5 || got.KeyFrames != 1 {
		t.Errorf("stats: got %+v", got)
	}
}

func TestPushPatchesKeyFrames(t *testing.T) {
	t.Parallel()
	st := newState(t)
	video := channel(t, st, queue.Video)
	mb := mailbox.New(8, 8)

	sps := []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	pps := []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}
	idr := []byte{0x65, 0x88, 0x80}
	annexB := func(units ...[]byte) []byte {
		var out []byte
		for _, u := range units {
			out = append(out, 0, 0, 0, 1)
			out = append(out, u...)
		}
		return out
	}
	mb.PublishVideo(media.VideoFrame{Data: annexB(sps, pps, idr), Codec: media.H264, IsKeyframe: true})
	mb.PublishVideo(media.VideoFrame{Data: annexB(idr), Codec: media.H264, Timestamp: time.Second})

	stats := &Stats{}
	p := &Push{Mailbox: mb, Video: video.Queue, VideoMeta: video.Meta, Events: st.Events, Patcher: &nal.Patcher{}, Stats: stats, Tick: tick}
	cancel, done := run(p.Run)
	waitFor(t, "both frames", func() bool { return video.Queue.Len() == 2 })
	cancel()
	finish(t, done)

	video.Queue.TryPop()
	pkt, err := video.Queue.TryPop()
	if err != nil {
		t.Fatalf("TryPop: %v", err)
	}
	if !pkt.KeyFrame {
		t.Error("unflagged IDR not detected as key frame")
	}
	if !bytes.Equal(pkt.Payload, annexB(sps, pps, idr)) {
		t.Errorf("bare IDR not patched: %x", pkt.Payload)
	}
	if g := video.Meta.Geometry(); g.Width != 1280 || g.Height != 720 {
		t.Errorf("coded size: got %dx%d, want 1280x720", g.Width, g.Height)
	}
	if stats.Patched.Load() != 1 {
		t.Errorf("patched: got %d, want 1", stats.Patched.Load())
	}
}

func TestPushForwardsEventsAndStops(t *testing.T) {
	t.Parallel()
	st := newState(t)
	mb := mailbox.New(8, 8)
	p := &Push{Mailbox: mb, Video: channel(t, st, queue.Video).Queue, Events: st.Events, Tick: tick}
	cancel, done := run(p.Run)
	defer cancel()

	st.Events.RaiseValue(event.IdrFrame, 1)
	st.Events.RaiseValue(event.ChangeBitrate, 4000)
	waitFor(t, "forwarded IDR", func() bool { return mb.Signals.Peek(event.IdrFrame) })
	waitFor(t, "forwarded bitrate", func() bool { return mb.Signals.Peek(event.ChangeBitrate) })
	if ev, _ := mb.Signals.Pop(event.ChangeBitrate); ev.Value != 4000 {
		t.Errorf("bitrate: got %d, want 4000", ev.Value)
	}
	if st.Events.Peek(event.IdrFrame) {
		t.Error("shared IDR still unread after forwarding")
	}

	st.Events.RaiseValue(event.Stop, 1)
	if err := finish(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestPushFailureRaisesStop(t *testing.T) {
	t.Parallel()
	st := newState(t)
	mb := mailbox.New(8, 8)
	boom := errors.New("boom")
	p := &Push{Mailbox: mb, Video: failingQueue{Queue: channel(t, st, queue.Video).Queue, err: boom}, Events: st.Events, Tick: tick}
	mb.PublishVideo(media.VideoFrame{Data: []byte{1}, Codec: media.AV1})

	_, done := run(p.Run)
	if err := finish(t, done); !errors.Is(err, boom) {
		t.Fatalf("Run: got %v, want boom", err)
	}
	if !st.Events.Peek(event.Stop) {
		t.Error("failed producer did not raise Stop")
	}
}

type failingQueue struct {
	queue.Queue
	err error
}

func (q failingQueue) Push(context.Context, []byte, queue.Meta) error { return q.err }

type recorder struct {
	mu   sync.Mutex
	pkts []queue.Packet
}

func (r *recorder) Send(_ context.Context, pkt queue.Packet) error {
	r.mu.Lock()
	r.pkts = append(r.pkts, pkt)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pkts)
}

func TestPullForwardsToSink(t *testing.T) {
	t.Parallel()
	st := newState(t)
	video := channel(t, st, queue.Video)
	rec := &recorder{}
	p := &Pull{Queue: video.Queue, Sink: rec, Meta: video.Meta, Events: st.Events, Tick: tick}
	cancel, done := run(p.Run)
	defer cancel()

	ctx := context.Background()
	for i, size := range []int{100, 4096, 1} {
		if err := video.Queue.Push(ctx, bytes.Repeat([]byte{byte(i)}, size), queue.Meta{Index: uint64(i), KeyFrame: i == 1}); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}
	waitFor(t, "three packets at the sink", func() bool { return rec.len() == 3 })
	if !video.Meta.Active() {
		t.Error("metadata not active while pulling")
	}
	st.Events.RaiseValue(event.Stop, 1)
	if err := finish(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i, pkt := range rec.pkts {
		if pkt.Index != uint64(i) || pkt.KeyFrame != (i == 1) {
			t.Errorf("packet %d: %+v", i, pkt.Meta)
		}
	}
	if len(rec.pkts[1].Payload) != 4096 {
		t.Errorf("payload length: got %d, want 4096", len(rec.pkts[1].Payload))
	}
}

func TestPullAdaptsBitrate(t *testing.T) {
	t.Parallel()
	st := newState(t)
	board := event.NewLocal()
	p := &Pull{
		Queue:   channel(t, st, queue.Video).Queue,
		Sink:    sink.Discard,
		Events:  st.Events,
		Board:   board,
		Adapter: NewBitrateAdapter(1),
		Tick:    tick,
	}
	cancel, done := run(p.Run)
	defer cancel()

	popBitrate := func() int32 {
		t.Helper()
		waitFor(t, "shared bitrate", func() bool { return st.Events.Peek(event.ChangeBitrate) })
		ev, _ := st.Events.Pop(event.ChangeBitrate)
		return ev.Value
	}

	board.RaiseValue(event.ChangeBitrate, 3)
	if got := popBitrate(); got != 3000 {
		t.Errorf("after Bitrate(3): got %d, want 3000", got)
	}
	board.RaiseValue(event.BufferOverflow, 1)
	if got := popBitrate(); got != 2000 {
		t.Errorf("after one overflow: got %d, want 2000", got)
	}
	for i := 0; i < 5; i++ {
		board.RaiseValue(event.BufferOverflow, 1)
		popBitrate()
	}
	if p.Adapter.Step() != MinBitrateStep {
		t.Errorf("step: got %d, want the floor", p.Adapter.Step())
	}

	board.RaiseValue(event.IdrFrame, 1)
	waitFor(t, "forwarded IDR", func() bool { return st.Events.Peek(event.IdrFrame) })

	board.RaiseValue(event.Stop, 1)
	if err := finish(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !st.Events.Peek(event.Stop) {
		t.Error("local stop not propagated to the shared table")
	}
}

func TestPullSinkFailureRaisesStop(t *testing.T) {
	t.Parallel()
	st := newState(t)
	video := channel(t, st, queue.Video)
	boom := errors.New("link down")
	p := &Pull{
		Queue:  video.Queue,
		Sink:   sink.Func(func(context.Context, queue.Packet) error { return boom }),
		Events: st.Events,
		Tick:   tick,
	}
	video.Queue.TryPush([]byte{1}, queue.Meta{})
	_, done := run(p.Run)
	if err := finish(t, done); !errors.Is(err, boom) {
		t.Fatalf("Run: got %v, want link down", err)
	}
	if !st.Events.Peek(event.Stop) {
		t.Error("sink failure did not raise Stop")
	}
}

func TestPullResyncSkipsBacklog(t *testing.T) {
	t.Parallel()
	st := newState(t)
	video := channel(t, st, queue.Video)
	video.Queue.TryPush([]byte("stale"), queue.Meta{})
	rec := &recorder{}
	p := &Pull{Queue: video.Queue, Sink: rec, Events: st.Events, Resync: true, Tick: tick}
	cancel, done := run(p.Run)
	defer cancel()

	waitFor(t, "resync", func() bool { return video.Queue.Len() == 0 })
	video.Queue.Push(context.Background(), []byte("fresh"), queue.Meta{})
	waitFor(t, "fresh packet", func() bool { return rec.len() == 1 })
	cancel()
	finish(t, done)
	if got := string(rec.pkts[0].Payload); got != "fresh" {
		t.Errorf("first delivered: got %q, want fresh", got)
	}
}

func TestTouchCopiesGeometry(t *testing.T) {
	t.Parallel()
	st := newState(t)
	video := channel(t, st, queue.Video)
	mb := mailbox.New(0, 0)
	w := &Touch{Mailbox: mb, Meta: video.Meta, Events: st.Events, Tick: tick}
	cancel, done := run(w.Run)
	defer cancel()

	g := metadata.Geometry{EnvWidth: 2560, EnvHeight: 1440, Width: 1920, Height: 1080, OffsetX: 10, ScalarInv: 0.75}
	mb.SetTouchPort(g)
	waitFor(t, "geometry", func() bool { return video.Meta.Geometry() == g })

	mb.SetTouchPort(metadata.Geometry{})
	time.Sleep(10 * tick)
	if video.Meta.Geometry() != g {
		t.Error("invalid geometry overwrote the metadata")
	}
	mb.Shutdown()
	if err := finish(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestUplinkDemux(t *testing.T) {
	t.Parallel()
	st := newState(t)
	input := channel(t, st, queue.Input)
	up := &Uplink{Queue: input.Queue}
	ctx := context.Background()

	if err := up.SendInput(ctx, []byte("click 10 20")); err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	if err := up.SendEvent(ctx, event.IdrFrame, 1); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}
	if err := up.SendEvent(ctx, event.ChangeDisplay, 0); !errors.Is(err, event.ErrNoCompactCode) {
		t.Errorf("SendEvent(ChangeDisplay): got %v, want ErrNoCompactCode", err)
	}
	input.Queue.TryPush([]byte{0x7E, 1, 2}, queue.Meta{})
	if err := up.SendInput(ctx, []byte("key a")); err != nil {
		t.Fatalf("SendInput: %v", err)
	}

	var mu sync.Mutex
	var replayed []string
	signals := event.NewLocal()
	stats := &Stats{}
	d := &Demux{
		Queue: input.Queue,
		Replayer: ReplayFunc(func(_ context.Context, p []byte) error {
			mu.Lock()
			replayed = append(replayed, string(p))
			mu.Unlock()
			return nil
		}),
		Signals: signals,
		Events:  st.Events,
		Stats:   stats,
		Tick:    tick,
	}
	cancel, done := run(d.Run)
	defer cancel()

	waitFor(t, "records", func() bool { return input.Queue.Len() == 0 && stats.Packets.Load() == 2 })
	if !signals.Peek(event.IdrFrame) {
		t.Error("control record not raised")
	}
	if stats.Errors.Load() != 1 {
		t.Errorf("errors: got %d, want 1 for the bad record", stats.Errors.Load())
	}
	mu.Lock()
	if len(replayed) != 2 || replayed[0] != "click 10 20" || replayed[1] != "key a" {
		t.Errorf("replayed: got %q", replayed)
	}
	mu.Unlock()

	st.Events.RaiseValue(event.Stop, 1)
	if err := finish(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestDropMonitorReportsOverflow(t *testing.T) {
	t.Parallel()
	st := newState(t)
	input := channel(t, st, queue.Input)
	mb := mailbox.New(1, 1)
	m := &DropMonitor{Mailbox: mb, Uplink: &Uplink{Queue: input.Queue}, Events: st.Events, Interval: tick}
	cancel, done := run(m.Run)
	defer cancel()

	waitFor(t, "overflow record", func() bool {
		mb.PublishVideo(media.VideoFrame{Data: []byte{1}})
		mb.PublishVideo(media.VideoFrame{Data: []byte{2}})
		return input.Queue.Peek()
	})
	pkt, err := input.Queue.TryPop()
	if err != nil {
		t.Fatalf("TryPop: %v", err)
	}
	rec, err := event.DecodeRecord(pkt.Payload)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if !pkt.Control || !rec.Control || rec.Kind != event.BufferOverflow {
		t.Errorf("record: got %+v (control flag %v)", rec, pkt.Control)
	}

	mb.Shutdown()
	if err := finish(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
