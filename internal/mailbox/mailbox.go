// Package mailbox is the in-process hand-off between the capture/encode
// side and the transport pump. The encoder publishes frames; the pump
// drains them and answers with control signals (IDR requests, bitrate and
// framerate changes, pointer visibility) the encoder polls.
//
// Frame queues are bounded and never block the publisher: when a queue is
// full the oldest frame is dropped and counted.
package mailbox

import (
	"sync"
	"sync/atomic"

	"github.com/zsiec/hoststream/internal/event"
	"github.com/zsiec/hoststream/internal/media"
	"github.com/zsiec/hoststream/internal/metadata"
	"github.com/zsiec/hoststream/internal/ring"
)

// Mailbox is safe for concurrent use.
type Mailbox struct {
	mu    sync.Mutex
	video *ring.Buffer[media.VideoFrame]
	audio *ring.Buffer[media.AudioFrame]
	ready chan struct{}

	// Signals carries pump-to-encoder control: IdrFrame, ChangeBitrate,
	// ChangeFramerate, PointerVisible, ChangeDisplay.
	Signals *event.Channel

	touchMu      sync.Mutex
	touch        metadata.Geometry
	touchVersion uint64
	touchReady   chan struct{}

	done     chan struct{}
	doneOnce sync.Once

	videoDropped atomic.Int64
	audioDropped atomic.Int64
}

// New returns a mailbox with the given frame queue depths.
func New(videoDepth, audioDepth int) *Mailbox {
	if videoDepth <= 0 {
		videoDepth = media.VideoBufferSize
	}
	if audioDepth <= 0 {
		audioDepth = media.AudioBufferSize
	}
	return &Mailbox{
		video:      ring.NewBuffer[media.VideoFrame](videoDepth),
		audio:      ring.NewBuffer[media.AudioFrame](audioDepth),
		ready:      make(chan struct{}, 1),
		Signals:    event.NewLocal(),
		touchReady: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// PublishVideo queues an encoded access unit.
func (m *Mailbox) PublishVideo(f media.VideoFrame) {
	m.mu.Lock()
	if m.video.PushEvict(f) {
		m.videoDropped.Add(1)
	}
	m.mu.Unlock()
	notify(m.ready)
}

// PublishAudio queues an encoded audio packet.
func (m *Mailbox) PublishAudio(f media.AudioFrame) {
	m.mu.Lock()
	if m.audio.PushEvict(f) {
		m.audioDropped.Add(1)
	}
	m.mu.Unlock()
	notify(m.ready)
}

// NextVideo removes the oldest queued video frame.
func (m *Mailbox) NextVideo() (media.VideoFrame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.video.Pop()
}

// NextAudio removes the oldest queued audio frame.
func (m *Mailbox) NextAudio() (media.AudioFrame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audio.Pop()
}

// Ready is signalled after every publish. A single receive may cover
// several publishes.
func (m *Mailbox) Ready() <-chan struct{} { return m.ready }

// Pending returns the number of queued video and audio frames.
func (m *Mailbox) Pending() (video, audio int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.video.Len(), m.audio.Len()
}

// Dropped returns how many frames were evicted unread.
func (m *Mailbox) Dropped() (video, audio int64) {
	return m.videoDropped.Load(), m.audioDropped.Load()
}

// SetTouchPort records the latest capture geometry.
func (m *Mailbox) SetTouchPort(g metadata.Geometry) {
	m.touchMu.Lock()
	m.touch = g
	m.touchVersion++
	m.touchMu.Unlock()
	notify(m.touchReady)
}

// TouchPort returns the latest capture geometry and its version, which
// increments on every SetTouchPort.
func (m *Mailbox) TouchPort() (metadata.Geometry, uint64) {
	m.touchMu.Lock()
	defer m.touchMu.Unlock()
	return m.touch, m.touchVersion
}

// TouchChanged is signalled after SetTouchPort.
func (m *Mailbox) TouchChanged() <-chan struct{} { return m.touchReady }

// Shutdown tells every party using the mailbox to stop. It is idempotent.
func (m *Mailbox) Shutdown() {
	m.doneOnce.Do(func() { close(m.done) })
}

// Done is closed by Shutdown.
func (m *Mailbox) Done() <-chan struct{} { return m.done }
