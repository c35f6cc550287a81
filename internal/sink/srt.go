package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/hoststream/internal/event"
	"github.com/zsiec/hoststream/internal/queue"
)

// SRTChunk is the largest message written to an SRT connection: seven
// MPEG-TS packets, the standard live-mode payload.
const SRTChunk = 1316

// DefaultSRTLatency is the SRT receive latency.
const DefaultSRTLatency = 120 * time.Millisecond

const srtDialTimeout = 10 * time.Second

// SRTOptions configures DialSRT.
type SRTOptions struct {
	Addr     string
	StreamID string
	Latency  time.Duration
	// Board receives BufferOverflow when a packet takes longer than
	// SlowWrite to hand to the socket.
	Board     *event.Channel
	SlowWrite time.Duration
	Log       *slog.Logger
}

func srtConfig(latency time.Duration) srtgo.Config {
	cfg := srtgo.DefaultConfig()
	if latency <= 0 {
		latency = DefaultSRTLatency
	}
	cfg.Latency = latency
	return cfg
}

// SRT writes framed packets to one SRT connection in SRTChunk messages.
type SRT struct {
	mu   sync.Mutex
	conn *srtgo.Conn
	cong congestion
	log  *slog.Logger
}

// DialSRT connects in caller mode, giving up after ten seconds or when ctx
// is done.
func DialSRT(ctx context.Context, opts SRTOptions) (*SRT, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "srt-sink", "addr", opts.Addr)
	cfg := srtConfig(opts.Latency)
	cfg.StreamID = opts.StreamID

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(opts.Addr, cfg)
		ch <- dialResult{conn, err}
	}()
	// Close a connection that completes after we stopped waiting.
	abandon := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	timer := time.NewTimer(srtDialTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("%w: srt dial %s: %w", ErrUnavailable, opts.Addr, res.err)
		}
		limit := opts.SlowWrite
		if limit == 0 {
			limit = DefaultSlowWrite
		}
		log.Info("connected", "stream_id", opts.StreamID)
		return &SRT{conn: res.conn, cong: congestion{board: opts.Board, limit: limit}, log: log}, nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("%w: srt dial %s timed out after %s", ErrUnavailable, opts.Addr, srtDialTimeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

// Send frames pkt and writes it in chunks. Packets from concurrent callers
// are serialized so frames never interleave on the wire.
func (s *SRT) Send(ctx context.Context, pkt queue.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame := encodeFrame(pkt)

	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	for off := 0; off < len(frame); off += SRTChunk {
		end := min(off+SRTChunk, len(frame))
		if _, err := s.conn.Write(frame[off:end]); err != nil {
			return fmt.Errorf("srt write: %w", err)
		}
	}
	if s.cong.observe(start) {
		s.log.Debug("slow write", "channel", pkt.Kind.String(), "size", len(pkt.Payload), "took", time.Since(start))
	}
	return nil
}

// Close closes the connection.
func (s *SRT) Close() error { return s.conn.Close() }

// SRTReceiver accepts SRT callers and reassembles their frames.
type SRTReceiver struct {
	ln  *srtgo.Listener
	log *slog.Logger
}

// ListenSRT listens on addr. Callers must send a stream ID.
func ListenSRT(addr string, log *slog.Logger) (*SRTReceiver, error) {
	if log == nil {
		log = slog.Default()
	}
	ln, err := srtgo.Listen(addr, srtConfig(0))
	if err != nil {
		return nil, fmt.Errorf("srt listen on %s: %w", addr, err)
	}
	ln.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		return 0
	})
	return &SRTReceiver{ln: ln, log: log.With("component", "srt-receiver")}, nil
}

// Addr returns the listening address.
func (r *SRTReceiver) Addr() net.Addr { return r.ln.Addr() }

// Serve accepts callers until ctx is done or the listener fails, and hands
// every reassembled packet to handle along with the caller's stream ID.
func (r *SRTReceiver) Serve(ctx context.Context, handle func(streamID string, pkt queue.Packet)) error {
	go func() {
		<-ctx.Done()
		r.ln.Close()
	}()
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("srt accept: %w", err)
		}
		id := strings.TrimPrefix(conn.StreamID(), "/")
		r.log.Info("caller connected", "stream_id", id, "remote", conn.RemoteAddr())
		go r.read(ctx, conn, id, handle)
	}
}

func (r *SRTReceiver) read(ctx context.Context, conn *srtgo.Conn, id string, handle func(string, queue.Packet)) {
	defer conn.Close()
	var asm reassembler
	buf := make([]byte, SRTChunk*2)
	for ctx.Err() == nil {
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Debug("read error", "stream_id", id, "error", err)
			}
			return
		}
		pkts, err := asm.feed(buf[:n])
		for _, p := range pkts {
			handle(id, p)
		}
		if err != nil {
			r.log.Warn("dropping corrupt frame", "stream_id", id, "error", err)
		}
	}
}

// Close stops listening.
func (r *SRTReceiver) Close() error { return r.ln.Close() }
