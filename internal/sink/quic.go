package sink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/hoststream/internal/event"
	"github.com/zsiec/hoststream/internal/queue"
)

// ALPN is the application protocol both QUIC peers negotiate.
const ALPN = "hoststream/1"

// DefaultMaxInFlight bounds concurrent packet streams per connection.
const DefaultMaxInFlight = 64

var controlHello = [4]byte{'H', 'S', 'C', '1'}

var errBadHello = errors.New("sink: unexpected control hello")

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        30 * time.Second,
		KeepAlivePeriod:       5 * time.Second,
		MaxIncomingUniStreams: 4 * DefaultMaxInFlight,
	}
}

// QUICOptions configures DialQUIC.
type QUICOptions struct {
	Addr string
	// TLS must verify the receiver; see certs.PinnedClientTLS. ALPN is
	// added when NextProtos is empty.
	TLS *tls.Config
	// Board receives BufferOverflow on congestion and the control
	// records the receiver sends back.
	Board       *event.Channel
	SlowWrite   time.Duration
	MaxInFlight int
	Log         *slog.Logger
}

// QUIC sends each packet on its own unidirectional stream, so a lost packet
// delays only itself. A bidirectional control stream carries compact
// records from the receiver (IDR and bitrate requests) onto the board.
type QUIC struct {
	conn     quic.Connection
	ctrl     quic.Stream
	inflight chan struct{}
	cong     congestion
	log      *slog.Logger
	done     chan struct{}
}

// DialQUIC connects to a QUICReceiver.
func DialQUIC(ctx context.Context, opts QUICOptions) (*QUIC, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "quic-sink", "addr", opts.Addr)
	if opts.TLS == nil {
		return nil, errors.New("quic sink: TLS config is required")
	}
	tlsConf := opts.TLS.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{ALPN}
	}
	limit := opts.SlowWrite
	if limit == 0 {
		limit = DefaultSlowWrite
	}
	inflight := opts.MaxInFlight
	if inflight <= 0 {
		inflight = DefaultMaxInFlight
	}

	conn, err := quic.DialAddr(ctx, opts.Addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: quic dial %s: %w", ErrUnavailable, opts.Addr, err)
	}
	ctrl, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "control stream")
		return nil, fmt.Errorf("open control stream: %w", err)
	}
	if _, err := ctrl.Write(controlHello[:]); err != nil {
		conn.CloseWithError(0, "control stream")
		return nil, fmt.Errorf("write control hello: %w", err)
	}

	q := &QUIC{
		conn:     conn,
		ctrl:     ctrl,
		inflight: make(chan struct{}, inflight),
		cong:     congestion{board: opts.Board, limit: limit},
		log:      log,
		done:     make(chan struct{}),
	}
	go q.readControl()
	log.Info("connected", "remote", conn.RemoteAddr())
	return q, nil
}

func (q *QUIC) readControl() {
	defer close(q.done)
	var rec [2]byte
	for {
		if _, err := io.ReadFull(q.ctrl, rec[:]); err != nil {
			if q.conn.Context().Err() == nil {
				q.log.Debug("control stream closed", "error", err)
			}
			return
		}
		r, err := event.DecodeRecord(rec[:])
		if err != nil || !r.Control {
			q.log.Warn("dropping control record", "record", rec, "error", err)
			continue
		}
		if q.cong.board != nil {
			q.cong.board.Raise(r.Event())
		}
	}
}

// Send writes pkt on a new stream. When every in-flight slot is taken the
// sink raises BufferOverflow and then waits for one.
func (q *QUIC) Send(ctx context.Context, pkt queue.Packet) error {
	select {
	case q.inflight <- struct{}{}:
	default:
		q.cong.overflow()
		select {
		case q.inflight <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer func() { <-q.inflight }()

	start := time.Now()
	s, err := q.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	if _, err := s.Write(encodeFrame(pkt)); err != nil {
		s.CancelWrite(0)
		return fmt.Errorf("write %d-byte frame: %w", len(pkt.Payload), err)
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	if q.cong.observe(start) {
		q.log.Debug("slow write", "channel", pkt.Kind.String(), "size", len(pkt.Payload), "took", time.Since(start))
	}
	return nil
}

// Close closes the connection.
func (q *QUIC) Close() error {
	err := q.conn.CloseWithError(0, "closing")
	<-q.done
	return err
}

// QUICReceiver is the far end of a QUIC sink.
type QUICReceiver struct {
	ln  *quic.Listener
	log *slog.Logger
}

// ListenQUIC listens on addr with tlsConf, which must present the
// certificate the sink pins.
func ListenQUIC(addr string, tlsConf *tls.Config, log *slog.Logger) (*QUICReceiver, error) {
	if log == nil {
		log = slog.Default()
	}
	tlsConf = tlsConf.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{ALPN}
	}
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic listen on %s: %w", addr, err)
	}
	return &QUICReceiver{ln: ln, log: log.With("component", "quic-receiver")}, nil
}

// Addr returns the listening address.
func (r *QUICReceiver) Addr() net.Addr { return r.ln.Addr() }

// Accept waits for a sink to connect and open its control stream.
func (r *QUICReceiver) Accept(ctx context.Context) (*QUICPeer, error) {
	conn, err := r.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	ctrl, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "no control stream")
		return nil, fmt.Errorf("accept control stream: %w", err)
	}
	var hello [4]byte
	if _, err := io.ReadFull(ctrl, hello[:]); err != nil {
		conn.CloseWithError(0, "bad control hello")
		return nil, fmt.Errorf("read control hello: %w", err)
	}
	if hello != controlHello {
		conn.CloseWithError(0, "bad control hello")
		return nil, fmt.Errorf("%w: %x", errBadHello, hello)
	}
	r.log.Info("sink connected", "remote", conn.RemoteAddr())
	return &QUICPeer{conn: conn, ctrl: ctrl}, nil
}

// Close stops listening.
func (r *QUICReceiver) Close() error { return r.ln.Close() }

// QUICPeer is one connected sink.
type QUICPeer struct {
	conn quic.Connection
	ctrl quic.Stream
}

// Receive returns the next packet. Packets sent concurrently may arrive in
// any order.
func (p *QUICPeer) Receive(ctx context.Context) (queue.Packet, error) {
	s, err := p.conn.AcceptUniStream(ctx)
	if err != nil {
		return queue.Packet{}, err
	}
	return readFrame(s)
}

// SendEvent writes a compact control record back to the sink.
func (p *QUICPeer) SendEvent(k event.Kind, value byte) error {
	rec, err := event.EncodeRecord(k, value)
	if err != nil {
		return err
	}
	_, err = p.ctrl.Write(rec)
	return err
}

// Close closes the connection.
func (p *QUICPeer) Close() error { return p.conn.CloseWithError(0, "closing") }
