// Package control exposes the delivery side's local control board over
// HTTP. A websocket on /control accepts JSON events and compact binary
// records; /status reports per-channel queue depth, metadata, and
// counters.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/hoststream/internal/event"
	"github.com/zsiec/hoststream/internal/metadata"
	"github.com/zsiec/hoststream/internal/pump"
	"github.com/zsiec/hoststream/internal/queue"
	"github.com/zsiec/hoststream/internal/shared"
)

const shutdownTimeout = 5 * time.Second

// Message is the JSON form of an event sent on /control. Data, when set,
// is attached as text (ChangeDisplay carries the display name this way).
type Message struct {
	Kind  string `json:"kind"`
	Value int32  `json:"value"`
	Data  string `json:"data,omitempty"`
}

// ChannelStatus describes one shared channel.
type ChannelStatus struct {
	Kind   string             `json:"kind"`
	Depth  int                `json:"depth"`
	Queued int                `json:"queued"`
	Meta   metadata.Snapshot  `json:"meta"`
	Stats  pump.StatsSnapshot `json:"stats"`
}

// Status is the /status response.
type Status struct {
	Handle   string            `json:"handle"`
	Channels []ChannelStatus   `json:"channels"`
	Workers  []pump.WorkerInfo `json:"workers,omitempty"`
}

// Config wires a Server to the running pumps. Uplink and Group are
// optional.
type Config struct {
	Handle string
	Board  *event.Channel
	State  *shared.State
	Uplink *pump.Uplink
	Stats  map[queue.Kind]*pump.Stats
	Group  *pump.Group
	// AllowedOrigins lists browser origins ("https://host:port") accepted
	// on /control besides the server's own.
	AllowedOrigins []string
	Log            *slog.Logger
}

// Server serves /control and /status.
type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer returns a Server for cfg.
func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg: cfg,
		log: log.With("component", "control"),
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(cfg.AllowedOrigins),
		},
	}
}

// originChecker accepts requests without an Origin header (non-browser
// clients), same-origin requests, and the listed origins.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /control", s.handleControl)
	mux.HandleFunc("GET /status", s.handleStatus)
	return mux
}

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("control server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control server: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

// Status collects the current status.
func (s *Server) Status() Status {
	st := Status{Handle: s.cfg.Handle, Channels: []ChannelStatus{}}
	if s.cfg.State != nil {
		for _, ch := range s.cfg.State.Channels() {
			cs := ChannelStatus{
				Kind:   ch.Kind.String(),
				Depth:  ch.Queue.Cap(),
				Queued: ch.Queue.Len(),
				Meta:   ch.Meta.Snapshot(),
			}
			if stats := s.cfg.Stats[ch.Kind]; stats != nil {
				cs.Stats = stats.Snapshot()
			}
			st.Channels = append(st.Channels, cs)
		}
	}
	if s.cfg.Group != nil {
		st.Workers = s.cfg.Group.Workers()
	}
	return st
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	log := s.log.With("remote", r.RemoteAddr)
	log.Info("control client connected")

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("control read ended", "error", err)
			}
			return
		}
		switch typ {
		case websocket.TextMessage:
			err = s.handleText(msg)
		case websocket.BinaryMessage:
			err = s.handleBinary(r.Context(), msg)
		}
		if err != nil {
			log.Warn("rejected control message", "error", err)
			if werr := conn.WriteJSON(map[string]string{"error": err.Error()}); werr != nil {
				return
			}
		}
	}
}

func (s *Server) handleText(msg []byte) error {
	var m Message
	if err := json.Unmarshal(msg, &m); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	k, err := event.ParseKind(m.Kind)
	if err != nil {
		return err
	}
	ev := event.Event{Kind: k, Value: m.Value}
	if m.Data != "" {
		ev.Type = event.Text
		ev.Data = []byte(m.Data)
	}
	return s.cfg.Board.Raise(ev)
}

func (s *Server) handleBinary(ctx context.Context, msg []byte) error {
	rec, err := event.DecodeRecord(msg)
	if err != nil {
		return err
	}
	if rec.Control {
		return s.cfg.Board.Raise(rec.Event())
	}
	if s.cfg.Uplink == nil {
		return errors.New("input replay is not enabled")
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.cfg.Uplink.SendInput(ctx, rec.Payload); err != nil {
		return fmt.Errorf("queue input: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}
