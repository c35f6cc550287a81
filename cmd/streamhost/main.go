// Command streamhost is the delivery side. It creates the shared segment,
// prints its handle for the capture process, and pulls video and audio
// from the shared queues into the configured network sink.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zsiec/hoststream/internal/certs"
	"github.com/zsiec/hoststream/internal/config"
	"github.com/zsiec/hoststream/internal/control"
	"github.com/zsiec/hoststream/internal/event"
	"github.com/zsiec/hoststream/internal/fault"
	"github.com/zsiec/hoststream/internal/pump"
	"github.com/zsiec/hoststream/internal/queue"
	"github.com/zsiec/hoststream/internal/segment"
	"github.com/zsiec/hoststream/internal/shared"
	"github.com/zsiec/hoststream/internal/sink"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("HOSTSTREAM_CONFIG"), "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return fault.ExitCode(err)
	}
	level := cfg.Level()
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := serve(ctx, cfg); err != nil {
		slog.Error("streamhost stopped", "error", err, "exit_code", fault.ExitCode(err))
		return fault.ExitCode(err)
	}
	return fault.OK
}

func serve(ctx context.Context, cfg *config.Config) error {
	specs, err := cfg.Specs()
	if err != nil {
		return err
	}
	segOpts := []segment.Option{segment.WithHeadroom(cfg.Segment.Headroom)}
	if cfg.Segment.Dir != "" {
		segOpts = append(segOpts, segment.WithDir(cfg.Segment.Dir))
	}
	seg, st, err := shared.Create(cfg.Segment.Name, specs, segOpts, shared.WithPollInterval(cfg.Segment.PollInterval))
	if err != nil {
		return fmt.Errorf("create shared segment: %w", err)
	}
	defer seg.Destroy()

	handle := seg.Handle().String()
	fmt.Println(handle)
	slog.Info("streamhost starting",
		"version", version,
		"handle", handle,
		"sink", cfg.Sink.Kind,
		"control", cfg.Control.Addr,
	)

	board := event.NewLocal()
	out, err := openSink(ctx, cfg, board)
	if err != nil {
		st.Events.RaiseValue(event.Stop, 1)
		return err
	}
	defer out.Close()

	g := pump.New(ctx, slog.Default())
	stats := make(map[queue.Kind]*pump.Stats)

	adapter := pump.NewBitrateAdapter(int32(cfg.Bitrate.InitialStep))
	st.Events.RaiseValue(event.ChangeBitrate, adapter.Target())

	for _, k := range []queue.Kind{queue.Video, queue.Audio} {
		ch, ok := st.Channel(k)
		if !ok {
			continue
		}
		stats[k] = &pump.Stats{}
		p := &pump.Pull{
			Queue:  ch.Queue,
			Sink:   out,
			Events: st.Events,
			Resync: true,
			Stats:  stats[k],
			Tick:   cfg.Segment.PollInterval,
		}
		if k == queue.Video {
			p.Board = board
			p.Adapter = adapter
		}
		g.Go("pull-"+k.String(), p.Run)
	}

	if ch, ok := st.Channel(queue.Control); ok {
		stats[queue.Control] = &pump.Stats{}
		d := &pump.Demux{
			Queue:   ch.Queue,
			Signals: board,
			Events:  st.Events,
			Stats:   stats[queue.Control],
			Tick:    cfg.Segment.PollInterval,
		}
		g.Go("control-demux", d.Run)
	}

	var uplink *pump.Uplink
	if ch, ok := st.Channel(queue.Input); ok {
		uplink = &pump.Uplink{Queue: ch.Queue}
	}

	if cfg.Control.Addr != "" {
		srv := control.NewServer(control.Config{
			Handle:         handle,
			Board:          board,
			State:          st,
			Uplink:         uplink,
			Stats:          stats,
			Group:          g,
			AllowedOrigins: cfg.Control.AllowedOrigins,
		})
		g.Go("control-server", func(ctx context.Context) error {
			return srv.Start(ctx, cfg.Control.Addr)
		})
	}

	// Wait does not consume Stop, so the pull loops still observe it.
	g.Go("stop-watch", func(ctx context.Context) error {
		if err := st.Events.Wait(ctx, event.Stop); err == nil {
			slog.Info("stop raised, shutting down")
		}
		g.Shutdown()
		return nil
	})

	err = g.Wait()
	st.Events.RaiseValue(event.Stop, 1)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openSink(ctx context.Context, cfg *config.Config, board *event.Channel) (sink.Sink, error) {
	switch cfg.Sink.Kind {
	case config.SinkQUIC:
		fp, err := certs.ParseFingerprint(cfg.Sink.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("%w: sink.fingerprint: %w", config.ErrInvalid, err)
		}
		return sink.DialQUIC(ctx, sink.QUICOptions{
			Addr:        cfg.Sink.Addr,
			TLS:         certs.PinnedClientTLS(fp),
			Board:       board,
			SlowWrite:   cfg.Sink.SlowWrite,
			MaxInFlight: cfg.Sink.MaxInFlight,
		})
	case config.SinkSRT:
		return sink.DialSRT(ctx, sink.SRTOptions{
			Addr:      cfg.Sink.Addr,
			StreamID:  cfg.Sink.StreamID,
			Latency:   cfg.Sink.Latency,
			Board:     board,
			SlowWrite: cfg.Sink.SlowWrite,
		})
	default:
		slog.Warn("no sink configured, discarding packets")
		return sink.Discard, nil
	}
}
