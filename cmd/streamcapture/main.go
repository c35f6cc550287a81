// Command streamcapture is the capture side. Given the handle streamhost
// printed, it attaches to the shared segment and pushes frames from the
// replay source into the shared queues, replaying input the host sends
// back.
//
//	streamcapture [-config file] <key;offset>
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

	"github.com/zsiec/hoststream/internal/config"
	"github.com/zsiec/hoststream/internal/event"
	"github.com/zsiec/hoststream/internal/fault"
	"github.com/zsiec/hoststream/internal/mailbox"
	"github.com/zsiec/hoststream/internal/media"
	"github.com/zsiec/hoststream/internal/nal"
	"github.com/zsiec/hoststream/internal/pump"
	"github.com/zsiec/hoststream/internal/queue"
	"github.com/zsiec/hoststream/internal/segment"
	"github.com/zsiec/hoststream/internal/shared"
	"github.com/zsiec/hoststream/internal/source"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("HOSTSTREAM_CONFIG"), "path to the YAML configuration")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file] <key;offset>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return fault.Usage
	}
	h, err := segment.ParseHandle(flag.Arg(0))
	if err != nil {
		slog.Error("invalid handle", "handle", flag.Arg(0), "error", err)
		return fault.ExitCode(err)
	}

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

	if err := capture(ctx, cfg, h); err != nil {
		slog.Error("streamcapture stopped", "error", err, "exit_code", fault.ExitCode(err))
		return fault.ExitCode(err)
	}
	return fault.OK
}

func capture(ctx context.Context, cfg *config.Config, h segment.Handle) error {
	var segOpts []segment.Option
	if cfg.Segment.Dir != "" {
		segOpts = append(segOpts, segment.WithDir(cfg.Segment.Dir))
	}
	awaitCtx, cancelAwait := context.WithTimeout(ctx, cfg.Segment.AwaitTimeout)
	seg, st, err := shared.Await(awaitCtx, h, segOpts, shared.WithPollInterval(cfg.Segment.PollInterval))
	cancelAwait()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %s did not appear within %s", segment.ErrNotFound, h, cfg.Segment.AwaitTimeout)
		}
		return fmt.Errorf("attach shared segment: %w", err)
	}
	defer seg.Close()

	codec, err := media.ParseCodec(cfg.Capture.Codec)
	if err != nil {
		return fmt.Errorf("%w: capture.codec: %w", config.ErrInvalid, err)
	}
	frames, err := source.Load(cfg.Capture.ReplayFile, codec)
	if err != nil {
		// Take the host down with us.
		st.Events.RaiseValue(event.Stop, 1)
		return err
	}
	slog.Info("streamcapture starting",
		"version", version,
		"handle", h.String(),
		"replay", cfg.Capture.ReplayFile,
		"frames", len(frames),
		"fps", cfg.Capture.FPS,
	)

	video, ok := st.Channel(queue.Video)
	if !ok {
		return fmt.Errorf("%w: no video channel in %s", segment.ErrNotFound, h)
	}
	mb := mailbox.New(0, 0)
	g := pump.New(ctx, slog.Default())

	push := &pump.Push{
		Mailbox:   mb,
		Video:     video.Queue,
		VideoMeta: video.Meta,
		Events:    st.Events,
		Patcher:   &nal.Patcher{},
		Stats:     &pump.Stats{},
		Tick:      cfg.Segment.PollInterval,
	}
	if audio, ok := st.Channel(queue.Audio); ok {
		push.Audio = audio.Queue
	}
	g.Go("push", push.Run)

	g.Go("touch", (&pump.Touch{
		Mailbox: mb,
		Meta:    video.Meta,
		Events:  st.Events,
		Tick:    cfg.Segment.PollInterval,
	}).Run)

	replay := &source.Replay{Frames: frames, Mailbox: mb, FPS: cfg.Capture.FPS, Loop: cfg.Capture.Loop}
	g.Go("replay", func(ctx context.Context) error {
		err := replay.Run(ctx)
		if err == nil && !cfg.Capture.Loop {
			slog.Info("replay finished")
			st.Events.RaiseValue(event.Stop, 1)
		}
		return err
	})

	if input, ok := st.Channel(queue.Input); ok && cfg.Capture.InputReplay {
		g.Go("input", (&pump.Demux{
			Queue:    input.Queue,
			Replayer: pump.ReplayFunc(logInput),
			Signals:  mb.Signals,
			Events:   st.Events,
			Stats:    &pump.Stats{},
			Tick:     cfg.Segment.PollInterval,
		}).Run)
	}

	if ctrl, ok := st.Channel(queue.Control); ok {
		g.Go("drops", (&pump.DropMonitor{
			Mailbox: mb,
			Uplink:  &pump.Uplink{Queue: ctrl.Queue},
			Events:  st.Events,
		}).Run)
	}

	g.Go("stop-watch", func(ctx context.Context) error {
		if err := st.Events.Wait(ctx, event.Stop); err == nil {
			slog.Info("stop raised, shutting down")
		}
		mb.Shutdown()
		g.Shutdown()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, segment.ErrClosed) {
		slog.Info("host closed the segment")
		return nil
	}
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		st.Events.RaiseValue(event.Stop, 1)
	}
	return nil
}

// logInput stands in for the platform input injector.
func logInput(_ context.Context, payload []byte) error {
	slog.Debug("input event", "size", len(payload))
	return nil
}
