package config

import (
	"fmt"
	"strings"

	"github.com/zsiec/hoststream/internal/certs"
	"github.com/zsiec/hoststream/internal/media"
	"github.com/zsiec/hoststream/internal/pump"
)

// Validate checks cfg and fills defaults for fields left empty.
func Validate(cfg *Config) error {
	if cfg.Segment.Name == "" {
		cfg.Segment.Name = "hoststream"
	}
	if strings.ContainsAny(cfg.Segment.Name, ";/") {
		return fmt.Errorf("%w: segment.name %q must not contain ';' or '/'", ErrInvalid, cfg.Segment.Name)
	}
	if cfg.Segment.Headroom < 1 {
		cfg.Segment.Headroom = 1
	}
	if cfg.Segment.PollInterval <= 0 {
		return fmt.Errorf("%w: segment.poll_interval must be > 0", ErrInvalid)
	}
	if cfg.Segment.AwaitTimeout <= 0 {
		return fmt.Errorf("%w: segment.await_timeout must be > 0", ErrInvalid)
	}

	if _, err := cfg.Specs(); err != nil {
		return err
	}

	switch cfg.Sink.Kind {
	case "":
		cfg.Sink.Kind = SinkNone
	case SinkNone:
	case SinkQUIC:
		if cfg.Sink.Addr == "" {
			return fmt.Errorf("%w: sink.addr is required for quic", ErrInvalid)
		}
		if _, err := certs.ParseFingerprint(cfg.Sink.Fingerprint); err != nil {
			return fmt.Errorf("%w: sink.fingerprint: %w", ErrInvalid, err)
		}
	case SinkSRT:
		if cfg.Sink.Addr == "" {
			return fmt.Errorf("%w: sink.addr is required for srt", ErrInvalid)
		}
		if cfg.Sink.StreamID == "" {
			cfg.Sink.StreamID = "hoststream"
		}
	default:
		return fmt.Errorf("%w: sink.kind %q must be quic, srt, or none", ErrInvalid, cfg.Sink.Kind)
	}
	if cfg.Sink.MaxInFlight < 0 {
		return fmt.Errorf("%w: sink.max_in_flight must be >= 0", ErrInvalid)
	}

	if cfg.Bitrate.InitialStep < pump.MinBitrateStep {
		cfg.Bitrate.InitialStep = pump.MinBitrateStep
	}

	if cfg.Capture.Codec == "" {
		cfg.Capture.Codec = media.H264.String()
	}
	if _, err := media.ParseCodec(cfg.Capture.Codec); err != nil {
		return fmt.Errorf("%w: capture.codec: %w", ErrInvalid, err)
	}
	if cfg.Capture.FPS <= 0 {
		return fmt.Errorf("%w: capture.fps must be > 0", ErrInvalid)
	}
	return nil
}
