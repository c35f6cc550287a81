package config

import (
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HOSTSTREAM_"

// ApplyEnv overrides cfg from the environment through lookup, normally
// os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LOG_LEVEL":        &cfg.LogLevel,
		"SEGMENT_DIR":      &cfg.Segment.Dir,
		"SEGMENT_NAME":     &cfg.Segment.Name,
		"SINK":             &cfg.Sink.Kind,
		"SINK_ADDR":        &cfg.Sink.Addr,
		"SINK_FINGERPRINT": &cfg.Sink.Fingerprint,
		"STREAM_ID":        &cfg.Sink.StreamID,
		"CONTROL_ADDR":     &cfg.Control.Addr,
		"REPLAY_FILE":      &cfg.Capture.ReplayFile,
		"CODEC":            &cfg.Capture.Codec,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"HEADROOM":     &cfg.Segment.Headroom,
		"BITRATE_STEP": &cfg.Bitrate.InitialStep,
		"FPS":          &cfg.Capture.FPS,
	}
	for name, dst := range ints {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not an integer", ErrInvalid, EnvPrefix, name, v)
		}
		*dst = n
	}

	durs := map[string]*time.Duration{
		"POLL_INTERVAL": &cfg.Segment.PollInterval,
		"AWAIT_TIMEOUT": &cfg.Segment.AwaitTimeout,
		"SINK_LATENCY":  &cfg.Sink.Latency,
	}
	for name, dst := range durs {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not a duration", ErrInvalid, EnvPrefix, name, v)
		}
		*dst = d
	}
	return nil
}
