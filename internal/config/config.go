// Package config loads the YAML configuration shared by streamhost and
// streamcapture. Values come from defaults, then the file, then
// HOSTSTREAM_* environment variables, and are checked by Validate.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/hoststream/internal/queue"
)

// ErrInvalid reports a configuration that cannot be used.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete hoststream configuration.
type Config struct {
	LogLevel string                   `yaml:"log_level"` // debug, info, warn, error
	Segment  SegmentConfig            `yaml:"segment"`
	Channels map[string]ChannelConfig `yaml:"channels"` // keyed by channel kind: video, audio, input, control
	Sink     SinkConfig               `yaml:"sink"`
	Control  ControlConfig            `yaml:"control"`
	Bitrate  BitrateConfig            `yaml:"bitrate"`
	Capture  CaptureConfig            `yaml:"capture"`
}

// SegmentConfig places and sizes the shared segment.
type SegmentConfig struct {
	Dir          string        `yaml:"dir"`      // default /dev/shm
	Name         string        `yaml:"name"`     // key prefix
	Headroom     int           `yaml:"headroom"` // segment size as a multiple of the state record
	PollInterval time.Duration `yaml:"poll_interval"`
	AwaitTimeout time.Duration `yaml:"await_timeout"` // how long streamcapture waits for the segment
}

// ChannelConfig overrides one channel's queue geometry. Zero fields keep
// the channel default.
type ChannelConfig struct {
	Depth        int    `yaml:"depth"`
	SlotCapacity int    `yaml:"slot_capacity"`
	Discipline   string `yaml:"discipline"` // monotonic, ordered
}

// Sink kinds.
const (
	SinkQUIC = "quic"
	SinkSRT  = "srt"
	SinkNone = "none"
)

// SinkConfig selects where streamhost delivers packets.
type SinkConfig struct {
	Kind        string        `yaml:"kind"`
	Addr        string        `yaml:"addr"`
	Fingerprint string        `yaml:"fingerprint"` // SHA-256 of the receiver certificate, QUIC only
	StreamID    string        `yaml:"stream_id"`   // SRT only
	Latency     time.Duration `yaml:"latency"`     // SRT only
	SlowWrite   time.Duration `yaml:"slow_write"`
	MaxInFlight int           `yaml:"max_in_flight"`
}

// ControlConfig configures the control server. An empty Addr disables it.
// Browser pages may open the control socket only from the server's own
// origin or one listed in AllowedOrigins.
type ControlConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// BitrateConfig seeds the bitrate adapter.
type BitrateConfig struct {
	InitialStep int `yaml:"initial_step"`
}

// CaptureConfig configures the replay source on the capture side.
type CaptureConfig struct {
	ReplayFile  string `yaml:"replay_file"`
	Codec       string `yaml:"codec"`
	FPS         int    `yaml:"fps"`
	Loop        bool   `yaml:"loop"`
	InputReplay bool   `yaml:"input_replay"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Segment: SegmentConfig{
			Name:         "hoststream",
			Headroom:     1,
			PollInterval: 10 * time.Millisecond,
			AwaitTimeout: 30 * time.Second,
		},
		Sink:    SinkConfig{Kind: SinkNone},
		Bitrate: BitrateConfig{InitialStep: 10},
		Capture: CaptureConfig{Codec: "h264", FPS: 30, Loop: true, InputReplay: true},
	}
}

// Load reads path over the defaults, applies the environment, and
// validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrInvalid, path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", ErrInvalid, path, err)
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Specs returns the queue geometry of every channel: the default for its
// kind with the configured overrides applied.
func (c *Config) Specs() ([]queue.Spec, error) {
	specs := make([]queue.Spec, 0, len(queue.Kinds()))
	for _, k := range queue.Kinds() {
		spec := queue.DefaultSpec(k)
		if ch, ok := c.Channels[k.String()]; ok {
			if ch.Depth != 0 {
				spec.Depth = ch.Depth
			}
			if ch.SlotCapacity != 0 {
				spec.SlotCapacity = ch.SlotCapacity
			}
			if ch.Discipline != "" {
				d, err := queue.ParseDiscipline(ch.Discipline)
				if err != nil {
					return nil, fmt.Errorf("%w: channels.%s: %w", ErrInvalid, k, err)
				}
				spec.Discipline = d
			}
		}
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("%w: channels.%s: %w", ErrInvalid, k, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
