package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/hoststream/internal/queue"
)

const fingerprint = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hoststream.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
segment:
  dir: /tmp/shm
  name: desk
  poll_interval: 5ms
channels:
  video:
    depth: 4
    slot_capacity: 1048576
  input:
    discipline: monotonic
sink:
  kind: quic
  addr: 10.0.0.2:4433
  fingerprint: "`+fingerprint+`"
  slow_write: 20ms
bitrate:
  initial_step: 8
control:
  addr: 127.0.0.1:9090
  allowed_origins: ["https://console.example"]
capture:
  replay_file: clip.h264
  fps: 60
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Control.AllowedOrigins) != 1 || cfg.Control.AllowedOrigins[0] != "https://console.example" {
		t.Errorf("control origins: got %v", cfg.Control.AllowedOrigins)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("Level: got %v, want debug", cfg.Level())
	}
	if cfg.Segment.Dir != "/tmp/shm" || cfg.Segment.Name != "desk" || cfg.Segment.PollInterval != 5*time.Millisecond {
		t.Errorf("segment: got %+v", cfg.Segment)
	}
	if cfg.Segment.AwaitTimeout != 30*time.Second {
		t.Errorf("AwaitTimeout default lost: %s", cfg.Segment.AwaitTimeout)
	}
	if cfg.Sink.Kind != SinkQUIC || cfg.Sink.SlowWrite != 20*time.Millisecond {
		t.Errorf("sink: got %+v", cfg.Sink)
	}
	if cfg.Bitrate.InitialStep != 8 || cfg.Capture.FPS != 60 || !cfg.Capture.Loop {
		t.Errorf("bitrate/capture: got %+v / %+v", cfg.Bitrate, cfg.Capture)
	}

	specs, err := cfg.Specs()
	if err != nil {
		t.Fatalf("Specs: %v", err)
	}
	if len(specs) != len(queue.Kinds()) {
		t.Fatalf("specs: got %d, want %d", len(specs), len(queue.Kinds()))
	}
	want := queue.DefaultSpec(queue.Video)
	want.Depth, want.SlotCapacity = 4, 1<<20
	if specs[0] != want {
		t.Errorf("video spec: got %+v, want %+v", specs[0], want)
	}
	if specs[2].Discipline != queue.Monotonic {
		t.Errorf("input discipline: got %s, want monotonic", specs[2].Discipline)
	}
	if specs[1] != queue.DefaultSpec(queue.Audio) {
		t.Errorf("audio spec changed: %+v", specs[1])
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sink.Kind != SinkNone || cfg.Segment.Name != "hoststream" {
		t.Errorf("defaults: got %+v", cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"HOSTSTREAM_SINK":          "srt",
		"HOSTSTREAM_SINK_ADDR":     "10.0.0.3:6000",
		"HOSTSTREAM_BITRATE_STEP":  "3",
		"HOSTSTREAM_POLL_INTERVAL": "2ms",
	}
	cfg := Default()
	if err := ApplyEnv(cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok }); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Sink.Kind != SinkSRT || cfg.Sink.Addr != "10.0.0.3:6000" || cfg.Sink.StreamID != "hoststream" {
		t.Errorf("sink: got %+v", cfg.Sink)
	}
	if cfg.Bitrate.InitialStep != 3 || cfg.Segment.PollInterval != 2*time.Millisecond {
		t.Errorf("overrides: step %d poll %s", cfg.Bitrate.InitialStep, cfg.Segment.PollInterval)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	t.Parallel()
	for _, kv := range [][2]string{
		{"HOSTSTREAM_FPS", "fast"},
		{"HOSTSTREAM_AWAIT_TIMEOUT", "soon"},
	} {
		lookup := func(k string) (string, bool) {
			if k == kv[0] {
				return kv[1], true
			}
			return "", false
		}
		if err := ApplyEnv(Default(), lookup); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s=%s: got %v, want ErrInvalid", kv[0], kv[1], err)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad name", func(c *Config) { c.Segment.Name = "a;b" }, "segment.name"},
		{"zero poll", func(c *Config) { c.Segment.PollInterval = 0 }, "poll_interval"},
		{"unknown sink", func(c *Config) { c.Sink.Kind = "carrier-pigeon" }, "sink.kind"},
		{"quic without addr", func(c *Config) { c.Sink.Kind = SinkQUIC }, "sink.addr"},
		{"quic bad fingerprint", func(c *Config) {
			c.Sink.Kind, c.Sink.Addr, c.Sink.Fingerprint = SinkQUIC, "x:1", "abc"
		}, "fingerprint"},
		{"bad codec", func(c *Config) { c.Capture.Codec = "mpeg2" }, "capture.codec"},
		{"bad discipline", func(c *Config) {
			c.Channels = map[string]ChannelConfig{"audio": {Discipline: "lifo"}}
		}, "channels.audio"},
		{"negative depth", func(c *Config) {
			c.Channels = map[string]ChannelConfig{"video": {Depth: -1}}
		}, "channels.video"},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		err := Validate(cfg)
		if !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: got %v, want ErrInvalid mentioning %q", tt.name, err, tt.want)
		}
	}

	cfg := Default()
	cfg.Bitrate.InitialStep = -5
	cfg.Segment.Headroom = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Bitrate.InitialStep != 1 || cfg.Segment.Headroom != 1 {
		t.Errorf("floors: step %d headroom %d", cfg.Bitrate.InitialStep, cfg.Segment.Headroom)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, ErrInvalid) {
		t.Errorf("missing file: got %v, want ErrInvalid", err)
	}
	if _, err := Load(writeConfig(t, "segment: [not, a, map]")); !errors.Is(err, ErrInvalid) {
		t.Errorf("bad yaml: got %v, want ErrInvalid", err)
	}
}
