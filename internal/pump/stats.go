package pump

import "sync/atomic"

// Stats counts what a loop moved. It is safe for concurrent use.
type Stats struct {
	Packets   atomic.Int64
	Bytes     atomic.Int64
	KeyFrames atomic.Int64
	Patched   atomic.Int64
	Events    atomic.Int64
	Errors    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Packets   int64 `json:"packets"`
	Bytes     int64 `json:"bytes"`
	KeyFrames int64 `json:"key_frames"`
	Patched   int64 `json:"patched"`
	Events    int64 `json:"events"`
	Errors    int64 `json:"errors"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Packets:   s.Packets.Load(),
		Bytes:     s.Bytes.Load(),
		KeyFrames: s.KeyFrames.Load(),
		Patched:   s.Patched.Load(),
		Events:    s.Events.Load(),
		Errors:    s.Errors.Load(),
	}
}

func (s *Stats) packet(n int, key bool) {
	if s == nil {
		return
	}
	s.Packets.Add(1)
	s.Bytes.Add(int64(n))
	if key {
		s.KeyFrames.Add(1)
	}
}
