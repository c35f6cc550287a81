package pump

import "sync"

// MinBitrateStep is the floor of the adapted bitrate step.
const MinBitrateStep = 1

// KbpsPerStep converts a bitrate step to the target rate the encoder is
// given, in kbit/s.
const KbpsPerStep = 1000

// BitrateAdapter holds the last known good bitrate step. An explicit
// bitrate request sets it; each buffer overflow backs it off by one step,
// never below MinBitrateStep. There is no automatic increase.
type BitrateAdapter struct {
	mu   sync.Mutex
	step int32
}

// NewBitrateAdapter returns an adapter starting at step.
func NewBitrateAdapter(step int32) *BitrateAdapter {
	return &BitrateAdapter{step: max(step, MinBitrateStep)}
}

// Set applies a requested step and returns the target in kbit/s.
func (a *BitrateAdapter) Set(step int32) int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.step = max(step, MinBitrateStep)
	return a.step * KbpsPerStep
}

// Overflow backs off by one step and returns the new target in kbit/s.
func (a *BitrateAdapter) Overflow() int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.step > MinBitrateStep {
		a.step--
	}
	return a.step * KbpsPerStep
}

// Step returns the current step.
func (a *BitrateAdapter) Step() int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.step
}

// Target returns the current target in kbit/s.
func (a *BitrateAdapter) Target() int32 { return a.Step() * KbpsPerStep }
