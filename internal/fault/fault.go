// Package fault maps startup and runtime errors to process exit codes so
// a supervisor can tell why a binary stopped.
package fault

import (
	"context"
	"errors"

	"github.com/zsiec/hoststream/internal/config"
	"github.com/zsiec/hoststream/internal/segment"
	"github.com/zsiec/hoststream/internal/sink"
	"github.com/zsiec/hoststream/internal/source"
)

// Exit codes.
const (
	OK = 0
	// Failure is any error not listed below.
	Failure = 1
	// Transport means the shared segment could not be created or found,
	// was torn down, or the network receiver was unreachable.
	Transport = 2
	// Encoder means no frame source could be started.
	Encoder = 3
	// Usage means a malformed handle or configuration.
	Usage = 4
)

// ExitCode returns the exit code for err. A nil error or a cancellation
// is a clean exit.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return OK
	case errors.Is(err, segment.ErrMalformedHandle), errors.Is(err, config.ErrInvalid):
		return Usage
	case errors.Is(err, source.ErrNoEncoder):
		return Encoder
	case errors.Is(err, segment.ErrNotFound), errors.Is(err, segment.ErrAllocation), errors.Is(err, segment.ErrClosed),
		errors.Is(err, sink.ErrUnavailable):
		return Transport
	default:
		return Failure
	}
}
