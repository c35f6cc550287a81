package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/zsiec/hoststream/internal/config"
	"github.com/zsiec/hoststream/internal/segment"
	"github.com/zsiec/hoststream/internal/sink"
	"github.com/zsiec/hoststream/internal/source"
)

func TestExitCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{nil, OK},
		{context.Canceled, OK},
		{fmt.Errorf("pull video: %w", context.Canceled), OK},
		{fmt.Errorf("open: %w", segment.ErrNotFound), Transport},
		{segment.ErrAllocation, Transport},
		{fmt.Errorf("pop: %w", segment.ErrClosed), Transport},
		{fmt.Errorf("%w: quic dial", sink.ErrUnavailable), Transport},
		{fmt.Errorf("%w: no frames", source.ErrNoEncoder), Encoder},
		{fmt.Errorf("parse: %w", segment.ErrMalformedHandle), Usage},
		{fmt.Errorf("%w: sink.kind", config.ErrInvalid), Usage},
		{errors.New("boom"), Failure},
		{context.DeadlineExceeded, Failure},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v): got %d, want %d", tt.err, got, tt.want)
		}
	}
}
