package segment

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// awaitBackstop re-tries Open even without a filesystem event, which covers
// the creator's Truncate-then-ready sequence producing no further event.
const awaitBackstop = 50 * time.Millisecond

// Await opens the segment named by h, waiting for its creator if the
// segment does not exist yet. It watches the segment directory and retries
// Open whenever the backing file changes. Errors other than ErrNotFound end
// the wait immediately.
func Await(ctx context.Context, h Handle, opts ...Option) (*Segment, error) {
	if err := checkKey(h.Key); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", o.dir, err)
	}
	defer watcher.Close()
	if err := watcher.Add(o.dir); err != nil {
		return nil, fmt.Errorf("watch %s: %w", o.dir, err)
	}

	want := filepath.Base(Path(o.dir, h.Key))
	ticker := time.NewTicker(awaitBackstop)
	defer ticker.Stop()

	for {
		seg, err := Open(h, opts...)
		if err == nil {
			return seg, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		for wait := true; wait; {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("await %s: %w", h.Key, ctx.Err())
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil, fmt.Errorf("await %s: watcher closed", h.Key)
				}
				wait = filepath.Base(ev.Name) != want
			case werr, ok := <-watcher.Errors:
				if ok {
					o.log.Warn("segment watcher error", "error", werr)
				}
			case <-ticker.C:
				wait = false
			}
		}
	}
}
