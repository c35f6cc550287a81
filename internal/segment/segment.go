package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zsiec/hoststream/internal/layout"
)

var (
	// ErrNotFound reports a key with no live segment behind it, or a handle
	// offset that does not address the segment's state record.
	ErrNotFound = errors.New("segment: not found")
	// ErrAllocation reports a failure to create or map a new segment.
	ErrAllocation = errors.New("segment: allocation failed")
	// ErrMalformedHandle reports handle text that does not parse.
	ErrMalformedHandle = errors.New("segment: malformed handle")
	// ErrClosed reports a segment its creator has torn down.
	ErrClosed = errors.New("segment: closed")
	// ErrNotOwner reports a Destroy call from a process that only opened
	// the segment.
	ErrNotOwner = errors.New("segment: not the creating process")
)

// Header field offsets. All multi-byte fields are little-endian and
// naturally aligned.
const (
	offMagic        = 0x00 // [8]byte "HSTRSHM\0"
	offVersion      = 0x08 // uint32
	offFlags        = 0x0C // uint32, reserved
	offTotalSize    = 0x10 // uint64
	offStateOffset  = 0x18 // uint64
	offStateSize    = 0x20 // uint64
	offCreatorPID   = 0x28 // uint32
	offOpenerPID    = 0x2C // uint32
	offCreatorReady = 0x30 // uint32
	offOpenerReady  = 0x34 // uint32
	offClosed       = 0x38 // uint32

	// HeaderSize is the size of the segment header.
	HeaderSize = 128
	// StateOffset is where the shared state record starts.
	StateOffset = HeaderSize
	// Version is the header layout version.
	Version = 1

	filePrefix = "hoststream_"
	pageSize   = 4096
)

var magic = [8]byte{'H', 'S', 'T', 'R', 'S', 'H', 'M', 0}

type options struct {
	dir      string
	headroom int
	log      *slog.Logger
}

// Option configures Create, Open, Await, and Destroy.
type Option func(*options)

// WithDir places segment files in dir instead of /dev/shm.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithHeadroom sizes the segment to n times the state record. Values below
// one are treated as one.
func WithHeadroom(n int) Option {
	return func(o *options) { o.headroom = n }
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{headroom: 1}
	for _, fn := range opts {
		fn(&o)
	}
	if o.dir == "" {
		o.dir = DefaultDir()
	}
	if o.headroom < 1 {
		o.headroom = 1
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// DefaultDir returns /dev/shm when it exists and the system temp directory
// otherwise.
func DefaultDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Path returns the file backing key in dir.
func Path(dir, key string) string {
	return filepath.Join(dir, filePrefix+key)
}

// Segment is one mapping of a shared segment. The creating process owns it
// and is the only one allowed to Destroy it; openers Close their mapping
// when done.
type Segment struct {
	key   string
	path  string
	file  *os.File
	mem   []byte
	hdr   layout.Region
	state layout.Region
	owner bool
	log   *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Create allocates a new segment with room for a state record of stateSize
// bytes. The key is nameHint followed by a random suffix, so concurrent
// creators never collide and a destroyed segment's handle can never resolve
// to a later one.
func Create(nameHint string, stateSize int, opts ...Option) (*Segment, error) {
	o := buildOptions(opts)
	if nameHint == "" || strings.ContainsAny(nameHint, ";/\\") {
		return nil, fmt.Errorf("%w: invalid name hint %q", ErrAllocation, nameHint)
	}
	if stateSize <= 0 {
		return nil, fmt.Errorf("%w: state size %d", ErrAllocation, stateSize)
	}

	key := nameHint + "-" + uuid.NewString()
	path := Path(o.dir, key)
	total := layout.Align(StateOffset+stateSize*o.headroom, pageSize)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrAllocation, path, err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}
	if err := file.Truncate(int64(total)); err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: resize %s: %w", ErrAllocation, path, err)
	}
	mem, err := mmap(file, total)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: map %s: %w", ErrAllocation, path, err)
	}

	region := layout.New(mem)
	s := &Segment{
		key:   key,
		path:  path,
		file:  file,
		mem:   mem,
		hdr:   region.Sub(0, HeaderSize),
		state: region.Sub(StateOffset, stateSize),
		owner: true,
		log:   o.log.With("component", "segment", "key", key),
	}

	copy(s.hdr.Bytes(offMagic, 8), magic[:])
	s.hdr.Store32(offVersion, Version)
	s.hdr.Store64(offTotalSize, uint64(total))
	s.hdr.Store64(offStateOffset, StateOffset)
	s.hdr.Store64(offStateSize, uint64(stateSize))
	s.hdr.Store32(offCreatorPID, uint32(os.Getpid()))
	// Ready is stored last: an opener that sees it sees the whole header.
	s.hdr.Store32(offCreatorReady, 1)

	s.log.Info("segment created", "path", path, "size", total)
	return s, nil
}

// Open maps the segment named by h. It fails with ErrNotFound when the key
// has no segment (including one that is still being created) or when the
// offset does not address the recorded state record, with layout.ErrLayout
// when the header is foreign, and with ErrClosed when the creator has
// already torn it down.
func Open(h Handle, opts ...Option) (*Segment, error) {
	if err := checkKey(h.Key); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	path := Path(o.dir, h.Key)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, h.Key)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	if size < HeaderSize {
		file.Close()
		return nil, fmt.Errorf("%w: %s is not initialized", ErrNotFound, h.Key)
	}

	mem, err := mmap(file, int(size))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("map %s: %w", path, err)
	}
	fail := func(err error) (*Segment, error) {
		munmap(mem)
		file.Close()
		return nil, err
	}

	region := layout.New(mem)
	hdr := region.Sub(0, HeaderSize)
	if hdr.Load32(offCreatorReady) == 0 {
		return fail(fmt.Errorf("%w: %s is not initialized", ErrNotFound, h.Key))
	}
	if string(hdr.Bytes(offMagic, 8)) != string(magic[:]) {
		return fail(fmt.Errorf("%w: %s has a foreign header", layout.ErrLayout, h.Key))
	}
	if v := hdr.Load32(offVersion); v != Version {
		return fail(fmt.Errorf("%w: %s has version %d, want %d", layout.ErrLayout, h.Key, v, Version))
	}
	if hdr.Load32(offClosed) != 0 {
		return fail(fmt.Errorf("%w: %s", ErrClosed, h.Key))
	}

	stateOff := hdr.Load64(offStateOffset)
	stateSize := hdr.Load64(offStateSize)
	if h.Offset != stateOff {
		return fail(fmt.Errorf("%w: offset %d does not address the state record of %s", ErrNotFound, h.Offset, h.Key))
	}
	if !region.Fits(int(stateOff), int(stateSize)) {
		return fail(fmt.Errorf("%w: offset %d out of range for %d bytes", ErrNotFound, h.Offset, size))
	}

	s := &Segment{
		key:   h.Key,
		path:  path,
		file:  file,
		mem:   mem,
		hdr:   hdr,
		state: region.Sub(int(stateOff), int(stateSize)),
		log:   o.log.With("component", "segment", "key", h.Key),
	}
	s.hdr.Store32(offOpenerPID, uint32(os.Getpid()))
	s.hdr.Store32(offOpenerReady, 1)
	s.log.Debug("segment opened", "path", path, "size", size)
	return s, nil
}

// Destroy removes the segment named key. Mappings other processes still
// hold are marked closed first so their workers stop. Destroying a key
// that does not exist is a no-op.
func Destroy(key string, opts ...Option) error {
	if err := checkKey(key); err != nil {
		return err
	}
	o := buildOptions(opts)
	path := Path(o.dir, key)
	markClosed(path)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func markClosed(path string) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return
	}
	defer file.Close()
	if info, err := file.Stat(); err != nil || info.Size() < HeaderSize {
		return
	}
	mem, err := mmap(file, HeaderSize)
	if err != nil {
		return
	}
	layout.New(mem).Store32(offClosed, 1)
	munmap(mem)
}

// Key returns the segment key.
func (s *Segment) Key() string { return s.key }

// Path returns the backing file path.
func (s *Segment) Path() string { return s.path }

// Owner reports whether this process created the segment.
func (s *Segment) Owner() bool { return s.owner }

// Handle returns the handle the peer process passes to Open.
func (s *Segment) Handle() Handle {
	return Handle{Key: s.key, Offset: StateOffset}
}

// State returns the shared state record. The region is valid until Close
// or Destroy; workers using it must have stopped by then.
func (s *Segment) State() layout.Region { return s.state }

// Closed reports whether the creator has torn the segment down.
func (s *Segment) Closed() bool {
	return s.hdr.Load32(offClosed) != 0
}

// Alive returns ErrClosed once the segment has been torn down. Blocking
// waits on shared structures poll it between retries.
func (s *Segment) Alive() error {
	if s.Closed() {
		return ErrClosed
	}
	return nil
}

// OpenerReady reports whether a peer process has opened the segment.
func (s *Segment) OpenerReady() bool {
	return s.hdr.Load32(offOpenerReady) != 0
}

// Close unmaps the segment without removing it.
func (s *Segment) Close() error {
	s.closeOnce.Do(func() {
		err := munmap(s.mem)
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
		s.closeErr = err
	})
	return s.closeErr
}

// Destroy marks the segment closed, unmaps it, and removes its file. Only
// the creating process may destroy a segment.
func (s *Segment) Destroy() error {
	if !s.owner {
		return ErrNotOwner
	}
	s.hdr.Store32(offClosed, 1)
	path := s.path
	err := s.Close()
	if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
		err = fmt.Errorf("remove %s: %w", path, rerr)
	}
	s.log.Info("segment destroyed")
	return err
}
