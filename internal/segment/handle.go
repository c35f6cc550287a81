package segment

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Handle locates the shared state record inside a named segment. Its text
// form "<key>;<offset>" is what the creating process hands to its peer,
// typically as the first command-line argument.
type Handle struct {
	Key    string
	Offset uint64
}

// String renders the handle in its wire form.
func (h Handle) String() string {
	return h.Key + ";" + strconv.FormatUint(h.Offset, 10)
}

// ParseHandle parses the wire form produced by Handle.String.
func ParseHandle(s string) (Handle, error) {
	fields := strings.Split(s, ";")
	if len(fields) != 2 {
		return Handle{}, fmt.Errorf("%w: %q has %d fields, want 2", ErrMalformedHandle, s, len(fields))
	}
	if err := checkKey(fields[0]); err != nil {
		return Handle{}, err
	}
	off, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: offset %q: %v", ErrMalformedHandle, fields[1], err)
	}
	return Handle{Key: fields[0], Offset: off}, nil
}

// checkKey rejects keys that would resolve outside the segment directory.
func checkKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrMalformedHandle)
	}
	if key == "." || key == ".." || strings.ContainsAny(key, "/\\") || filepath.Base(key) != key {
		return fmt.Errorf("%w: key %q is not a plain name", ErrMalformedHandle, key)
	}
	return nil
}
