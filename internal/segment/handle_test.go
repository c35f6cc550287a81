package segment

import (
	"errors"
	"testing"
)

func TestHandleRoundTrip(t *testing.T) {
	t.Parallel()
	handles := []Handle{
		{Key: "test-seg", Offset: 0},
		{Key: "hoststream-5d2f", Offset: 128},
		{Key: "k", Offset: 1<<64 - 1},
	}
	for _, h := range handles {
		got, err := ParseHandle(h.String())
		if err != nil {
			t.Fatalf("ParseHandle(%q): %v", h.String(), err)
		}
		if got != h {
			t.Errorf("round trip: got %+v, want %+v", got, h)
		}
	}
}

func TestHandleString(t *testing.T) {
	t.Parallel()
	h := Handle{Key: "test-seg", Offset: 4096}
	if got := h.String(); got != "test-seg;4096" {
		t.Errorf("String: got %q, want %q", got, "test-seg;4096")
	}
}

func TestParseHandleMalformed(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"",
		"test-seg",
		"test-seg;1;2",
		";128",
		"test-seg;",
		"test-seg;-4",
		"test-seg;0x80",
		"x/../../victim;128",
		"../victim;0",
		"..;0",
		".;0",
		`dir\seg;0`,
		"/abs/seg;0",
	}
	for _, in := range inputs {
		if _, err := ParseHandle(in); !errors.Is(err, ErrMalformedHandle) {
			t.Errorf("ParseHandle(%q): got %v, want ErrMalformedHandle", in, err)
		}
	}
}
