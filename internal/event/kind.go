package event

import (
	"errors"
	"fmt"
)

// Kind identifies an event. Each kind has one slot in a Channel.
type Kind uint32

const (
	PointerVisible Kind = iota
	ChangeBitrate
	ChangeFramerate
	ChangeDisplay
	IdrFrame
	Stop
	HdrCallback
	BufferOverflow

	numKinds = int(BufferOverflow) + 1
)

// Kinds lists every event kind.
func Kinds() []Kind {
	out := make([]Kind, numKinds)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

var kindNames = [numKinds]string{
	PointerVisible:  "pointer_visible",
	ChangeBitrate:   "bitrate",
	ChangeFramerate: "framerate",
	ChangeDisplay:   "display",
	IdrFrame:        "idr",
	Stop:            "stop",
	HdrCallback:     "hdr",
	BufferOverflow:  "buffer_overflow",
}

func (k Kind) String() string {
	if int(k) < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("event(%d)", uint32(k))
}

// ParseKind maps a name produced by Kind.String back to its Kind.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Code is the one-byte event identifier used by compact two-byte records.
type Code byte

const (
	CodePointer        Code = 0
	CodeBitrate        Code = 1
	CodeFramerate      Code = 2
	CodeIdr            Code = 3
	CodeHdr            Code = 4
	CodeStop           Code = 5
	CodeBufferOverflow Code = 6
)

// ErrNoCompactCode reports an event kind that has no compact record form.
var ErrNoCompactCode = errors.New("event: kind has no compact code")

// Code returns the compact code for k. ChangeDisplay carries a display name
// and has no compact form.
func (k Kind) Code() (Code, error) {
	switch k {
	case PointerVisible:
		return CodePointer, nil
	case ChangeBitrate:
		return CodeBitrate, nil
	case ChangeFramerate:
		return CodeFramerate, nil
	case IdrFrame:
		return CodeIdr, nil
	case HdrCallback:
		return CodeHdr, nil
	case Stop:
		return CodeStop, nil
	case BufferOverflow:
		return CodeBufferOverflow, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrNoCompactCode, k)
	}
}

// Kind returns the event kind for a compact code.
func (c Code) Kind() (Kind, error) {
	switch c {
	case CodePointer:
		return PointerVisible, nil
	case CodeBitrate:
		return ChangeBitrate, nil
	case CodeFramerate:
		return ChangeFramerate, nil
	case CodeIdr:
		return IdrFrame, nil
	case CodeHdr:
		return HdrCallback, nil
	case CodeStop:
		return Stop, nil
	case CodeBufferOverflow:
		return BufferOverflow, nil
	default:
		return 0, fmt.Errorf("%w: code %d", ErrBadRecord, c)
	}
}
