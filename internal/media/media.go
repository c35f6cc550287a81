// Package media defines the frame types the capture side hands to the
// transport and the codec identifiers recorded in channel metadata.
package media

import (
	"fmt"
	"time"
)

// Codec identifies the elementary stream format on a channel.
type Codec uint32

const (
	H264 Codec = iota
	H265
	AV1
	Opus
)

func (c Codec) String() string {
	switch c {
	case H264:
		return "h264"
	case H265:
		return "h265"
	case AV1:
		return "av1"
	case Opus:
		return "opus"
	default:
		return fmt.Sprintf("codec(%d)", uint32(c))
	}
}

// ParseCodec maps a codec name to its Codec.
func ParseCodec(s string) (Codec, error) {
	for _, c := range []Codec{H264, H265, AV1, Opus} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown codec %q", s)
}

// UsesParameterSets reports whether key frames of c must be preceded by
// in-band parameter sets (SPS/PPS, plus VPS for H.265) to be decodable.
func (c Codec) UsesParameterSets() bool {
	return c == H264 || c == H265
}

// Default mailbox depths. Sized for roughly a second of video at 60 fps and
// of 20 ms audio frames.
const (
	VideoBufferSize = 60
	AudioBufferSize = 50
)

// VideoFrame is one encoded access unit in Annex B format.
type VideoFrame struct {
	Data       []byte
	IsKeyframe bool
	Codec      Codec
	// Timestamp is the capture time relative to an arbitrary origin that
	// stays fixed for the life of the stream.
	Timestamp time.Duration
}

// AudioFrame is one encoded audio packet.
type AudioFrame struct {
	Data      []byte
	Timestamp time.Duration
}
