// Package nal scans H.264 and H.265 Annex B access units. The transport
// uses it to find key frames, cache parameter sets, patch them in front of
// key frames that arrive without them, and read the coded picture size.
package nal

import "github.com/zsiec/hoststream/internal/media"

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	H264Slice = 1
	H264IDR   = 5
	H264SEI   = 6
	H264SPS   = 7
	H264PPS   = 8
	H264AUD   = 9
)

// H.265 NAL unit types (ITU-T H.265 Table 7-1).
const (
	H265BlaWLP = 16
	H265CraNut = 21
	H265VPS    = 32
	H265SPS    = 33
	H265PPS    = 34
	H265AUD    = 35
)

// Unit is one NAL unit without its start code.
type Unit struct {
	Type byte
	Data []byte
}

// Split returns the NAL units of an Annex B buffer. Both 3- and 4-byte
// start codes are recognized; bytes before the first start code are
// ignored. Units alias data.
func Split(codec media.Codec, data []byte) []Unit {
	minLen, typeOf := 1, h264Type
	if codec == media.H265 {
		minLen, typeOf = 2, h265Type
	}

	var units []Unit
	start := -1
	for i := 0; i+2 < len(data); {
		if data[i] != 0 || data[i+1] != 0 {
			i++
			continue
		}
		var sc int
		switch {
		case data[i+2] == 1:
			sc = 3
		case i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1:
			sc = 4
		default:
			i++
			continue
		}
		if start >= 0 && i > start && i-start >= minLen {
			units = append(units, Unit{Type: typeOf(data[start]), Data: data[start:i]})
		}
		i += sc
		start = i
	}
	if start >= 0 && start < len(data) && len(data)-start >= minLen {
		units = append(units, Unit{Type: typeOf(data[start]), Data: data[start:]})
	}
	return units
}

func h264Type(b byte) byte { return b & 0x1F }
func h265Type(b byte) byte { return (b >> 1) & 0x3F }

// IsKeyframe reports whether a unit of type t starts a random access point.
func IsKeyframe(codec media.Codec, t byte) bool {
	if codec == media.H265 {
		return t >= H265BlaWLP && t <= H265CraNut
	}
	return t == H264IDR
}

// IsParameterSet reports whether t is a VPS, SPS, or PPS for codec.
func IsParameterSet(codec media.Codec, t byte) bool {
	if codec == media.H265 {
		return t == H265VPS || t == H265SPS || t == H265PPS
	}
	return t == H264SPS || t == H264PPS
}

func isVCL(codec media.Codec, t byte) bool {
	if codec == media.H265 {
		return t < 32
	}
	return t >= H264Slice && t <= H264IDR
}

// ContainsKeyframe reports whether an access unit holds a key-frame slice.
func ContainsKeyframe(codec media.Codec, au []byte) bool {
	for _, u := range Split(codec, au) {
		if IsKeyframe(codec, u.Type) {
			return true
		}
	}
	return false
}

func unescape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 {
			out = append(out, 0, 0)
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}
