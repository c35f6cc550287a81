package nal

import (
	"errors"
	"fmt"
)

var errShortSPS = errors.New("nal: SPS truncated")

// bits reads an RBSP MSB first. The first read past the end sets err and
// every later read returns zero, so parsers check err once at the end.
type bits struct {
	data []byte
	pos  int
	err  error
}

func (b *bits) u(n int) uint {
	var v uint
	for ; n > 0; n-- {
		if b.pos>>3 >= len(b.data) {
			b.err = errShortSPS
			return 0
		}
		bit := (b.data[b.pos>>3] >> (7 - uint(b.pos&7))) & 1
		v = v<<1 | uint(bit)
		b.pos++
	}
	return v
}

func (b *bits) ue() uint {
	zeros := 0
	for b.u(1) == 0 {
		if b.err != nil || zeros > 31 {
			b.err = errShortSPS
			return 0
		}
		zeros++
	}
	if zeros == 0 {
		return 0
	}
	return 1<<zeros - 1 + b.u(zeros)
}

func (b *bits) se() int {
	v := b.ue()
	if v%2 == 0 {
		return -int(v / 2)
	}
	return int((v + 1) / 2)
}

func (b *bits) scalingList(size int) {
	last, next := 8, 8
	for j := 0; j < size && b.err == nil; j++ {
		if next != 0 {
			next = (last + b.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// SPS holds the fields of an H.264 sequence parameter set the transport
// reports.
type SPS struct {
	Width, Height int
	Profile       byte
	Constraints   byte
	Level         byte
}

// CodecString returns the RFC 6381 codec parameter, e.g. "avc1.64001f".
func (s SPS) CodecString() string {
	return fmt.Sprintf("avc1.%02x%02x%02x", s.Profile, s.Constraints, s.Level)
}

var highProfiles = map[uint]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// ParseSPS decodes an H.264 SPS unit (header byte included, start code
// excluded) up to the frame cropping fields.
func ParseSPS(unit []byte) (SPS, error) {
	if len(unit) < 4 {
		return SPS{}, errShortSPS
	}
	b := &bits{data: unescape(unit[1:])}

	profile := b.u(8)
	constraints := b.u(8)
	level := b.u(8)
	b.ue() // seq_parameter_set_id

	chroma := uint(1)
	separatePlanes := false
	if highProfiles[profile] {
		chroma = b.ue()
		if chroma == 3 {
			separatePlanes = b.u(1) == 1
		}
		b.ue() // bit_depth_luma_minus8
		b.ue() // bit_depth_chroma_minus8
		b.u(1) // qpprime_y_zero_transform_bypass_flag
		if b.u(1) == 1 {
			lists := 8
			if chroma == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if b.u(1) == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					b.scalingList(size)
				}
			}
		}
	}

	b.ue() // log2_max_frame_num_minus4
	switch b.ue() {
	case 0:
		b.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		b.u(1)
		b.se()
		b.se()
		for n := b.ue(); n > 0 && b.err == nil; n-- {
			b.se()
		}
	}
	b.ue() // max_num_ref_frames
	b.u(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs := b.ue() + 1
	heightUnits := b.ue() + 1
	frameMbsOnly := b.u(1)
	if frameMbsOnly == 0 {
		b.u(1) // mb_adaptive_frame_field_flag
	}
	b.u(1) // direct_8x8_inference_flag

	var cropL, cropR, cropT, cropB uint
	if b.u(1) == 1 {
		cropL, cropR, cropT, cropB = b.ue(), b.ue(), b.ue(), b.ue()
	}
	if b.err != nil {
		return SPS{}, b.err
	}

	subW, subH := uint(2), uint(2)
	switch {
	case separatePlanes || chroma == 0 || chroma == 3:
		subW, subH = 1, 1
	case chroma == 2:
		subW, subH = 2, 1
	}
	fieldMul := 2 - frameMbsOnly
	cropX := subW
	cropY := subH * fieldMul

	return SPS{
		Width:       int(widthMbs*16 - cropX*(cropL+cropR)),
		Height:      int(heightUnits*16*fieldMul - cropY*(cropT+cropB)),
		Profile:     byte(profile),
		Constraints: byte(constraints),
		Level:       byte(level),
	}, nil
}
