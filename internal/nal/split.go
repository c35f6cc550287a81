package nal

import "github.com/zsiec/hoststream/internal/media"

// AccessUnits groups an Annex B elementary stream into access units.
// A unit boundary is an access unit delimiter, or a VCL unit whose first
// slice segment flag is set after a VCL unit has been seen. Parameter sets
// and SEI that precede a picture travel with it. Each access unit is
// returned as Annex B with 4-byte start codes.
func AccessUnits(codec media.Codec, stream []byte) [][]byte {
	aud := byte(H264AUD)
	if codec == media.H265 {
		aud = H265AUD
	}

	var (
		out     [][]byte
		cur     []byte
		seenVCL bool
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, cur)
		}
		cur, seenVCL = nil, false
	}
	for _, u := range Split(codec, stream) {
		vcl := isVCL(codec, u.Type)
		switch {
		case u.Type == aud:
			flush()
		case vcl && seenVCL && firstSlice(codec, u.Data):
			flush()
		case !vcl && seenVCL:
			// A non-VCL unit after a picture opens the next access unit.
			flush()
		}
		cur = append(cur, startCode...)
		cur = append(cur, u.Data...)
		if vcl {
			seenVCL = true
		}
	}
	flush()
	return out
}

// firstSlice reports first_mb_in_slice == 0 (H.264) or
// first_slice_segment_in_pic_flag (H.265): in both cases the first bit
// after the NAL header is 1.
func firstSlice(codec media.Codec, unit []byte) bool {
	hdr := 1
	if codec == media.H265 {
		hdr = 2
	}
	return len(unit) > hdr && unit[hdr]&0x80 != 0
}
