package nal

import (
	"sync"

	"github.com/zsiec/hoststream/internal/media"
)

var startCode = []byte{0, 0, 0, 1}

// ParamCache remembers the most recent parameter sets seen on a stream.
type ParamCache struct {
	mu  sync.Mutex
	vps []byte
	sps []byte
	pps []byte
}

// Observe records any parameter sets in units and reports whether the
// stored SPS changed.
func (c *ParamCache) Observe(codec media.Codec, units []Unit) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := false
	for _, u := range units {
		switch {
		case codec == media.H265 && u.Type == H265VPS:
			c.vps = clone(u.Data)
		case isSPS(codec, u.Type):
			changed = changed || string(c.sps) != string(u.Data)
			c.sps = clone(u.Data)
		case codec == media.H265 && u.Type == H265PPS, codec != media.H265 && u.Type == H264PPS:
			c.pps = clone(u.Data)
		}
	}
	return changed
}

// SPS returns the cached SPS unit, or nil.
func (c *ParamCache) SPS() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sps
}

// prefix returns the cached sets in decoding order as Annex B, or nil
// while any required set is missing.
func (c *ParamCache) prefix(codec media.Codec) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sps == nil || c.pps == nil || (codec == media.H265 && c.vps == nil) {
		return nil
	}
	var out []byte
	for _, set := range [][]byte{c.vps, c.sps, c.pps} {
		if set == nil {
			continue
		}
		out = append(out, startCode...)
		out = append(out, set...)
	}
	return out
}

func isSPS(codec media.Codec, t byte) bool {
	if codec == media.H265 {
		return t == H265SPS
	}
	return t == H264SPS
}

func clone(b []byte) []byte { return append([]byte(nil), b...) }

// Patcher makes every key frame independently decodable: key frames that
// arrive without parameter sets get the last ones seen prepended.
type Patcher struct {
	Cache ParamCache
	// OnSPS is called with the parsed SPS whenever a new H.264 SPS arrives.
	OnSPS func(SPS)
}

// Patch returns au, or a copy of it with parameter sets prepended. It also
// reports whether au contains a key frame, which callers use when the
// encoder does not flag it.
func (p *Patcher) Patch(codec media.Codec, au []byte) ([]byte, bool) {
	if !codec.UsesParameterSets() {
		return au, false
	}
	units := Split(codec, au)
	if p.Cache.Observe(codec, units) && codec == media.H264 && p.OnSPS != nil {
		if sps, err := ParseSPS(p.Cache.SPS()); err == nil {
			p.OnSPS(sps)
		}
	}

	key, hasParams := false, false
	for _, u := range units {
		if IsKeyframe(codec, u.Type) {
			key = true
		}
		if isSPS(codec, u.Type) {
			hasParams = true
		}
	}
	if !key || hasParams {
		return au, key
	}
	pre := p.Cache.prefix(codec)
	if pre == nil {
		return au, key
	}
	out := make([]byte, 0, len(pre)+len(au))
	out = append(out, pre...)
	return append(out, au...), key
}
