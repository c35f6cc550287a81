package media

import "testing"

func TestParseCodec(t *testing.T) {
	t.Parallel()
	for _, c := range []Codec{H264, H265, AV1, Opus} {
		got, err := ParseCodec(c.String())
		if err != nil || got != c {
			t.Errorf("ParseCodec(%q): got %v, %v", c.String(), got, err)
		}
	}
	if _, err := ParseCodec("vp8"); err == nil {
		t.Error("ParseCodec accepted vp8")
	}
	if got := Codec(42).String(); got != "codec(42)" {
		t.Errorf("unknown codec String: got %q", got)
	}
}

func TestUsesParameterSets(t *testing.T) {
	t.Parallel()
	want := map[Codec]bool{H264: true, H265: true, AV1: false, Opus: false}
	for c, w := range want {
		if got := c.UsesParameterSets(); got != w {
			t.Errorf("%s: got %v, want %v", c, got, w)
		}
	}
}
