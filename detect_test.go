package msuncap

import "testing"

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name   string
		header []byte
		want   Format
	}{
		{"cab", []byte("MSCF\x00\x00\x00\x00"), FormatCAB},
		{"chm", []byte("ITSF\x03\x00\x00\x00"), FormatCHM},
		{"lit", []byte("ITOLITLS"), FormatLIT},
		{"oab", []byte("OAB\x00\x01\x00\x00\x00"), FormatOAB},
		{"szdd", []byte{'S', 'Z', 'D', 'D', 0x88, 0xF0, 0x27, 0x33}, FormatSZDD},
		{"szdd-qbasic", []byte("SZ \x88\xF0\x27\x33\x00"), FormatSZDD},
		{"kwaj", []byte("KWAJ\x88\xF0\x27\x33"), FormatKWAJ},
		{"hlp-4x", []byte{0x3F, 0x5F, 0x00, 0x00}, FormatHLP},
		{"hlp-3x", []byte{0x35, 0xF3, 0x00, 0x00}, FormatHLP},
		{"unknown", []byte("garbage!"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := detectFormat(c.header); got != c.want {
				t.Errorf("detectFormat(%q) = %v, want %v", c.header, got, c.want)
			}
		})
	}
}

func TestFormatString(t *testing.T) {
	if FormatCAB.String() != "cab" {
		t.Errorf("FormatCAB.String() = %q", FormatCAB.String())
	}
	if FormatUnknown.String() != "unknown" {
		t.Errorf("FormatUnknown.String() = %q", FormatUnknown.String())
	}
}
