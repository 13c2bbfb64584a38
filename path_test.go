package msuncap

import (
	"errors"
	"testing"
)

func TestNormalizeEntryPath(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", "foo/bar.txt", "foo/bar.txt", false},
		{"backslashes", `docs\manual.hlp`, "docs/manual.hlp", false},
		{"leading-slash", "/foo/bar", "", true},
		{"traversal", "../../etc/passwd", "", true},
		{"embedded-traversal", "foo/../bar", "", true},
		{"empty", "", "", true},
		{"double-slash", "foo//bar", "", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := normalizeEntryPath(c.in)
			if c.wantErr {
				if err == nil {
					t.Fatalf("normalizeEntryPath(%q) = %q, nil; want error", c.in, got)
				}
				if !errors.Is(err, ErrPathTraversal) {
					t.Errorf("normalizeEntryPath(%q) error = %v, want ErrPathTraversal", c.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeEntryPath(%q) unexpected error: %v", c.in, err)
			}
			if got != c.want {
				t.Errorf("normalizeEntryPath(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestBasename(t *testing.T) {
	cases := map[string]string{
		"foo/bar.txt":     "bar.txt",
		`docs\manual.hlp`: "manual.hlp",
		"flatname.dat":    "flatname.dat",
	}
	for in, want := range cases {
		if got := basename(in); got != want {
			t.Errorf("basename(%q) = %q, want %q", in, got, want)
		}
	}
}
