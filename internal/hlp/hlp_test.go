package hlp

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/msuncap/msuncap/internal/bitio"
)

func TestReadHeaderRejectsBadSignature(t *testing.T) {
	bad := make([]byte, 16)
	if _, err := ReadHeader(bytes.NewReader(bad)); err != ErrBadSignature {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
}

func TestReadHeaderParsesFields(t *testing.T) {
	var raw [16]byte
	binary.LittleEndian.PutUint32(raw[0:4], Signature)
	binary.LittleEndian.PutUint32(raw[4:8], 16)
	binary.LittleEndian.PutUint32(raw[8:12], 200)
	binary.LittleEndian.PutUint32(raw[12:16], 4096)

	h, err := ReadHeader(bytes.NewReader(raw[:]))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.DirectoryOffset != 16 || h.FreeListOffset != 200 || h.FileSize != 4096 {
		t.Fatalf("got %+v", h)
	}
}

func TestReadPhrasesBuildsSlicesFromOffsets(t *testing.T) {
	phrasesData := []byte("helloworldfoo")
	var idx bytes.Buffer

	var count, reserved [4]byte
	binary.LittleEndian.PutUint32(count[:], 3)
	binary.LittleEndian.PutUint32(reserved[:], 0)
	idx.Write(count[:])
	idx.Write(reserved[:])
	for _, off := range []uint32{0, 5, 10, 13} {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], off)
		idx.Write(b[:])
	}

	phrases, err := ReadPhrases(phrasesData, idx.Bytes())
	if err != nil {
		t.Fatalf("ReadPhrases: %v", err)
	}
	want := []string{"hello", "world", "foo"}
	if len(phrases) != len(want) {
		t.Fatalf("got %d phrases, want %d", len(phrases), len(want))
	}
	for i, w := range want {
		if string(phrases[i]) != w {
			t.Fatalf("phrase %d: got %q want %q", i, phrases[i], w)
		}
	}
}

// encodeLiteralsOnly builds a Zeck stream whose every token is a literal,
// matching internal/zeck's own test helper shape.
func encodeLiteralsOnly(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	bw := bitio.NewLSBWriter(byteWriter{&buf})
	for i := 0; i < len(data); i += 8 {
		end := min(i+8, len(data))
		group := data[i:end]
		flags := byte(0)
		for j := range group {
			flags |= 1 << j
		}
		if err := bw.WriteBits(uint16(flags), 8); err != nil {
			t.Fatal(err)
		}
		for _, b := range group {
			if err := bw.WriteBits(uint16(b), 8); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type byteWriter struct{ buf *bytes.Buffer }

func (w byteWriter) WriteByte(c byte) error { return w.buf.WriteByte(c) }

func TestDecodeTopicWithoutPhrasesReturnsRawText(t *testing.T) {
	data := []byte("plain topic text")
	raw := encodeLiteralsOnly(t, data)

	got, err := DecodeTopic(bytes.NewReader(raw), nil)
	if err != nil {
		t.Fatalf("DecodeTopic: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %q want %q", got, data)
	}
}
