package szdd

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/msuncap/msuncap/internal/lzss"
)

func buildArchive(t *testing.T, data []byte) []byte {
	t.Helper()
	var compressed bytes.Buffer
	if err := lzss.Compress(data, &compressed, lzss.Normal); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	buf.Write(Signature[:])
	buf.WriteByte(compressionModeA)
	buf.WriteByte('_')
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(data)))
	buf.Write(size[:])
	buf.Write(compressed.Bytes())
	return buf.Bytes()
}

func TestExtractHelloWorld(t *testing.T) {
	data := []byte("Hello, world!")
	archive := buildArchive(t, data)

	var out bytes.Buffer
	h, err := Extract(bytes.NewReader(archive), &out)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if h.UncompressedSize != uint32(len(data)) {
		t.Fatalf("header size = %d, want %d", h.UncompressedSize, len(data))
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatalf("got %q want %q", out.Bytes(), data)
	}
}

func TestReadHeaderRejectsBadSignature(t *testing.T) {
	bad := append([]byte("XXXXXXXX"), make([]byte, 6)...)
	if _, err := ReadHeader(bytes.NewReader(bad)); err != ErrBadSignature {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
}
