package lzss

import (
	"bytes"
	"strings"
	"testing"
)

func roundTrip(t *testing.T, data []byte, dialect Dialect) {
	t.Helper()
	var compressed bytes.Buffer
	if err := Compress(data, &compressed, dialect); err != nil {
		t.Fatalf("Compress: %v", err)
	}

	var got bytes.Buffer
	if err := Decompress(bytes.NewReader(compressed.Bytes()), &got, dialect); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got.Bytes(), data) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", got.Len(), len(data))
	}
}

func TestRoundTripHelloWorld(t *testing.T) {
	roundTrip(t, []byte("Hello, world!"), Normal)
}

func TestRoundTripEmpty(t *testing.T) {
	roundTrip(t, nil, Normal)
}

func TestRoundTripQBasicDialect(t *testing.T) {
	roundTrip(t, []byte(strings.Repeat("the quick brown fox ", 50)), QBasic)
}

func TestRoundTripWindowSizeEdges(t *testing.T) {
	for _, n := range []int{WindowSize, WindowSize + 1, WindowSize * 2, WindowSize * 10} {
		data := bytes.Repeat([]byte{'A', 'B', 'C'}, n/3+1)[:n]
		roundTrip(t, data, Normal)
	}
}
