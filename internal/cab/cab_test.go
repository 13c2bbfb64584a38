package cab

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildMinimalCabinet constructs a single-folder, single-file, uncompressed
// cabinet by hand, following CFHEADER/CFFOLDER/CFFILE/CFDATA layout.
func buildMinimalCabinet(t *testing.T, content []byte) []byte {
	t.Helper()

	const headerLen = 36
	const folderLen = 8
	const fileLen = 16

	name := "HELLO.TXT\x00"
	fileRecLen := fileLen + len(name)
	coffFiles := headerLen + folderLen
	dataOffset := coffFiles + fileRecLen

	var buf bytes.Buffer
	buf.Write(Signature[:])
	writeU32(&buf, 0) // reserved1
	writeU32(&buf, 0) // cbCabinet, filled below
	writeU32(&buf, 0) // reserved2
	writeU32(&buf, uint32(coffFiles))
	writeU32(&buf, 0) // reserved3
	buf.WriteByte(3)  // version minor
	buf.WriteByte(1)  // version major
	writeU16(&buf, 1) // num folders
	writeU16(&buf, 1) // num files
	writeU16(&buf, 0) // flags
	writeU16(&buf, 0) // set id
	writeU16(&buf, 0) // icabinet

	// CFFOLDER
	writeU32(&buf, uint32(dataOffset))
	writeU16(&buf, 1) // one data block
	writeU16(&buf, compNone)

	// CFFILE
	writeU32(&buf, uint32(len(content)))
	writeU32(&buf, 0) // folder offset
	writeU16(&buf, 0) // folder index
	writeU16(&buf, 0) // date
	writeU16(&buf, 0) // time
	writeU16(&buf, 0) // attribs
	buf.WriteString(name)

	// CFDATA
	writeU32(&buf, 0) // checksum disabled for this test
	writeU16(&buf, uint16(len(content)))
	writeU16(&buf, uint16(len(content)))
	buf.Write(content)

	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(out)))
	return out
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func TestParseAndExtractMinimalCabinet(t *testing.T) {
	content := []byte("Hello from a CFFILE entry.")
	raw := buildMinimalCabinet(t, content)

	c, err := Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(c.Folders) != 1 || len(c.Files) != 1 {
		t.Fatalf("got %d folders, %d files", len(c.Folders), len(c.Files))
	}
	if c.Files[0].Name != "HELLO.TXT" {
		t.Fatalf("got file name %q", c.Files[0].Name)
	}

	fld := c.Folders[0]
	r := bytes.NewReader(raw[fld.FirstDataOffset:])
	data, err := Decompress(r, fld)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	got, err := FileContent(data, c.Files[0])
	if err != nil {
		t.Fatalf("FileContent: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("got %q want %q", got, content)
	}
}

func TestParseRejectsBadSignature(t *testing.T) {
	bad := make([]byte, 36)
	copy(bad, "XXXX")
	if _, err := Parse(bytes.NewReader(bad)); err != ErrBadSignature {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
}

// TestChecksumFoldsTrailingBytesBigEndian pins the checksum function to
// libmspack's byte-for-byte CFDATA checksum: a payload whose length isn't a
// multiple of 4 folds its 1-3 trailing bytes big-endian (first leftover
// byte in bits 16-23), not as a little-endian word.
func TestChecksumFoldsTrailingBytesBigEndian(t *testing.T) {
	// Three trailing bytes 0x01 0x02 0x03 must fold to 0x010203, not the
	// little-endian reading of those bytes (0x030201).
	got := checksum([]byte{0x01, 0x02, 0x03}, 0)
	if want := uint32(0x010203); got != want {
		t.Fatalf("3-byte tail: got %#x, want %#x", got, want)
	}
	got = checksum([]byte{0xAA, 0xBB}, 0)
	if want := uint32(0xAABB); got != want {
		t.Fatalf("2-byte tail: got %#x, want %#x", got, want)
	}
	got = checksum([]byte{0x7F}, 0)
	if want := uint32(0x7F); got != want {
		t.Fatalf("1-byte tail: got %#x, want %#x", got, want)
	}
}

// buildCabinetWithReserve is buildMinimalCabinet plus non-zero
// cbCFHeader/cbCFFolder/cbCFData reserve fields, each filled with a
// distinct marker byte so a parser that fails to skip one misaligns
// everything downstream.
func buildCabinetWithReserve(t *testing.T, content []byte) []byte {
	t.Helper()

	const headerLen = 36
	const reserveFieldLen = 4
	const cfHeaderRes, cfFolderRes, cfDataRes = 2, 3, 5
	const folderLen = 8
	const fileLen = 16

	name := "HELLO.TXT\x00"
	fileRecLen := fileLen + len(name)
	coffFiles := headerLen + reserveFieldLen + cfHeaderRes + folderLen + cfFolderRes
	dataOffset := coffFiles + fileRecLen

	var buf bytes.Buffer
	buf.Write(Signature[:])
	writeU32(&buf, 0)
	writeU32(&buf, 0) // cbCabinet, filled below
	writeU32(&buf, 0)
	writeU32(&buf, uint32(coffFiles))
	writeU32(&buf, 0)
	buf.WriteByte(3)
	buf.WriteByte(1)
	writeU16(&buf, 1)
	writeU16(&buf, 1)
	writeU16(&buf, flagReservePresent)
	writeU16(&buf, 0)
	writeU16(&buf, 0)

	// reserve-size quad: cbCFHeader(2) cbCFFolder(1) cbCFData(1)
	writeU16(&buf, cfHeaderRes)
	buf.WriteByte(cfFolderRes)
	buf.WriteByte(cfDataRes)
	buf.Write(bytes.Repeat([]byte{0xAA}, cfHeaderRes)) // per-cabinet reserve

	// CFFOLDER
	writeU32(&buf, uint32(dataOffset))
	writeU16(&buf, 1)
	writeU16(&buf, compNone)
	buf.Write(bytes.Repeat([]byte{0xBB}, cfFolderRes)) // per-folder reserve

	// CFFILE
	writeU32(&buf, uint32(len(content)))
	writeU32(&buf, 0)
	writeU16(&buf, 0)
	writeU16(&buf, 0)
	writeU16(&buf, 0)
	writeU16(&buf, 0)
	buf.WriteString(name)

	// CFDATA
	writeU32(&buf, 0) // checksum disabled
	writeU16(&buf, uint16(len(content)))
	writeU16(&buf, uint16(len(content)))
	buf.Write(bytes.Repeat([]byte{0xCC}, cfDataRes)) // per-block reserve
	buf.Write(content)

	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(out)))
	return out
}

func TestParseAndDecompressHonourReserveFields(t *testing.T) {
	content := []byte("reserved-field round trip")
	raw := buildCabinetWithReserve(t, content)

	c, err := Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Files[0].Name != "HELLO.TXT" {
		t.Fatalf("reserve fields misaligned the file table: got name %q", c.Files[0].Name)
	}

	fld := c.Folders[0]
	if fld.DataReserve != 5 {
		t.Fatalf("DataReserve = %d, want 5", fld.DataReserve)
	}
	r := bytes.NewReader(raw[fld.FirstDataOffset:])
	data, err := Decompress(r, fld)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	got, err := FileContent(data, c.Files[0])
	if err != nil {
		t.Fatalf("FileContent: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("got %q want %q", got, content)
	}
}

// TestDecompressDispatchesQuantum confirms a folder declaring Quantum
// compression is actually routed into internal/quantum instead of failing
// outright: a CFDATA block declaring zero uncompressed bytes lets the
// quantum decoder return immediately without needing a real Quantum-coded
// payload (its range coder primes lazily on first use, so the 4 payload
// bytes are never read).
func TestDecompressDispatchesQuantum(t *testing.T) {
	fld := Folder{CompressionType: compQuantum, NumDataBlocks: 1}
	var buf bytes.Buffer
	writeU32(&buf, 0) // checksum disabled
	writeU16(&buf, 4) // 4 compressed bytes, just enough to prime the range coder
	writeU16(&buf, 0) // zero uncompressed bytes requested
	buf.Write([]byte{0, 0, 0, 0})

	data, err := Decompress(bytes.NewReader(buf.Bytes()), fld)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("got %d decoded bytes, want 0", len(data))
	}
}
