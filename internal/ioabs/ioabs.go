// Package ioabs is the one surface through which codecs and container
// framers touch storage. A [Handle] is either file-backed or memory-backed;
// callers cannot tell the difference, which is what lets a codec recurse
// into a decompressed buffer as if it were a fresh file (an LZX stream
// unpacked from inside a CAB data block, for instance).
package ioabs

import (
	"errors"
	"io"
)

// Whence mirrors io.Seeker's constants so callers don't need to import io
// just to seek a Handle.
const (
	SeekStart   = io.SeekStart
	SeekCurrent = io.SeekCurrent
	SeekEnd     = io.SeekEnd
)

// IoError is the byte-layer error type from the design's taxonomy, tagged
// with one of four kinds. io.EOF is passed through as is, and file-backed
// Write and Seek errors are returned unwrapped.
type IoError struct {
	Op   string
	Kind IoErrorKind
	Err  error
}

type IoErrorKind int

const (
	_ IoErrorKind = iota
	NotFound
	PermissionDenied
	EndOfStream
	ClosedHandle
)

func (e *IoError) Error() string {
	msg := e.Op + ": "
	switch e.Kind {
	case NotFound:
		msg += "not found"
	case PermissionDenied:
		msg += "permission denied"
	case EndOfStream:
		msg += "end of stream"
	case ClosedHandle:
		msg += "closed handle"
	default:
		msg += "io error"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IoError) Unwrap() error { return e.Err }

// Handle is the uniform read/write/seek/close surface. A Handle is not safe
// for concurrent use; callers needing concurrency open distinct Handles.
type Handle interface {
	io.ReaderAt
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	// Tell reports the current cursor position without moving it.
	Tell() (int64, error)
	// Size reports the logical length of the underlying storage.
	Size() (int64, error)
}

// OpenFile wraps an already-open *os.File (or anything satisfying the same
// surface) as a Handle. The caller retains ownership of closing fh through
// the returned Handle's Close.
func OpenFile(fh interface {
	io.ReaderAt
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}) Handle {
	return &fileHandle{fh: fh}
}

type fileHandle struct {
	fh interface {
		io.ReaderAt
		io.Reader
		io.Writer
		io.Seeker
		io.Closer
	}
	closed bool
}

func (h *fileHandle) checkOpen(op string) error {
	if h.closed {
		return &IoError{Op: op, Kind: ClosedHandle}
	}
	return nil
}

func (h *fileHandle) ReadAt(p []byte, off int64) (int, error) {
	if err := h.checkOpen("ioabs.ReadAt"); err != nil {
		return 0, err
	}
	n, err := h.fh.ReadAt(p, off)
	return n, wrapEOF("ioabs.ReadAt", err)
}

func (h *fileHandle) Read(p []byte) (int, error) {
	if err := h.checkOpen("ioabs.Read"); err != nil {
		return 0, err
	}
	n, err := h.fh.Read(p)
	return n, wrapEOF("ioabs.Read", err)
}

func (h *fileHandle) Write(p []byte) (int, error) {
	if err := h.checkOpen("ioabs.Write"); err != nil {
		return 0, err
	}
	return h.fh.Write(p)
}

func (h *fileHandle) Seek(offset int64, whence int) (int64, error) {
	if err := h.checkOpen("ioabs.Seek"); err != nil {
		return 0, err
	}
	return h.fh.Seek(offset, whence)
}

func (h *fileHandle) Tell() (int64, error) {
	return h.Seek(0, SeekCurrent)
}

func (h *fileHandle) Size() (int64, error) {
	cur, err := h.Tell()
	if err != nil {
		return 0, err
	}
	end, err := h.Seek(0, SeekEnd)
	if err != nil {
		return 0, err
	}
	_, err = h.Seek(cur, SeekStart)
	return end, err
}

func (h *fileHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	return h.fh.Close()
}

func wrapEOF(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return &IoError{Op: op, Kind: EndOfStream, Err: err}
}

// Memory is a memory-backed Handle whose contents grow on demand. A Seek
// past the end followed by a Write extends the buffer with zeros, which is
// required for framed decompression targets (§4.1): a codec may need to
// write block N+1's output before block N has filled in a gap left by an
// uncompressed copy that over-shot the known length.
type Memory struct {
	buf    []byte
	pos    int64
	closed bool
}

func NewMemory(initial []byte) *Memory {
	return &Memory{buf: initial}
}

func (m *Memory) Bytes() []byte { return m.buf }

func (m *Memory) checkOpen(op string) error {
	if m.closed {
		return &IoError{Op: op, Kind: ClosedHandle}
	}
	return nil
}

func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if err := m.checkOpen("ioabs.Memory.ReadAt"); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, &IoError{Op: "ioabs.Memory.ReadAt", Kind: EndOfStream}
	}
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *Memory) Read(p []byte) (int, error) {
	n, err := m.ReadAt(p, m.pos)
	m.pos += int64(n)
	return n, err
}

func (m *Memory) Write(p []byte) (int, error) {
	if err := m.checkOpen("ioabs.Memory.Write"); err != nil {
		return 0, err
	}
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	n := copy(m.buf[m.pos:end], p)
	m.pos = end
	return n, nil
}

func (m *Memory) Seek(offset int64, whence int) (int64, error) {
	if err := m.checkOpen("ioabs.Memory.Seek"); err != nil {
		return 0, err
	}
	var base int64
	switch whence {
	case SeekStart:
		base = 0
	case SeekCurrent:
		base = m.pos
	case SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, &IoError{Op: "ioabs.Memory.Seek", Kind: EndOfStream}
	}
	np := base + offset
	if np < 0 {
		return 0, &IoError{Op: "ioabs.Memory.Seek", Kind: EndOfStream}
	}
	if np > int64(len(m.buf)) {
		grown := make([]byte, np)
		copy(grown, m.buf)
		m.buf = grown
	}
	m.pos = np
	return np, nil
}

func (m *Memory) Tell() (int64, error) { return m.pos, nil }
func (m *Memory) Size() (int64, error) { return int64(len(m.buf)), nil }

func (m *Memory) Close() error {
	m.closed = true
	return nil
}
