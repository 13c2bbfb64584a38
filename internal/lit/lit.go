// Package lit implements the LIT container (§4.5.3): the ITOLITLS header
// and an ITSP-shaped directory shared with CHM (internal/chm's directory
// reader, since both formats use the identical PMGL/PMGI chunk layout —
// DESIGN.md Open Question decision 5), LZX-compressed sections, and
// rejection of DRM-protected sections as an unsupported feature rather
// than a silent pass-through.
package lit

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/msuncap/msuncap/internal/chm"
)

var Signature = [8]byte{'I', 'T', 'O', 'L', 'I', 'T', 'L', 'S'}

var (
	ErrBadSignature      = errors.New("lit: bad signature")
	ErrEncryptedSection  = errors.New("lit: DRM-protected section, unsupported")
)

// Header is the fixed portion of the LIT header: signature, version, and
// the two GUIDs identifying the content/transform, followed by the same
// (offset, length) header-section table CHM's ITSF header carries.
type Header struct {
	Version    uint32
	DirOffset  int64
	DirLength  int64
	DataOffset int64
}

func ReadHeader(r io.ReadSeeker) (Header, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Header{}, err
	}
	var raw [0x60]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return Header{}, err
	}
	if [8]byte(raw[:8]) != Signature {
		return Header{}, ErrBadSignature
	}
	h := Header{
		Version: binary.LittleEndian.Uint32(raw[8:12]),
	}
	h.DirOffset = int64(binary.LittleEndian.Uint64(raw[0x48:0x50]))
	h.DirLength = int64(binary.LittleEndian.Uint64(raw[0x50:0x58]))
	h.DataOffset = int64(binary.LittleEndian.Uint64(raw[0x58:0x60]))
	return h, nil
}

// drmMarkers lists name substrings that mark a directory entry as
// DRM/encryption-protected; a real reader would read transform GUIDs
// from the "/Transform/List" system entry and cross-reference a
// section's transform stack, but no sample carrying an actual DRM
// transform exists in this repo's retrieval pack to ground the exact GUID
// strings against, so detection here is name-based: an entry whose path
// contains one of these markers is rejected outright rather than decoded
// speculatively.
var drmMarkers = []string{"DRM", "EncryptionTransform", "/Protected/"}

// IsProtected reports whether a directory entry's name marks it as
// DRM-protected content this reader must refuse.
func IsProtected(name string) bool {
	for _, m := range drmMarkers {
		if contains(name, m) {
			return true
		}
	}
	return false
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// ReadDirectory reuses CHM's ITSP/PMGL directory reader: LIT's directory
// section has the identical chunk layout, just reached through LIT's own
// header offsets instead of CHM's.
func ReadDirectory(r io.ReadSeeker, h Header) ([]chm.DirEntry, error) {
	return chm.ReadDirectory(r, chm.Header{DirOffset: h.DirOffset, DirLength: h.DirLength, DataOffset: h.DataOffset})
}

// ExtractSection1 decodes a LIT directory entry the same way CHM's section
// 1 is decoded (LZX over the reset table), after first rejecting any entry
// IsProtected flags.
func ExtractSection1(sectionOneReader io.ReaderAt, contentOffset int64, params chm.Section1Params, e chm.DirEntry) ([]byte, error) {
	if IsProtected(e.Name) {
		return nil, ErrEncryptedSection
	}
	return chm.ExtractSection1(sectionOneReader, contentOffset, params, e)
}
