//go:build unix

package msuncap

import "golang.org/x/sys/unix"

// applyDOSAttribs maps a CAB entry's DOS attribute bits onto the
// nearest POSIX mode bits for the freshly-written file at path, the same
// spirit as the teacher's own HFS-Finder-flags-to-POSIX-bits mapping (see
// ino_unix.go's build-tag split, mirrored here): AttribReadOnly clears the
// write bits; there is no POSIX equivalent for AttribHidden/AttribSystem,
// so those are left unmapped rather than guessed at.
func applyDOSAttribs(path string, attribs uint16) {
	if attribs == 0 {
		return
	}
	mode := uint32(0o644)
	if attribs&attribReadOnly != 0 {
		mode = 0o444
	}
	unix.Chmod(path, mode)
}
