//go:build !unix

package msuncap

// applyDOSAttribs is a no-op off unix: there is no POSIX mode to map DOS
// attribute bits onto.
func applyDOSAttribs(path string, attribs uint16) {}
