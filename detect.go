package msuncap

import "bytes"

// Format tags the container a successfully opened ArchiveHandle holds.
type Format int

const (
	FormatUnknown Format = iota
	FormatCAB
	FormatCHM
	FormatSZDD
	FormatKWAJ
	FormatHLP
	FormatLIT
	FormatOAB
)

func (f Format) String() string {
	switch f {
	case FormatCAB:
		return "cab"
	case FormatCHM:
		return "chm"
	case FormatSZDD:
		return "szdd"
	case FormatKWAJ:
		return "kwaj"
	case FormatHLP:
		return "hlp"
	case FormatLIT:
		return "lit"
	case FormatOAB:
		return "oab"
	default:
		return "unknown"
	}
}

// detectFormat identifies a container by its leading bytes (§6): every
// format this package reads is unambiguous from its first 8 bytes.
func detectFormat(header []byte) Format {
	switch {
	case bytes.HasPrefix(header, []byte("MSCF")):
		return FormatCAB
	case bytes.HasPrefix(header, []byte("ITSF")):
		return FormatCHM
	case bytes.HasPrefix(header, []byte("ITOLITLS")):
		return FormatLIT
	case bytes.HasPrefix(header, []byte("OAB\x00")):
		return FormatOAB
	case bytes.HasPrefix(header, []byte("SZDD")):
		return FormatSZDD
	case bytes.HasPrefix(header, []byte("SZ ")):
		return FormatSZDD
	case bytes.HasPrefix(header, []byte("KWAJ")):
		return FormatKWAJ
	case len(header) >= 4 && header[0] == 0x3F && header[1] == 0x5F && header[2] == 0 && header[3] == 0:
		return FormatHLP
	case len(header) >= 2 && header[0] == 0x3F && header[1] == 0x5F:
		return FormatHLP
	case len(header) >= 4 && header[0] == 0x35 && header[1] == 0xF3:
		return FormatHLP
	default:
		return FormatUnknown
	}
}
