package msuncap

// attribReadOnly mirrors internal/cab.AttribReadOnly: the DOS FAT
// read-only bit, the one DOS attribute with a direct POSIX mode
// equivalent (see attrs_unix.go).
const attribReadOnly = 1

// Entry is one archived member: enough to extract it and to place it in an
// output tree (§3 Data Model).
type Entry struct {
	Name    string
	Length  int64
	Attribs uint16 // DOS attribute bits (CAB AttribReadOnly/Hidden/System/...), 0 where the container has none
	groupID int64  // folder/section id, extraction-pipeline grouping key
	offset  int64  // byte offset within its group's decoded stream
}

// Info summarises an opened archive (§6).
type Info struct {
	Format            Format
	FileCount         int
	TotalUncompressed int64
	CompressedSize    int64
}

func (info Info) Ratio() float64 {
	if info.TotalUncompressed == 0 {
		return 0
	}
	return float64(info.CompressedSize) / float64(info.TotalUncompressed)
}
