package msuncap

import (
	"io"
	"os"
	"path/filepath"
)

// ExtractOptions controls ExtractAll's filesystem behaviour (§4.6/§7).
type ExtractOptions struct {
	Dest          string
	PreservePaths bool
	Overwrite     bool
	// Pattern restricts extraction to matching entries (doublestar glob,
	// "" means everything).
	Pattern string
}

// ExtractResult reports one entry's outcome. A non-nil Err means this
// single entry failed; ExtractAll keeps going, isolating the failure to
// the entry (and its folder, for archive formats where a folder's codec
// state is now unusable) rather than aborting the whole run (§4.6/§7).
type ExtractResult struct {
	Entry Entry
	Err   error
}

// ExtractAll walks every entry in h (or every entry matching
// opts.Pattern), writing each to opts.Dest. Entries sharing a folder are
// extracted in ascending offset order so a streaming codec only ever
// skips forward; a decode failure discards that folder's in-flight state
// (by construction: backend.extract re-derives it per call) and the
// remaining folders are still attempted.
func ExtractAll(h *ArchiveHandle, opts ExtractOptions) []ExtractResult {
	var entries []Entry
	if opts.Pattern != "" {
		matched, err := h.EntriesMatching(opts.Pattern)
		if err != nil {
			return []ExtractResult{{Err: err}}
		}
		entries = matched
	} else {
		entries = h.Entries()
	}

	ordered := orderForStreaming(entries)

	results := make([]ExtractResult, 0, len(ordered))
	for _, e := range ordered {
		results = append(results, ExtractResult{Entry: e, Err: extractOne(h, e, opts)})
	}
	return results
}

// orderForStreaming groups entries by groupID and sorts each group by
// offset, preserving group discovery order otherwise; CAB/CHM/LIT rely on
// this so a folder's LZX or MSZIP decoder is never asked to seek backward.
func orderForStreaming(entries []Entry) []Entry {
	groupOrder := make([]int64, 0)
	groups := make(map[int64][]Entry)
	for _, e := range entries {
		if _, ok := groups[e.groupID]; !ok {
			groupOrder = append(groupOrder, e.groupID)
		}
		groups[e.groupID] = append(groups[e.groupID], e)
	}
	out := make([]Entry, 0, len(entries))
	for _, g := range groupOrder {
		bucket := groups[g]
		sortEntriesByOffset(bucket)
		out = append(out, bucket...)
	}
	return out
}

func sortEntriesByOffset(entries []Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].offset > entries[j].offset; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

func extractOne(h *ArchiveHandle, e Entry, opts ExtractOptions) error {
	rel, err := normalizeEntryPath(e.Name)
	if err != nil {
		return NewError(KindPolicy, "msuncap.extractOne", err)
	}
	if !opts.PreservePaths {
		rel = basename(rel)
	}

	outPath := filepath.Join(opts.Dest, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(outPath), 0o777); err != nil {
		return NewError(KindIO, "msuncap.extractOne", err)
	}

	if !opts.Overwrite {
		if _, err := os.Stat(outPath); err == nil {
			return NewError(KindPolicy, "msuncap.extractOne", ErrOutputExists)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".msuncap-*")
	if err != nil {
		return NewError(KindIO, "msuncap.extractOne", err)
	}
	tmpPath := tmp.Name()

	writeErr := h.Extract(e, tmp)
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return writeErr
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return NewError(KindIO, "msuncap.extractOne", closeErr)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return NewError(KindIO, "msuncap.extractOne", err)
	}
	applyDOSAttribs(outPath, e.Attribs)
	return nil
}

// ExtractEntry extracts a single entry straight to w, bypassing the
// filesystem layer entirely (library callers embedding this in another
// tool, per §6).
func ExtractEntry(h *ArchiveHandle, e Entry, w io.Writer) error {
	return h.Extract(e, w)
}
