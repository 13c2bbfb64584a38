// Command msuncap lists, inspects, and extracts the legacy Microsoft
// compressed container formats this module reads (§6): CAB, CHM, LIT,
// HLP, SZDD, KWAJ, and OAB.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/msuncap/msuncap"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "list":
		err = runList(args)
	case "info":
		err = runInfo(args)
	case "extract":
		err = runExtract(args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "msuncap:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: msuncap <list|info|extract> [flags] <archive>")
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	pattern := fs.String("pattern", "", "only list entries matching this glob")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("list: expected exactly one archive path")
	}

	h, err := msuncap.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer h.Close()

	entries := h.Entries()
	if *pattern != "" {
		entries, err = h.EntriesMatching(*pattern)
		if err != nil {
			return err
		}
	}
	for _, e := range entries {
		fmt.Printf("%10d  %s\n", e.Length, e.Name)
	}
	return nil
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("info: expected exactly one archive path")
	}

	h, err := msuncap.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer h.Close()

	info := h.Info()
	fmt.Printf("format:      %s\n", info.Format)
	fmt.Printf("files:       %d\n", info.FileCount)
	fmt.Printf("uncompressed: %d\n", info.TotalUncompressed)
	fmt.Printf("compressed:  %d\n", info.CompressedSize)
	fmt.Printf("ratio:       %.3f\n", info.Ratio())
	return nil
}

func runExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	dest := fs.String("dest", ".", "output directory")
	preserve := fs.Bool("preserve-paths", true, "recreate the archive's internal directory structure")
	overwrite := fs.Bool("overwrite", false, "overwrite existing files")
	pattern := fs.String("pattern", "", "only extract entries matching this glob")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("extract: expected exactly one archive path")
	}

	h, err := msuncap.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer h.Close()

	results := msuncap.ExtractAll(h, msuncap.ExtractOptions{
		Dest:          *dest,
		PreservePaths: *preserve,
		Overwrite:     *overwrite,
		Pattern:       *pattern,
	})

	failures := 0
	for _, r := range results {
		if r.Err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "msuncap: %s: %v\n", r.Entry.Name, r.Err)
			continue
		}
		fmt.Println(r.Entry.Name)
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d entries failed", failures, len(results))
	}
	return nil
}
