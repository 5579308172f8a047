// Package aba reads the ABA container archives that ship Flashback's
// cutscene, sound and level assets.
//
// An archive starts with a big-endian entry count and entry-record size
// (always 30), followed by the directory: 14 bytes of padded ASCII name,
// the file offset, the compressed and uncompressed sizes and the magic
// tag "D.M." (Delphine Multimedia). An entry is compressed exactly when
// its two sizes differ, in which case extraction runs the Bytekiller
// decompressor over the stored bytes.
package aba

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/arodic/flashback/internal/bytekiller"
)

// Tag is the magic marking valid ABA directory entries ("D.M.").
const Tag = 0x442E4D2E

const (
	dirHeaderSize = 4
	entrySize     = 30
	nameSize      = 14
)

var (
	// ErrUnknownEntry is returned by Extract for names absent from the
	// directory.
	ErrUnknownEntry = errors.New("aba: entry not found")
	// ErrBadEntrySize is returned when the archive header declares an
	// entry-record size other than 30.
	ErrBadEntrySize = errors.New("aba: unexpected entry record size")
	// ErrTruncated is returned when the directory overruns the file.
	ErrTruncated = errors.New("aba: truncated archive")
)

// Entry is one file record of an archive directory.
type Entry struct {
	Name             string
	Offset           uint32
	CompressedSize   uint32
	UncompressedSize uint32
	Tag              uint32

	file int // index into Archive.paths
}

// Compressed reports whether the entry's payload is Bytekiller
// compressed.
func (e *Entry) Compressed() bool {
	return e.CompressedSize != e.UncompressedSize
}

// Pair is a cutscene's CMD/POL asset pair, already decompressed.
type Pair struct {
	Name string // uppercase stem shared by both assets
	CMD  []byte
	POL  []byte
}

// Archive is the merged directory of one or more ABA files. Lookups are
// case-insensitive; extraction re-opens the backing file on demand.
type Archive struct {
	entries  map[string]*Entry
	paths    []string
	warnings []string
}

// Open reads the directories of the given archive files.
func Open(paths ...string) (*Archive, error) {
	a := &Archive{entries: make(map[string]*Entry)}
	for _, path := range paths {
		if err := a.load(path); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Archive) load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var hdr [dirHeaderSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("%w: %s", ErrTruncated, path)
	}
	count := int(binary.BigEndian.Uint16(hdr[0:2]))
	recSize := int(binary.BigEndian.Uint16(hdr[2:4]))
	if recSize != entrySize {
		return fmt.Errorf("%w: %d", ErrBadEntrySize, recSize)
	}

	dir := make([]byte, count*entrySize)
	if _, err := f.ReadAt(dir, dirHeaderSize); err != nil {
		return fmt.Errorf("%w: %s directory", ErrTruncated, path)
	}

	fileIndex := len(a.paths)
	a.paths = append(a.paths, path)

	for i := 0; i < count; i++ {
		rec := dir[i*entrySize:]
		e := &Entry{
			Name:             entryName(rec[:nameSize]),
			Offset:           binary.BigEndian.Uint32(rec[14:18]),
			CompressedSize:   binary.BigEndian.Uint32(rec[18:22]),
			UncompressedSize: binary.BigEndian.Uint32(rec[22:26]),
			Tag:              binary.BigEndian.Uint32(rec[26:30]),
			file:             fileIndex,
		}
		if e.Tag != Tag {
			a.warnings = append(a.warnings, fmt.Sprintf("entry %q has unexpected tag 0x%08x", e.Name, e.Tag))
		}
		a.entries[strings.ToUpper(e.Name)] = e
	}
	return nil
}

// entryName decodes a 14-byte null-or-space-padded ASCII name field.
func entryName(raw []byte) string {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimRight(string(raw), " ")
}

// Len returns the number of directory entries.
func (a *Archive) Len() int { return len(a.entries) }

// Warnings returns the diagnostics accumulated while reading directories
// and pairing cutscene assets.
func (a *Archive) Warnings() []string { return a.warnings }

// List returns the directory sorted by name. A non-empty suffix filters
// case-insensitively, e.g. ".POL".
func (a *Archive) List(suffix string) []*Entry {
	suffix = strings.ToUpper(suffix)
	entries := make([]*Entry, 0, len(a.entries))
	for _, e := range a.entries {
		if suffix == "" || strings.HasSuffix(strings.ToUpper(e.Name), suffix) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Extract reads the named entry and decompresses it when the directory
// marks it as compressed. The lookup is case-insensitive.
func (a *Archive) Extract(name string) ([]byte, error) {
	e, ok := a.entries[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntry, name)
	}

	f, err := os.Open(a.paths[e.file])
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data := make([]byte, e.CompressedSize)
	if _, err := f.ReadAt(data, int64(e.Offset)); err != nil {
		return nil, fmt.Errorf("%w: %s at 0x%08x", ErrTruncated, e.Name, e.Offset)
	}

	if e.Compressed() {
		out, err := bytekiller.Unpack(data)
		if err != nil {
			return nil, fmt.Errorf("aba: %s: %w", e.Name, err)
		}
		return out, nil
	}
	return data, nil
}

// Cutscenes pairs every .CMD entry with the .POL entry of the same stem
// and extracts both. Pairs whose assets are missing or fail to extract
// are skipped with a recorded warning. Results are sorted by name.
func (a *Archive) Cutscenes() []Pair {
	var pairs []Pair
	for _, e := range a.List(".CMD") {
		stem := strings.ToUpper(strings.TrimSuffix(e.Name, ".CMD"))

		cmd, err := a.Extract(e.Name)
		if err != nil {
			a.warnings = append(a.warnings, fmt.Sprintf("extracting %s: %v", e.Name, err))
			continue
		}
		pol, err := a.Extract(stem + ".POL")
		if err != nil {
			a.warnings = append(a.warnings, fmt.Sprintf("extracting %s.POL: %v", stem, err))
			continue
		}
		pairs = append(pairs, Pair{Name: stem, CMD: cmd, POL: pol})
	}
	return pairs
}
