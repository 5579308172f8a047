package aba

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
)

// rleA is a Bytekiller stream decoding to 256 'A' bytes.
var rleA = []byte{
	0x80, 0x07, 0xF7, 0x04,
	0x00, 0x00, 0x00, 0x10,
	0x80, 0x07, 0xF7, 0x14,
	0x00, 0x00, 0x01, 0x00,
}

type testEntry struct {
	name         string
	payload      []byte
	uncompressed uint32 // 0 means same as len(payload)
	tag          uint32
	spacePad     bool
}

// writeArchive assembles an ABA file from the given entries and writes
// it into dir.
func writeArchive(t *testing.T, dir, name string, entries []testEntry) string {
	t.Helper()

	var dirBuf, payloads bytes.Buffer
	offset := uint32(dirHeaderSize + len(entries)*entrySize)
	for _, e := range entries {
		raw := make([]byte, nameSize)
		if e.spacePad {
			copy(raw, []byte(e.name+strings.Repeat(" ", nameSize)))
		} else {
			copy(raw, e.name)
		}
		dirBuf.Write(raw)

		uncompressed := e.uncompressed
		if uncompressed == 0 {
			uncompressed = uint32(len(e.payload))
		}
		tag := e.tag
		if tag == 0 {
			tag = Tag
		}
		var rec [16]byte
		binary.BigEndian.PutUint32(rec[0:4], offset)
		binary.BigEndian.PutUint32(rec[4:8], uint32(len(e.payload)))
		binary.BigEndian.PutUint32(rec[8:12], uncompressed)
		binary.BigEndian.PutUint32(rec[12:16], tag)
		dirBuf.Write(rec[:])

		payloads.Write(e.payload)
		offset += uint32(len(e.payload))
	}

	var file bytes.Buffer
	var hdr [dirHeaderSize]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(len(entries)))
	binary.BigEndian.PutUint16(hdr[2:4], entrySize)
	file.Write(hdr[:])
	file.Write(dirBuf.Bytes())
	file.Write(payloads.Bytes())

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, file.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

var testCMD = []byte{0x00, 0x00, 0x08, 0x05, 0x84}

func testArchive(t *testing.T) *Archive {
	t.Helper()
	path := writeArchive(t, t.TempDir(), "TEST.ABA", []testEntry{
		{name: "INTRO.CMD", payload: testCMD},
		{name: "INTRO.POL", payload: []byte("polygon data"), spacePad: true},
		{name: "RLE.BIN", payload: rleA, uncompressed: 256},
		{name: "ORPHAN.CMD", payload: testCMD},
	})
	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestOpen_Directory(t *testing.T) {
	c := qt.New(t)
	a := testArchive(t)
	c.Assert(a.Len(), qt.Equals, 4)
	c.Assert(a.Warnings(), qt.HasLen, 0)
}

func TestOpen_BadEntrySize(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(t.TempDir(), "BAD.ABA")
	c.Assert(os.WriteFile(path, []byte{0x00, 0x01, 0x00, 0x1C}, 0o644), qt.IsNil)
	_, err := Open(path)
	c.Assert(err, qt.ErrorIs, ErrBadEntrySize)
}

func TestOpen_TagMismatchWarns(t *testing.T) {
	c := qt.New(t)
	path := writeArchive(t, t.TempDir(), "TAG.ABA", []testEntry{
		{name: "ODD.BIN", payload: []byte("x"), tag: 0x12345678},
	})
	a, err := Open(path)
	c.Assert(err, qt.IsNil)
	c.Assert(a.Warnings(), qt.HasLen, 1)
	c.Assert(a.Warnings()[0], qt.Contains, "ODD.BIN")
	// A tag mismatch is a warning, never fatal: the entry still extracts.
	data, err := a.Extract("ODD.BIN")
	c.Assert(err, qt.IsNil)
	c.Assert(data, qt.DeepEquals, []byte("x"))
}

func TestExtract_Raw(t *testing.T) {
	c := qt.New(t)
	a := testArchive(t)
	data, err := a.Extract("INTRO.POL")
	c.Assert(err, qt.IsNil)
	c.Assert(data, qt.DeepEquals, []byte("polygon data"))
}

func TestExtract_CaseInsensitive(t *testing.T) {
	c := qt.New(t)
	a := testArchive(t)
	data, err := a.Extract("intro.cmd")
	c.Assert(err, qt.IsNil)
	c.Assert(data, qt.DeepEquals, testCMD)
}

func TestExtract_Compressed(t *testing.T) {
	c := qt.New(t)
	a := testArchive(t)
	data, err := a.Extract("RLE.BIN")
	c.Assert(err, qt.IsNil)
	c.Assert(data, qt.DeepEquals, bytes.Repeat([]byte{'A'}, 256))
}

func TestExtract_Unknown(t *testing.T) {
	c := qt.New(t)
	a := testArchive(t)
	_, err := a.Extract("MISSING.POL")
	c.Assert(err, qt.ErrorIs, ErrUnknownEntry)
}

func TestList_SuffixFilter(t *testing.T) {
	c := qt.New(t)
	a := testArchive(t)

	cmds := a.List(".CMD")
	c.Assert(cmds, qt.HasLen, 2)
	c.Assert(cmds[0].Name, qt.Equals, "INTRO.CMD")
	c.Assert(cmds[1].Name, qt.Equals, "ORPHAN.CMD")

	all := a.List("")
	c.Assert(all, qt.HasLen, 4)
}

func TestEntry_Compressed(t *testing.T) {
	c := qt.New(t)
	a := testArchive(t)
	c.Assert(a.List(".BIN")[0].Compressed(), qt.IsTrue)
	c.Assert(a.List(".POL")[0].Compressed(), qt.IsFalse)
}

func TestCutscenes_Pairing(t *testing.T) {
	c := qt.New(t)
	a := testArchive(t)

	pairs := a.Cutscenes()
	c.Assert(pairs, qt.HasLen, 1)
	c.Assert(pairs[0].Name, qt.Equals, "INTRO")
	c.Assert(pairs[0].CMD, qt.DeepEquals, testCMD)
	c.Assert(pairs[0].POL, qt.DeepEquals, []byte("polygon data"))

	// The orphan CMD leaves a warning behind.
	c.Assert(a.Warnings(), qt.HasLen, 1)
	c.Assert(a.Warnings()[0], qt.Contains, "ORPHAN")
}

func TestOpen_MultipleArchives(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	p1 := writeArchive(t, dir, "A.ABA", []testEntry{{name: "ONE.CMD", payload: testCMD}})
	p2 := writeArchive(t, dir, "B.ABA", []testEntry{{name: "ONE.POL", payload: []byte("pol")}})

	a, err := Open(p1, p2)
	c.Assert(err, qt.IsNil)
	c.Assert(a.Len(), qt.Equals, 2)

	pairs := a.Cutscenes()
	c.Assert(pairs, qt.HasLen, 1)
	c.Assert(pairs[0].POL, qt.DeepEquals, []byte("pol"))
}
