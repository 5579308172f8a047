// Package flashback extracts and decodes cutscene assets from the 1992
// Delphine Software game Flashback.
//
// A cutscene is stored as two companion assets: a POL file holding the
// vector shapes and palettes, and a CMD file holding the opcode script
// that sequences playback. Either may be Bytekiller-compressed. This
// package ties the codecs together and exposes a single extraction entry
// point:
//
//	cs, err := flashback.Extract("LOGOS", cmdData, polData)
//
// The resulting Cutscene marshals to the JSON layout consumed by the
// renderer. Decoding is pure: no I/O, no shared state, and independent
// buffers may be decoded concurrently. Shape and palette decoding lives
// in the pol package, script decoding in the script package, archive
// access in the aba package, and the command-line front-end in cmd/fbext.
package flashback
