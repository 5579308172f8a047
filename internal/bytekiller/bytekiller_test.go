package bytekiller

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/arodic/flashback/internal/bitio"
)

// abab is a hand-assembled stream for the output "ABABABAB": one 2-byte
// literal run followed by three 2-byte back-references at offset 2.
// Bit-exact layout: the prime word carries the first 19 bits plus the
// register sentinel; the single data word carries the remaining 32.
var abab = []byte{
	0x40, 0x90, 0x24, 0x0A, // data word
	0x00, 0x08, 0x48, 0x50, // prime
	0x40, 0x98, 0x6C, 0x5A, // crc seed (prime ^ data word)
	0x00, 0x00, 0x00, 0x08, // output size
}

// runA encodes 256 'A' bytes as a 1-byte literal plus a 255-byte
// back-reference at offset 1.
var runA = []byte{
	0x80, 0x07, 0xF7, 0x04, // data word
	0x00, 0x00, 0x00, 0x10, // prime
	0x80, 0x07, 0xF7, 0x14, // crc seed
	0x00, 0x00, 0x01, 0x00, // output size
}

func TestUnpack_LiteralsAndReferences(t *testing.T) {
	out, err := Unpack(abab)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "ABABABAB" {
		t.Fatalf("output = %q, want %q", out, "ABABABAB")
	}
}

func TestUnpack_LongRun(t *testing.T) {
	out, err := Unpack(runA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := bytes.Repeat([]byte{'A'}, 256)
	if !bytes.Equal(out, want) {
		t.Fatalf("output mismatch: got %d bytes", len(out))
	}
}

func TestUnpack_OutputMatchesDeclaredSize(t *testing.T) {
	for _, src := range [][]byte{abab, runA} {
		out, err := Unpack(src)
		if err != nil {
			t.Fatal(err)
		}
		declared := binary.BigEndian.Uint32(src[len(src)-4:])
		if len(out) != int(declared) {
			t.Fatalf("output length = %d, want declared %d", len(out), declared)
		}
	}
}

func TestUnpack_TooShort(t *testing.T) {
	_, err := Unpack(make([]byte, 11))
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}

func TestUnpack_CRCMismatch(t *testing.T) {
	src := bytes.Clone(abab)
	src[8] ^= 0xFF // corrupt the seed word
	_, err := Unpack(src)
	if !errors.Is(err, ErrCRCMismatch) {
		t.Fatalf("expected ErrCRCMismatch, got %v", err)
	}
}

func TestUnpack_TruncatedStream(t *testing.T) {
	// Inflate the declared size so the decoder runs out of bitstream.
	src := bytes.Clone(abab)
	binary.BigEndian.PutUint32(src[len(src)-4:], 64)
	_, err := Unpack(src)
	if !errors.Is(err, bitio.ErrUnexpectedEnd) {
		t.Fatalf("expected ErrUnexpectedEnd, got %v", err)
	}
}

func TestLooksCompressed(t *testing.T) {
	trailer := func(n int, size uint32) []byte {
		buf := make([]byte, n)
		binary.BigEndian.PutUint32(buf[n-4:], size)
		return buf
	}
	tests := []struct {
		name string
		buf  []byte
		want bool
	}{
		{"too short", make([]byte, 11), false},
		{"size below length", trailer(16, 8), false},
		{"size equals length", trailer(16, 16), false},
		{"size just above length", trailer(16, 17), true},
		{"size below 20x", trailer(16, 319), true},
		{"size at 20x", trailer(16, 320), false},
		{"rle stream", runA, true},
		{"abab stream", abab, false}, // output smaller than stream
	}
	for _, tt := range tests {
		if got := LooksCompressed(tt.buf); got != tt.want {
			t.Errorf("%s: LooksCompressed = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLooksCompressed_FalseOnDecodedOutput(t *testing.T) {
	out, err := Unpack(runA)
	if err != nil {
		t.Fatal(err)
	}
	if LooksCompressed(out) {
		t.Fatal("decoded output must not look compressed")
	}
}

func FuzzUnpack(f *testing.F) {
	f.Add(abab)
	f.Add(runA)
	f.Add(make([]byte, 16))
	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) >= 12 {
			// Cap the declared size so the fuzzer cannot demand
			// gigabyte allocations.
			size := binary.BigEndian.Uint32(data[len(data)-4:])
			if size > 1<<20 {
				t.Skip()
			}
		}
		out, err := Unpack(data)
		if err != nil {
			return
		}
		declared := binary.BigEndian.Uint32(data[len(data)-4:])
		if len(out) != int(declared) {
			t.Fatalf("output length %d != declared %d", len(out), declared)
		}
	})
}
