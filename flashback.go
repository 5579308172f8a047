package flashback

import (
	"fmt"
	"strings"

	"github.com/arodic/flashback/internal/bytekiller"
	"github.com/arodic/flashback/pol"
	"github.com/arodic/flashback/script"
)

// Convenience aliases for the shape model, so that callers holding a
// Cutscene rarely need to import the pol package directly.
type (
	Color     = pol.Color
	Palette   = pol.Palette
	Shape     = pol.Shape
	Primitive = pol.Primitive
)

// Cutscene is a fully decoded cutscene: the shape and palette tables of
// its POL asset plus the playback script of its CMD asset.
type Cutscene struct {
	Name     string           `json:"name"`
	Palettes []pol.Palette    `json:"palettes"`
	Shapes   []pol.Shape      `json:"shapes"`
	Script   *script.Document `json:"script"`
}

// MaybeUnpack returns the Bytekiller-decompressed form of data when the
// buffer looks compressed and decodes cleanly. Otherwise data is returned
// unchanged. The boolean reports whether decompression happened.
func MaybeUnpack(data []byte) ([]byte, bool) {
	if !bytekiller.LooksCompressed(data) {
		return data, false
	}
	out, err := bytekiller.Unpack(data)
	if err != nil {
		return data, false
	}
	return out, true
}

// Extract decodes the cutscene stored in the given CMD and POL buffers.
// Compressed buffers are detected and decompressed transparently; a
// buffer that merely resembles a compressed stream but fails to decode
// is parsed as-is.
func Extract(name string, cmdData, polData []byte) (*Cutscene, error) {
	cmdData, _ = MaybeUnpack(cmdData)
	polData, _ = MaybeUnpack(polData)

	doc, err := pol.Decode(polData)
	if err != nil {
		return nil, fmt.Errorf("flashback: %s: decoding POL: %w", name, err)
	}
	scr, err := script.Decode(cmdData)
	if err != nil {
		return nil, fmt.Errorf("flashback: %s: decoding CMD: %w", name, err)
	}

	return &Cutscene{
		Name:     strings.ToUpper(name),
		Palettes: doc.Palettes,
		Shapes:   doc.Shapes,
		Script:   scr,
	}, nil
}
