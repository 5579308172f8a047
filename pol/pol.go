// Package pol decodes the POL vector-graphics asset format of Flashback
// cutscenes.
//
// A POL file stores shapes as lists of drawing primitives (polygons,
// ellipses and points) sharing a vertex pool, plus one or more 16-colour
// palettes in the Amiga 0x0RGB format. Shapes and vertices are both
// resolved through an offset table into a data region; the five region
// pointers live at fixed positions in a 20-byte header.
package pol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the size of the POL file header in bytes.
const HeaderSize = 0x14

var (
	// ErrTruncated is returned when a read runs past the end of the buffer.
	ErrTruncated = errors.New("pol: truncated data")
	// ErrBadHeader is returned when the header pointers produce
	// negative table sizes.
	ErrBadHeader = errors.New("pol: bad header")
)

// Document is the decoded content of a POL file.
type Document struct {
	Palettes []Palette
	Shapes   []Shape
}

// header holds the five region pointers of a POL file.
type header struct {
	shapeOffsetTable  int // 0x02
	paletteData       int // 0x06
	vertexOffsetTable int // 0x0A
	shapeData         int // 0x0E
	vertexData        int // 0x12
}

type decoder struct {
	data []byte
	hdr  header
}

// Decode parses a complete POL buffer.
func Decode(data []byte) (*Document, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d byte header", ErrTruncated, len(data))
	}
	d := &decoder{data: data}
	d.hdr = header{
		shapeOffsetTable:  int(binary.BigEndian.Uint16(data[0x02:])),
		paletteData:       int(binary.BigEndian.Uint16(data[0x06:])),
		vertexOffsetTable: int(binary.BigEndian.Uint16(data[0x0A:])),
		shapeData:         int(binary.BigEndian.Uint16(data[0x0E:])),
		vertexData:        int(binary.BigEndian.Uint16(data[0x12:])),
	}

	shapeCount := (d.hdr.paletteData - d.hdr.shapeOffsetTable) / 2
	paletteBytes := d.hdr.vertexOffsetTable - d.hdr.paletteData
	if shapeCount < 0 || paletteBytes < 0 {
		return nil, fmt.Errorf("%w: region pointers out of order", ErrBadHeader)
	}
	paletteCount := max(1, paletteBytes/PaletteSize)

	doc := &Document{
		Palettes: make([]Palette, 0, paletteCount),
		Shapes:   make([]Shape, 0, shapeCount),
	}
	for i := 0; i < paletteCount; i++ {
		p, err := d.palette(i)
		if err != nil {
			return nil, err
		}
		doc.Palettes = append(doc.Palettes, p)
	}
	for s := 0; s < shapeCount; s++ {
		shape, err := d.shape(s)
		if err != nil {
			return nil, err
		}
		doc.Shapes = append(doc.Shapes, shape)
	}
	return doc, nil
}

// --- bounds-checked reads ---

func (d *decoder) u8(off int) (byte, error) {
	if off < 0 || off >= len(d.data) {
		return 0, fmt.Errorf("%w at 0x%04x", ErrTruncated, off)
	}
	return d.data[off], nil
}

func (d *decoder) u16(off int) (uint16, error) {
	if off < 0 || off+2 > len(d.data) {
		return 0, fmt.Errorf("%w at 0x%04x", ErrTruncated, off)
	}
	return binary.BigEndian.Uint16(d.data[off:]), nil
}

func (d *decoder) s16(off int) (int16, error) {
	v, err := d.u16(off)
	return int16(v), err
}

// palette decodes the i'th 32-byte palette.
func (d *decoder) palette(i int) (Palette, error) {
	var p Palette
	base := d.hdr.paletteData + i*PaletteSize
	for c := 0; c < 16; c++ {
		v, err := d.u16(base + c*2)
		if err != nil {
			return p, err
		}
		p[c] = colorFromAmiga(v)
	}
	return p, nil
}

// shape decodes shape s through the shape offset table.
func (d *decoder) shape(s int) (Shape, error) {
	rel, err := d.u16(d.hdr.shapeOffsetTable + 2*s)
	if err != nil {
		return Shape{}, err
	}
	pos := d.hdr.shapeData + int(rel)

	count, err := d.u16(pos)
	if err != nil {
		return Shape{}, err
	}
	pos += 2

	shape := Shape{ID: s, Primitives: make([]Primitive, 0, count)}
	for i := 0; i < int(count); i++ {
		prim, n, err := d.primitive(pos)
		if err != nil {
			return Shape{}, err
		}
		pos += n
		shape.Primitives = append(shape.Primitives, prim)
	}
	return shape, nil
}

// primitive decodes one primitive record at pos and returns it together
// with the number of bytes consumed from the shape data region.
func (d *decoder) primitive(pos int) (Primitive, int, error) {
	w, err := d.u16(pos)
	if err != nil {
		return Primitive{}, 0, err
	}
	n := 2

	var prim Primitive
	prim.HasAlpha = w&0x4000 != 0
	if w&0x8000 != 0 {
		if prim.OffsetX, err = d.s16(pos + n); err != nil {
			return Primitive{}, 0, err
		}
		if prim.OffsetY, err = d.s16(pos + n + 2); err != nil {
			return Primitive{}, 0, err
		}
		n += 4
	}

	color, err := d.u8(pos + n)
	if err != nil {
		return Primitive{}, 0, err
	}
	prim.Color = color
	n++

	if prim.Data, err = d.vertex(int(w & 0x3FFF)); err != nil {
		return Primitive{}, 0, err
	}
	return prim, n, nil
}

// vertex decodes the vertex blob referenced by index v and returns a
// Point, Ellipse or Polygon.
func (d *decoder) vertex(v int) (any, error) {
	rel, err := d.u16(d.hdr.vertexOffsetTable + 2*v)
	if err != nil {
		return nil, err
	}
	pos := d.hdr.vertexData + int(rel)

	count, err := d.u8(pos)
	if err != nil {
		return nil, err
	}
	pos++

	switch {
	case count == 0:
		x, err := d.s16(pos)
		if err != nil {
			return nil, err
		}
		y, err := d.s16(pos + 2)
		if err != nil {
			return nil, err
		}
		return Point{X: x, Y: y}, nil

	case count&0x80 != 0:
		var e Ellipse
		if e.CX, err = d.s16(pos); err != nil {
			return nil, err
		}
		if e.CY, err = d.s16(pos + 2); err != nil {
			return nil, err
		}
		if e.RX, err = d.s16(pos + 4); err != nil {
			return nil, err
		}
		if e.RY, err = d.s16(pos + 6); err != nil {
			return nil, err
		}
		return e, nil

	default:
		// First vertex is absolute, the rest accumulate signed byte
		// deltas. A count byte of N yields N+1 vertices.
		x, err := d.s16(pos)
		if err != nil {
			return nil, err
		}
		y, err := d.s16(pos + 2)
		if err != nil {
			return nil, err
		}
		pos += 4

		poly := Polygon{Vertices: make([]Vertex, 0, int(count)+1)}
		poly.Vertices = append(poly.Vertices, Vertex{X: x, Y: y})
		for i := 0; i < int(count); i++ {
			dx, err := d.u8(pos)
			if err != nil {
				return nil, err
			}
			dy, err := d.u8(pos + 1)
			if err != nil {
				return nil, err
			}
			pos += 2
			x += int16(int8(dx))
			y += int16(int8(dy))
			poly.Vertices = append(poly.Vertices, Vertex{X: x, Y: y})
		}
		return poly, nil
	}
}
