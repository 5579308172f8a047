// Package script decodes the CMD opcode streams that sequence Flashback
// cutscenes.
//
// A CMD file starts with a big-endian sub-cutscene count followed by that
// many relative offsets into the opcode region; a count of zero means a
// single implicit sub-cutscene at the start of the region. Each stream is
// a run of variable-length commands ending at a byte with the high bit
// set. Commands are grouped into frames at markCurPos boundaries.
package script

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when a command payload runs past the
	// end of the buffer.
	ErrTruncated = errors.New("script: truncated data")
	// ErrBadOpcode is returned for opcode values above 14.
	ErrBadOpcode = errors.New("script: bad opcode")
	// ErrUnterminatedHandlers is returned when a handleKeys command
	// ends before its 0xFF sentinel.
	ErrUnterminatedHandlers = errors.New("script: unterminated key handlers")
)

// Document is the decoded content of a CMD file.
type Document struct {
	SubsceneCount int        `json:"subsceneCount"`
	BaseOffset    int        `json:"baseOffset"`
	Subscenes     []Subscene `json:"subscenes"`
}

// Subscene is one linearly-addressable command stream of the document.
type Subscene struct {
	ID     int     `json:"id"`
	Offset int     `json:"offset"`
	Frames []Frame `json:"frames"`
}

// Frame is a group of commands delimited by markCurPos boundaries. A
// markCurPos command is always the last command of its frame; only a
// trailing frame may end without one.
type Frame struct {
	Commands []Command `json:"commands"`
}

type decoder struct {
	data []byte
	pos  int
}

// Decode parses a complete CMD buffer.
func Decode(data []byte) (*Document, error) {
	d := &decoder{data: data}

	count, err := d.u16()
	if err != nil {
		return nil, err
	}
	base := (int(count) + 1) * 2

	var offsets []int
	if count == 0 {
		offsets = []int{0}
	} else {
		offsets = make([]int, count)
		for i := range offsets {
			off, err := d.u16()
			if err != nil {
				return nil, err
			}
			offsets[i] = int(off)
		}
	}

	doc := &Document{
		SubsceneCount: len(offsets),
		BaseOffset:    base,
		Subscenes:     make([]Subscene, 0, len(offsets)),
	}
	for i, off := range offsets {
		cmds, err := d.commands(base + off)
		if err != nil {
			return nil, fmt.Errorf("subscene %d: %w", i, err)
		}
		doc.Subscenes = append(doc.Subscenes, Subscene{
			ID:     i,
			Offset: off,
			Frames: partition(cmds),
		})
	}
	return doc, nil
}

// commands decodes the command stream starting at start until the end of
// the buffer or a terminator byte.
func (d *decoder) commands(start int) ([]Command, error) {
	if start > len(d.data) {
		return nil, fmt.Errorf("%w: stream start 0x%04x beyond %d byte buffer", ErrTruncated, start, len(d.data))
	}
	d.pos = start

	var cmds []Command
	for d.pos < len(d.data) {
		at := d.pos
		b, err := d.u8()
		if err != nil {
			return nil, err
		}
		if b&0x80 != 0 {
			break
		}
		op := Opcode(b >> 2)
		if op > OpHandleKeys {
			return nil, fmt.Errorf("%w: %d at 0x%04x", ErrBadOpcode, op, at)
		}
		args, err := d.args(op)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, Command{Op: op, Args: args})
	}
	return cmds, nil
}

// args decodes the payload for one opcode.
func (d *decoder) args(op Opcode) (any, error) {
	switch op {
	case OpRefreshScreen:
		mode, err := d.u8()
		if err != nil {
			return nil, err
		}
		return RefreshScreenArgs{ClearMode: mode}, nil

	case OpWaitForSync:
		frames, err := d.u8()
		if err != nil {
			return nil, err
		}
		return WaitForSyncArgs{Frames: frames}, nil

	case OpDrawShape:
		base, err := d.shapeBase()
		if err != nil {
			return nil, err
		}
		return base, nil

	case OpSetPalette:
		num, err := d.u8()
		if err != nil {
			return nil, err
		}
		buf, err := d.u8()
		if err != nil {
			return nil, err
		}
		return SetPaletteArgs{PaletteNum: num, BufferNum: buf}, nil

	case OpDrawCaptionText:
		id, err := d.u16()
		if err != nil {
			return nil, err
		}
		return DrawCaptionTextArgs{StringID: id}, nil

	case OpSkip3:
		var a Skip3Args
		for i := range a.Skipped {
			b, err := d.u8()
			if err != nil {
				return nil, err
			}
			a.Skipped[i] = b
		}
		return a, nil

	case OpDrawShapeScale:
		return d.drawShapeScale()

	case OpDrawShapeScaleRot:
		return d.drawShapeScaleRot()

	case OpDrawTextAtPos:
		return d.drawTextAtPos()

	case OpHandleKeys:
		return d.handleKeys()
	}

	// markCurPos, nop, refreshAll, copyScreen carry no payload.
	return nil, nil
}

// shapeBase reads the shape word shared by the drawShape family: an 11-bit
// shape id plus an optional absolute position selected by bit 15.
func (d *decoder) shapeBase() (DrawShapeArgs, error) {
	w, err := d.u16()
	if err != nil {
		return DrawShapeArgs{}, err
	}
	a := DrawShapeArgs{ShapeID: int(w & 0x7FF)}
	if w&0x8000 != 0 {
		if a.X, err = d.s16(); err != nil {
			return DrawShapeArgs{}, err
		}
		if a.Y, err = d.s16(); err != nil {
			return DrawShapeArgs{}, err
		}
	}
	return a, nil
}

func (d *decoder) drawShapeScale() (any, error) {
	base, err := d.shapeBase()
	if err != nil {
		return nil, err
	}
	a := DrawShapeScaleArgs{DrawShapeArgs: base}
	if a.Zoom, err = d.u16(); err != nil {
		return nil, err
	}
	if a.OriginX, err = d.u8(); err != nil {
		return nil, err
	}
	if a.OriginY, err = d.u8(); err != nil {
		return nil, err
	}
	return a, nil
}

func (d *decoder) drawShapeScaleRot() (any, error) {
	w, err := d.u16()
	if err != nil {
		return nil, err
	}
	a := DrawShapeScaleRotArgs{}
	a.ShapeID = int(w & 0x7FF)
	if w&0x8000 != 0 {
		if a.X, err = d.s16(); err != nil {
			return nil, err
		}
		if a.Y, err = d.s16(); err != nil {
			return nil, err
		}
	}
	if w&0x4000 != 0 {
		if a.Zoom, err = d.u16(); err != nil {
			return nil, err
		}
	}
	if a.OriginX, err = d.u8(); err != nil {
		return nil, err
	}
	if a.OriginY, err = d.u8(); err != nil {
		return nil, err
	}
	if a.RotationA, err = d.u16(); err != nil {
		return nil, err
	}
	a.RotationB = 180
	if w&0x2000 != 0 {
		if a.RotationB, err = d.u16(); err != nil {
			return nil, err
		}
	}
	a.RotationC = 90
	if w&0x1000 != 0 {
		if a.RotationC, err = d.u16(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (d *decoder) drawTextAtPos() (any, error) {
	w, err := d.u16()
	if err != nil {
		return nil, err
	}
	if w == 0xFFFF {
		return nil, nil
	}
	a := DrawTextAtPosArgs{
		StringID: int(w & 0xFFF),
		Color:    int(w>>12) & 0xF,
	}
	x, err := d.u8()
	if err != nil {
		return nil, err
	}
	y, err := d.u8()
	if err != nil {
		return nil, err
	}
	// Cell coordinates, 8 pixels per cell.
	a.X = int(int8(x)) * 8
	a.Y = int(int8(y)) * 8
	return a, nil
}

func (d *decoder) handleKeys() (any, error) {
	a := HandleKeysArgs{Handlers: []KeyHandler{}}
	for {
		mask, err := d.u8()
		if err != nil {
			return nil, fmt.Errorf("%w at 0x%04x", ErrUnterminatedHandlers, d.pos)
		}
		if mask == 0xFF {
			return a, nil
		}
		target, err := d.s16()
		if err != nil {
			return nil, fmt.Errorf("%w at 0x%04x", ErrUnterminatedHandlers, d.pos)
		}
		a.Handlers = append(a.Handlers, KeyHandler{KeyMask: mask, Target: target})
	}
}

// partition groups a linear command list into frames. Each markCurPos
// closes the frame it belongs to.
func partition(cmds []Command) []Frame {
	frames := []Frame{}
	var cur []Command
	for _, c := range cmds {
		cur = append(cur, c)
		if c.Op.IsMarkCurPos() {
			frames = append(frames, Frame{Commands: cur})
			cur = nil
		}
	}
	if len(cur) > 0 {
		frames = append(frames, Frame{Commands: cur})
	}
	return frames
}

// --- cursor reads ---

func (d *decoder) u8() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, fmt.Errorf("%w at 0x%04x", ErrTruncated, d.pos)
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) u16() (uint16, error) {
	if d.pos+2 > len(d.data) {
		return 0, fmt.Errorf("%w at 0x%04x", ErrTruncated, d.pos)
	}
	v := binary.BigEndian.Uint16(d.data[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *decoder) s16() (int16, error) {
	v, err := d.u16()
	return int16(v), err
}
