// Package chunkio implements hoshi's binary chunk file format: a
// magic number, a version gate, the constant pool, the instruction
// stream, and the line-start index, all fixed-width little-endian.
// An optional human-debuggable mode interleaves ASCII section markers
// so a chunk file can be eyeballed without a disassembler.
package chunkio

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"hoshi/chunk"
	"hoshi/value"
)

// ErrBadMagic is returned when a file's leading 7 bytes don't match
// chunk.MagicNumber.
var ErrBadMagic = errors.New("chunkio: magic number mismatch, not a hoshi chunk")

// ErrTooOld is returned when a file's version predates the minimum
// version the loader was asked to accept.
type ErrTooOld struct {
	Got      Version
	Expected Version
}

func (e *ErrTooOld) Error() string {
	return "chunkio: chunk version " + e.Got.String() + " is older than minimum readable version " + e.Expected.String()
}

// StringMaker is the interning hook Load uses to materialize string
// constants. *vm.VM implements this so that every string loaded from
// disk passes through the same intern table as strings assembled from
// source.
type StringMaker interface {
	MakeString(ownsChars bool, chars []byte) *value.ObjectString
}

// Options controls the optional debug-flags wire mode and the
// free-form notes trailer.
type Options struct {
	// DebugFlags, when true, interleaves ASCII section markers
	// (.magic, .version, .consts, .code, .lines, .notes, and per-value
	// '#'/'/'/'=' markers) into the stream. A file written with flags
	// can only be read with flags enabled, and vice versa.
	DebugFlags bool
	// Notes is an arbitrary provenance string stamped into the
	// trailing notes section (spec.md §4.7's optional trailing
	// "notes" marker; see SPEC_FULL.md §10).
	Notes []byte
}

const (
	tagNumber byte = iota
	tagBool
	tagNil
	tagObject
)

const tagObjectString byte = 0

func flag(w io.Writer, opts Options, marker string) error {
	if !opts.DebugFlags {
		return nil
	}
	_, err := io.WriteString(w, marker)
	return err
}

func skipFlag(r io.Reader, opts Options, marker string) error {
	if !opts.DebugFlags {
		return nil
	}
	buf := make([]byte, len(marker))
	_, err := io.ReadFull(r, buf)
	if err != nil {
		return err
	}
	if string(buf) != marker {
		return errors.Errorf("chunkio: expected debug marker %q, got %q", marker, buf)
	}
	return nil
}

func writeU8(w io.Writer, v uint8) error  { return binary.Write(w, binary.LittleEndian, v) }
func writeU16(w io.Writer, v uint16) error { return binary.Write(w, binary.LittleEndian, v) }
func writeU32(w io.Writer, v uint32) error { return binary.Write(w, binary.LittleEndian, v) }
func writeF64(w io.Writer, v float64) error { return binary.Write(w, binary.LittleEndian, v) }

func readU8(r io.Reader) (uint8, error) {
	var v uint8
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}
func readU16(r io.Reader) (uint16, error) {
	var v uint16
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}
func readU32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}
func readF64(r io.Reader) (float64, error) {
	var v float64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeObject(w io.Writer, obj value.Object, opts Options) error {
	if err := flag(w, opts, "/"); err != nil {
		return err
	}
	switch o := obj.(type) {
	case *value.ObjectString:
		if err := writeU8(w, tagObjectString); err != nil {
			return err
		}
		if err := flag(w, opts, "="); err != nil {
			return err
		}
		if err := writeU32(w, uint32(len(o.Chars))); err != nil {
			return err
		}
		_, err := w.Write(o.Chars)
		return err
	default:
		return errors.Errorf("chunkio: cannot write object of unknown type %T", obj)
	}
}

func readObject(r io.Reader, maker StringMaker, opts Options) (value.Object, error) {
	if err := skipFlag(r, opts, "/"); err != nil {
		return nil, err
	}
	tag, err := readU8(r)
	if err != nil {
		return nil, err
	}
	if err := skipFlag(r, opts, "="); err != nil {
		return nil, err
	}
	switch tag {
	case tagObjectString:
		length, err := readU32(r)
		if err != nil {
			return nil, err
		}
		chars := make([]byte, length)
		if _, err := io.ReadFull(r, chars); err != nil {
			return nil, err
		}
		return maker.MakeString(true, chars), nil
	default:
		return nil, errors.Errorf("chunkio: unknown object tag %d", tag)
	}
}

func writeValue(w io.Writer, v value.Value, opts Options) error {
	if err := flag(w, opts, "#"); err != nil {
		return err
	}
	var tag byte
	switch v.Kind {
	case value.KindNumber:
		tag = tagNumber
	case value.KindBool:
		tag = tagBool
	case value.KindNil:
		tag = tagNil
	case value.KindObject:
		tag = tagObject
	}
	if err := writeU8(w, tag); err != nil {
		return err
	}
	if err := flag(w, opts, "="); err != nil {
		return err
	}
	switch v.Kind {
	case value.KindNumber:
		return writeF64(w, v.AsNumber())
	case value.KindBool:
		b := uint8(0)
		if v.AsBool() {
			b = 1
		}
		return writeU8(w, b)
	case value.KindNil:
		return nil
	case value.KindObject:
		return writeObject(w, v.AsObject(), opts)
	default:
		return errors.Errorf("chunkio: cannot write value of unknown kind %v", v.Kind)
	}
}

func readValue(r io.Reader, maker StringMaker, opts Options) (value.Value, error) {
	if err := skipFlag(r, opts, "#"); err != nil {
		return value.Nil, err
	}
	tag, err := readU8(r)
	if err != nil {
		return value.Nil, err
	}
	if err := skipFlag(r, opts, "="); err != nil {
		return value.Nil, err
	}
	switch tag {
	case tagNumber:
		n, err := readF64(r)
		if err != nil {
			return value.Nil, err
		}
		return value.Number(n), nil
	case tagBool:
		b, err := readU8(r)
		if err != nil {
			return value.Nil, err
		}
		return value.Bool(b != 0), nil
	case tagNil:
		return value.Nil, nil
	case tagObject:
		obj, err := readObject(r, maker, opts)
		if err != nil {
			return value.Nil, err
		}
		return value.Obj(obj), nil
	default:
		return value.Nil, errors.Errorf("chunkio: unknown value tag %d", tag)
	}
}

// Save writes c to w in hoshi's binary chunk format.
func Save(w io.Writer, c *chunk.Chunk, opts Options) error {
	if err := flag(w, opts, ".magic"); err != nil {
		return err
	}
	if _, err := w.Write(chunk.MagicNumber[:]); err != nil {
		return errors.Wrap(err, "chunkio: writing magic number")
	}

	if err := flag(w, opts, ".version"); err != nil {
		return err
	}
	if err := writeU16(w, CurrentVersion.Major); err != nil {
		return errors.Wrap(err, "chunkio: writing version")
	}
	if err := writeU16(w, CurrentVersion.Minor); err != nil {
		return errors.Wrap(err, "chunkio: writing version")
	}

	if err := flag(w, opts, ".consts"); err != nil {
		return err
	}
	if err := writeU16(w, uint16(len(c.Constants))); err != nil {
		return errors.Wrap(err, "chunkio: writing constant count")
	}
	for i, v := range c.Constants {
		if err := writeValue(w, v, opts); err != nil {
			return errors.Wrapf(err, "chunkio: writing constant %d", i)
		}
	}

	if err := flag(w, opts, ".code"); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(c.Code))); err != nil {
		return errors.Wrap(err, "chunkio: writing instruction count")
	}
	if _, err := w.Write(c.Code); err != nil {
		return errors.Wrap(err, "chunkio: writing instructions")
	}

	if err := flag(w, opts, ".lines"); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(c.Lines))); err != nil {
		return errors.Wrap(err, "chunkio: writing line count")
	}
	for _, l := range c.Lines {
		if err := writeU32(w, uint32(l.Offset)); err != nil {
			return errors.Wrap(err, "chunkio: writing line marker")
		}
		if err := writeU32(w, uint32(l.Line)); err != nil {
			return errors.Wrap(err, "chunkio: writing line marker")
		}
	}

	if err := flag(w, opts, ".notes"); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(opts.Notes))); err != nil {
		return errors.Wrap(err, "chunkio: writing notes length")
	}
	if _, err := w.Write(opts.Notes); err != nil {
		return errors.Wrap(err, "chunkio: writing notes")
	}

	return nil
}

// Load reads a chunk from r, rejecting files whose magic number
// doesn't match or whose version predates minVersion. String
// constants are materialized through maker so they're interned the
// same way source-assembled strings are.
func Load(r io.Reader, maker StringMaker, minVersion Version, opts Options) (*chunk.Chunk, Version, []byte, error) {
	var zero Version

	if err := skipFlag(r, opts, ".magic"); err != nil {
		return nil, zero, nil, errors.Wrap(err, "chunkio: reading magic number")
	}
	var magic [7]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, zero, nil, errors.Wrap(err, "chunkio: reading magic number")
	}
	if magic != chunk.MagicNumber {
		return nil, zero, nil, ErrBadMagic
	}

	if err := skipFlag(r, opts, ".version"); err != nil {
		return nil, zero, nil, errors.Wrap(err, "chunkio: reading version")
	}
	major, err := readU16(r)
	if err != nil {
		return nil, zero, nil, errors.Wrap(err, "chunkio: reading version")
	}
	minor, err := readU16(r)
	if err != nil {
		return nil, zero, nil, errors.Wrap(err, "chunkio: reading version")
	}
	version := Version{Major: major, Minor: minor}
	if version.OlderThan(minVersion) {
		return nil, version, nil, &ErrTooOld{Got: version, Expected: minVersion}
	}

	c := chunk.New()

	if err := skipFlag(r, opts, ".consts"); err != nil {
		return nil, version, nil, errors.Wrap(err, "chunkio: reading constant count")
	}
	constCount, err := readU16(r)
	if err != nil {
		return nil, version, nil, errors.Wrap(err, "chunkio: reading constant count")
	}
	c.Constants = make([]value.Value, constCount)
	for i := range c.Constants {
		v, err := readValue(r, maker, opts)
		if err != nil {
			return nil, version, nil, errors.Wrapf(err, "chunkio: reading constant %d", i)
		}
		c.Constants[i] = v
	}

	if err := skipFlag(r, opts, ".code"); err != nil {
		return nil, version, nil, errors.Wrap(err, "chunkio: reading instruction count")
	}
	codeCount, err := readU32(r)
	if err != nil {
		return nil, version, nil, errors.Wrap(err, "chunkio: reading instruction count")
	}
	c.Code = make([]byte, codeCount)
	if _, err := io.ReadFull(r, c.Code); err != nil {
		return nil, version, nil, errors.Wrap(err, "chunkio: reading instructions")
	}

	if err := skipFlag(r, opts, ".lines"); err != nil {
		return nil, version, nil, errors.Wrap(err, "chunkio: reading line count")
	}
	lineCount, err := readU32(r)
	if err != nil {
		return nil, version, nil, errors.Wrap(err, "chunkio: reading line count")
	}
	c.Lines = make([]chunk.LineStart, lineCount)
	for i := range c.Lines {
		offset, err := readU32(r)
		if err != nil {
			return nil, version, nil, errors.Wrap(err, "chunkio: reading line marker")
		}
		line, err := readU32(r)
		if err != nil {
			return nil, version, nil, errors.Wrap(err, "chunkio: reading line marker")
		}
		c.Lines[i] = chunk.LineStart{Offset: int(offset), Line: int(line)}
	}

	if err := skipFlag(r, opts, ".notes"); err != nil {
		return nil, version, nil, errors.Wrap(err, "chunkio: reading notes length")
	}
	notesLen, err := readU32(r)
	if err != nil {
		// A chunk written before the notes trailer existed is still
		// a valid, fully-read chunk; treat EOF here as "no notes".
		if errors.Is(err, io.EOF) {
			return c, version, nil, nil
		}
		return nil, version, nil, errors.Wrap(err, "chunkio: reading notes length")
	}
	notes := make([]byte, notesLen)
	if _, err := io.ReadFull(r, notes); err != nil {
		return nil, version, nil, errors.Wrap(err, "chunkio: reading notes")
	}

	return c, version, notes, nil
}
