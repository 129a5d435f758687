package vm

import (
	"encoding/hex"
	"hash/fnv"

	"github.com/dchest/siphash"
	"github.com/pkg/errors"

	"hoshi/value"
)

// hasher computes the 64-bit digest hoshi uses for both string
// interning and the globals table. FNV-1a is the default (stdlib
// hash/fnv implements the exact algorithm hoshi specifies, so no
// third-party replacement is warranted there); a keyed SipHash-2-4
// mode is available for callers who want hash-flooding resistance
// (see SPEC_FULL.md's reserved hashing option).
type hasher func(chars []byte) uint64

func fnv1aHasher() hasher {
	return func(chars []byte) uint64 {
		h := fnv.New64a()
		h.Write(chars)
		return h.Sum64()
	}
}

// sipHasher returns a keyed SipHash-2-4 hasher from a 16-byte
// hex-encoded key, or an error if key isn't exactly 16 bytes once
// decoded.
func sipHasher(hexKey string) (hasher, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "vm: decoding siphash key")
	}
	if len(raw) != 16 {
		return nil, errors.Errorf("vm: siphash key must decode to 16 bytes, got %d", len(raw))
	}
	k0 := le64(raw[0:8])
	k1 := le64(raw[8:16])
	return func(chars []byte) uint64 {
		return siphash.Hash(k0, k1, chars)
	}, nil
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// MakeString implements make_string: it interns by content, freeing
// (dropping) the caller's buffer on a hit rather than ever holding two
// copies of the same text.
func (vm *VM) MakeString(ownsChars bool, chars []byte) *value.ObjectString {
	h := vm.hash(chars)

	if existing := vm.strings.FindString(chars, h); existing != nil {
		return existing
	}

	obj := &value.ObjectString{Chars: chars, OwnsChars: ownsChars, Hash: h}
	vm.tracker.Track(obj)
	vm.strings.Set(obj, value.Nil)
	return obj
}

func (vm *VM) hash(chars []byte) uint64 { return vm.hashFn(chars) }

// escapeError is returned by FormatString on an unrecognized escape;
// the assembler reports it as a compile error.
type escapeError struct {
	seq byte
}

func (e *escapeError) Error() string { return "invalid escape sequence" }

// FormatString implements format_string: it resolves backslash
// escapes in a lexed string literal's raw contents into an owned
// buffer no longer than the input. The lexer itself never interprets
// escapes, so every string literal passes through here exactly once.
func FormatString(raw []byte) ([]byte, error) {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(raw) {
			return nil, &escapeError{}
		}
		switch raw[i] {
		case 'a':
			out = append(out, '\a')
		case 'b':
			out = append(out, '\b')
		case 'e':
			out = append(out, 0x1B)
		case 'f':
			out = append(out, '\f')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'v':
			out = append(out, '\v')
		case '\\':
			out = append(out, '\\')
		case '\'':
			out = append(out, '\'')
		case '"':
			out = append(out, '"')
		case '?':
			out = append(out, '?')
		default:
			return nil, &escapeError{seq: raw[i]}
		}
	}
	return out, nil
}
