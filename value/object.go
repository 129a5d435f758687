package value

// ObjectType tags the concrete shape behind the Object interface.
// String is the only variant today. chunkio dispatches on the
// concrete Go type rather than on this tag.
type ObjectType uint8

const ObjTypeString ObjectType = 0

// Object is the common interface every heap-allocated, tracker-owned
// value implements. It mirrors hoshi_Object: a tagged node the VM's
// tracker enumerates for bulk teardown.
type Object interface {
	ObjType() ObjectType
	Print() string
	// Size reports the Object's heap footprint in bytes, used by the
	// tracker's optional leak-diagnostic byte counter.
	Size() int
}

// ObjectString is hoshi's only Object variant today: an interned,
// byte-oriented string. Chars is treated as opaque bytes (UTF-8
// agnostic), matching hoshi_ObjectString.
type ObjectString struct {
	Chars     []byte
	OwnsChars bool
	Hash      uint64
}

func (s *ObjectString) ObjType() ObjectType { return ObjTypeString }
func (s *ObjectString) Print() string       { return string(s.Chars) }
func (s *ObjectString) Size() int           { return len(s.Chars) }

// Length matches hoshi_ObjectString.length: a byte count, not a rune
// count, NUL not required.
func (s *ObjectString) Length() int { return len(s.Chars) }
