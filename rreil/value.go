// Package rreil implements Panopticon's register-transfer intermediate
// language: Value/Operation/Statement, Mnemonic, Guard, and a compact
// bitcode encoding of Value and Statement sequences.
package rreil

import "github.com/das-labor/panopticon/perror"

// Endianess selects byte order for Load/Store memory access.
type Endianess int

const (
	LittleEndian Endianess = iota
	BigEndian
)

// ValueKind discriminates the three Value shapes.
type ValueKind int

const (
	// Const is a known numeric constant of a fixed bit width.
	Const ValueKind = iota
	// Var is a possibly-subscripted named register or temporary.
	Var
	// Undef is an unknown/don't-care value.
	Undef
)

// Value is rreil's operand type: a constant, a (possibly SSA-subscripted)
// variable, or an undefined placeholder. Represented as a tagged struct
// rather than an interface hierarchy, so zero values compare and hash
// cheaply and switch statements stay exhaustive at a glance.
type Value struct {
	Kind  ValueKind
	Val   uint64  // valid when Kind == Const
	Width uint16  // bit width, valid when Kind == Const or Kind == Var
	Name  string  // variable name, valid when Kind == Var
	Sub   *uint32 // SSA subscript, valid (optionally) when Kind == Var
}

// NewConst builds a constant Value, failing if val does not fit in width
// bits.
func NewConst(val uint64, width uint16) (Value, error) {
	if width == 0 {
		return Value{}, perror.InvalidIRf("constant has zero width")
	}
	if width < 64 && val>>width != 0 {
		return Value{}, perror.InvalidIRf("constant %d does not fit in %d bits", val, width)
	}
	return Value{Kind: Const, Val: val, Width: width}, nil
}

// NewVariable builds an unsubscripted named Value.
func NewVariable(name string, width uint16) (Value, error) {
	if width == 0 {
		return Value{}, perror.InvalidIRf("variable %q has zero width", name)
	}
	if name == "" {
		return Value{}, perror.InvalidIRf("variable has empty name")
	}
	return Value{Kind: Var, Name: name, Width: width}, nil
}

// Undefined is the singleton undefined Value.
func Undefined() Value { return Value{Kind: Undef} }

// Subscripted returns a copy of v with its SSA subscript set. If v is not
// a Var it is returned unchanged.
func (v Value) Subscripted(sub uint32) Value {
	if v.Kind != Var {
		return v
	}
	s := sub
	w := v
	w.Sub = &s
	return w
}

// Unsubscripted returns a copy of v with any SSA subscript removed.
func (v Value) Unsubscripted() Value {
	w := v
	w.Sub = nil
	return w
}

// IsConst reports whether v is a constant.
func (v Value) IsConst() bool { return v.Kind == Const }

// IsVariable reports whether v is a (possibly subscripted) variable.
func (v Value) IsVariable() bool { return v.Kind == Var }

// Equal reports structural equality, including subscript.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case Const:
		return v.Val == o.Val && v.Width == o.Width
	case Var:
		if v.Name != o.Name || v.Width != o.Width {
			return false
		}
		if (v.Sub == nil) != (o.Sub == nil) {
			return false
		}
		return v.Sub == nil || *v.Sub == *o.Sub
	default:
		return true
	}
}

// String renders v for disassembly listings and error messages.
func (v Value) String() string {
	switch v.Kind {
	case Const:
		return uintToHex(v.Val)
	case Var:
		if v.Sub != nil {
			return v.Name + "#" + uintToDec(uint64(*v.Sub))
		}
		return v.Name
	default:
		return "?"
	}
}

func uintToHex(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0x0"
	}
	var buf [18]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	i--
	buf[i] = 'x'
	i--
	buf[i] = '0'
	return string(buf[i:])
}

func uintToDec(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Memory describes a Load/Store operand's addressing: a byte count, an
// endianess, and a symbolic region name (e.g. "ram", "flash") that the
// architecture adapter assigns.
type Memory struct {
	Region    string
	Bytes     uint16
	Endianess Endianess
	Offset    Value
}
