package rreil

import "github.com/das-labor/panopticon/perror"

// Op discriminates the Operation variants. Kept as a flat enum with a
// fixed-arity operand array rather than an interface hierarchy with
// one implementation per case.
type Op int

const (
	// Binary arithmetic and bitwise.
	OpAdd Op = iota
	OpSubtract
	OpMultiply
	OpDivideUnsigned
	OpDivideSigned
	OpModulo
	OpShiftLeft
	OpShiftRightUnsigned
	OpShiftRightSigned
	OpAnd
	OpOr
	OpXor

	// Binary comparisons, result is a 1-bit Value.
	OpCompareEqual
	OpCompareNotEqual
	OpCompareLessUnsigned
	OpCompareLessSigned
	OpCompareLessOrEqualUnsigned
	OpCompareLessOrEqualSigned

	// Unary.
	OpZeroExtend
	OpSignExtend
	OpMove
	OpInitialize

	// Variable-arity / special shape.
	OpSelect // Select(offset, a, b): pick bits of a or b at offset
	OpLoad   // Load(memory)
	OpStore  // Store(memory, value) - only used inside a Statement, not alone
	OpPhi    // Phi(values...)
	OpCall   // Call(target) as an expression yielding a return value
)

// IsBinary reports whether op takes exactly two Value operands.
func (op Op) IsBinary() bool {
	switch op {
	case OpAdd, OpSubtract, OpMultiply, OpDivideUnsigned, OpDivideSigned, OpModulo,
		OpShiftLeft, OpShiftRightUnsigned, OpShiftRightSigned, OpAnd, OpOr, OpXor,
		OpCompareEqual, OpCompareNotEqual, OpCompareLessUnsigned, OpCompareLessSigned,
		OpCompareLessOrEqualUnsigned, OpCompareLessOrEqualSigned:
		return true
	default:
		return false
	}
}

// IsUnary reports whether op takes exactly one Value operand.
func (op Op) IsUnary() bool {
	switch op {
	case OpZeroExtend, OpSignExtend, OpMove, OpInitialize, OpLoad, OpCall:
		return true
	default:
		return false
	}
}

func (op Op) String() string {
	switch op {
	case OpAdd:
		return "add"
	case OpSubtract:
		return "sub"
	case OpMultiply:
		return "mul"
	case OpDivideUnsigned:
		return "divu"
	case OpDivideSigned:
		return "divs"
	case OpModulo:
		return "mod"
	case OpShiftLeft:
		return "shl"
	case OpShiftRightUnsigned:
		return "shr"
	case OpShiftRightSigned:
		return "shrs"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpXor:
		return "xor"
	case OpCompareEqual:
		return "cmpeq"
	case OpCompareNotEqual:
		return "cmpneq"
	case OpCompareLessUnsigned:
		return "cmpltu"
	case OpCompareLessSigned:
		return "cmplts"
	case OpCompareLessOrEqualUnsigned:
		return "cmpleu"
	case OpCompareLessOrEqualSigned:
		return "cmples"
	case OpZeroExtend:
		return "zero-extend"
	case OpSignExtend:
		return "sign-extend"
	case OpMove:
		return "mov"
	case OpInitialize:
		return "init"
	case OpSelect:
		return "select"
	case OpLoad:
		return "load"
	case OpStore:
		return "store"
	case OpPhi:
		return "phi"
	case OpCall:
		return "call"
	default:
		return "?"
	}
}

// Operation is one computation step: an Op tag plus its operands. Binary
// ops use A/B; unary ops use A; Select additionally uses Offset; Load
// uses Memory; Phi uses Args.
type Operation struct {
	Op     Op
	A      Value
	B      Value
	Offset uint16
	Memory Memory
	Args   []Value
}

// Binary builds a binary Operation, validating operand widths match.
func Binary(op Op, a, b Value) (Operation, error) {
	if !op.IsBinary() {
		return Operation{}, perror.InvalidIRf("%s is not a binary operation", op)
	}
	if a.Width != 0 && b.Width != 0 && a.Width != b.Width {
		return Operation{}, perror.InvalidIRf("%s operand width mismatch: %d vs %d", op, a.Width, b.Width)
	}
	return Operation{Op: op, A: a, B: b}, nil
}

// Unary builds a unary Operation.
func Unary(op Op, a Value) (Operation, error) {
	if !op.IsUnary() {
		return Operation{}, perror.InvalidIRf("%s is not a unary operation", op)
	}
	return Operation{Op: op, A: a}, nil
}

// Select builds a bitfield-select Operation: pick bits of a starting at
// offset, falling back to b outside that window.
func Select(offset uint16, a, b Value) (Operation, error) {
	if a.Width != 0 && offset >= a.Width {
		return Operation{}, perror.InvalidIRf("select offset %d exceeds operand width %d", offset, a.Width)
	}
	return Operation{Op: OpSelect, Offset: offset, A: a, B: b}, nil
}

// LoadMem builds a memory-load Operation.
func LoadMem(mem Memory) Operation {
	return Operation{Op: OpLoad, Memory: mem}
}

// PhiOf builds a Phi Operation over the given incoming values. At least
// one argument is required; a Phi with zero arguments is malformed IR.
func PhiOf(args ...Value) (Operation, error) {
	if len(args) == 0 {
		return Operation{}, perror.InvalidIRf("phi requires at least one argument")
	}
	return Operation{Op: OpPhi, Args: append([]Value(nil), args...)}, nil
}

// Substitute returns a copy of o with every Value operand replaced by
// f(operand), the write-side counterpart to Operands() used by the SSA
// renaming pass to thread subscripted variables through an Operation
// without needing one switch arm per Op variant at each call site.
func (o Operation) Substitute(f func(Value) Value) Operation {
	switch {
	case o.Op == OpPhi:
		args := make([]Value, len(o.Args))
		for i, a := range o.Args {
			args[i] = f(a)
		}
		o.Args = args
	case o.Op == OpSelect:
		o.A, o.B = f(o.A), f(o.B)
	case o.Op == OpLoad:
		o.Memory.Offset = f(o.Memory.Offset)
	case o.Op.IsBinary():
		o.A, o.B = f(o.A), f(o.B)
	case o.Op.IsUnary():
		o.A = f(o.A)
	}
	return o
}

// Operands returns the Value operands read by op, in a fixed order,
// as consumed by liveness analysis (UEvar/VarKill computation in
// graph.ComputeLiveness).
func (o Operation) Operands() []Value {
	switch {
	case o.Op == OpPhi:
		return o.Args
	case o.Op == OpSelect:
		return []Value{o.A, o.B}
	case o.Op == OpLoad:
		return []Value{o.Memory.Offset}
	case o.Op.IsBinary():
		return []Value{o.A, o.B}
	case o.Op.IsUnary():
		return []Value{o.A}
	default:
		return nil
	}
}
