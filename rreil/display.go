package rreil

import (
	"fmt"
	"strings"
)

// String renders o in three-address style, e.g. "add eax, ebx" or
// "phi(x#1, x#2)".
func (o Operation) String() string {
	switch {
	case o.Op == OpPhi:
		parts := make([]string, len(o.Args))
		for i, a := range o.Args {
			parts[i] = a.String()
		}
		return "phi(" + strings.Join(parts, ", ") + ")"
	case o.Op == OpSelect:
		return fmt.Sprintf("select/%d %s, %s", o.Offset, o.A, o.B)
	case o.Op == OpLoad:
		return fmt.Sprintf("load/%s/%d %s", o.Memory.Region, o.Memory.Bytes, o.Memory.Offset)
	case o.Op.IsBinary():
		return fmt.Sprintf("%s %s, %s", o.Op, o.A, o.B)
	case o.Op.IsUnary():
		return fmt.Sprintf("%s %s", o.Op, o.A)
	default:
		return o.Op.String()
	}
}

// String renders s for display. The rendering is not parsed back; the
// bitcode encoding is the machine-readable form.
func (s Statement) String() string {
	switch s.Kind {
	case StmtExpression:
		return s.Assignee.String() + " := " + s.Operation.String()
	case StmtCall:
		return fmt.Sprintf("call 0x%x", s.Target)
	case StmtIndirectCall:
		return "call " + s.Indirect.String()
	case StmtReturn:
		return "ret"
	case StmtStore:
		return fmt.Sprintf("store/%s/%d %s, %s", s.Memory.Region, s.Memory.Bytes, s.Memory.Offset, s.Value)
	default:
		return "?"
	}
}

// String renders g as an infix condition, e.g. "eax <= 0x10 (signed)".
func (g Guard) String() string {
	switch g.Relation {
	case RelTrue:
		return "true"
	case RelFalse:
		return "false"
	case RelEqual:
		return g.A.String() + " == " + g.B.String()
	case RelNotEqual:
		return g.A.String() + " != " + g.B.String()
	case RelLessUnsigned:
		return g.A.String() + " < " + g.B.String()
	case RelLessOrEqualUnsigned:
		return g.A.String() + " <= " + g.B.String()
	case RelLessSigned:
		return g.A.String() + " < " + g.B.String() + " (signed)"
	case RelLessOrEqualSigned:
		return g.A.String() + " <= " + g.B.String() + " (signed)"
	default:
		return "?"
	}
}

// Display renders the mnemonic's assembly-style line: its Format tokens
// with each operand hole filled in, or the opcode plus comma-separated
// operands when no Format was recorded.
func (m Mnemonic) Display() string {
	if len(m.Format) == 0 {
		if len(m.Operands) == 0 {
			return m.Opcode
		}
		parts := make([]string, len(m.Operands))
		for i, op := range m.Operands {
			parts[i] = op.String()
		}
		return m.Opcode + " " + strings.Join(parts, ", ")
	}

	var b strings.Builder
	b.WriteString(m.Opcode)
	b.WriteByte(' ')
	for _, tok := range m.Format {
		switch tok.Kind {
		case TokenLiteral:
			b.WriteRune(tok.Literal)
		case TokenOperand:
			if tok.OpIndex < 0 || tok.OpIndex >= len(m.Operands) {
				b.WriteByte('?')
				continue
			}
			v := m.Operands[tok.OpIndex]
			if tok.Signed && v.IsConst() {
				b.WriteString(formatSigned(v.Val, v.Width))
				continue
			}
			b.WriteString(v.String())
		}
	}
	return b.String()
}

// formatSigned renders a constant as a sign-extended decimal.
func formatSigned(val uint64, width uint16) string {
	if width == 0 || width >= 64 {
		return fmt.Sprintf("%d", int64(val))
	}
	sign := uint64(1) << (width - 1)
	if val&sign != 0 {
		return fmt.Sprintf("%d", int64(val|^(sign<<1-1)))
	}
	return fmt.Sprintf("%d", int64(val))
}
