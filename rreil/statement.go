package rreil

import "github.com/das-labor/panopticon/perror"

// StmtKind discriminates the Statement variants: a pure expression
// assigned to a variable, a resolved or indirect call, a return, or a
// memory store.
type StmtKind int

const (
	StmtExpression StmtKind = iota
	StmtCall
	StmtIndirectCall
	StmtReturn
	StmtStore
)

// Statement is one instruction-lifting step inside a Mnemonic's IR body.
type Statement struct {
	Kind      StmtKind
	Assignee  Value     // valid when Kind == StmtExpression
	Operation Operation // valid when Kind == StmtExpression
	Target    uint64    // valid when Kind == StmtCall (resolved address)
	Indirect  Value     // valid when Kind == StmtIndirectCall
	Memory    Memory    // valid when Kind == StmtStore
	Value     Value     // valid when Kind == StmtStore
}

// Expression builds an assignment statement: assignee = operation.
func Expression(assignee Value, op Operation) (Statement, error) {
	if !assignee.IsVariable() {
		return Statement{}, perror.InvalidIRf("expression assignee must be a variable, got %v", assignee)
	}
	return Statement{Kind: StmtExpression, Assignee: assignee, Operation: op}, nil
}

// Call builds a resolved direct-call statement.
func Call(target uint64) Statement {
	return Statement{Kind: StmtCall, Target: target}
}

// IndirectCall builds an indirect-call statement whose target is only
// known at runtime (e.g. a register or memory operand).
func IndirectCall(target Value) Statement {
	return Statement{Kind: StmtIndirectCall, Indirect: target}
}

// Return builds a return statement.
func Return() Statement { return Statement{Kind: StmtReturn} }

// Store builds a memory-store statement.
func Store(mem Memory, value Value) Statement {
	return Statement{Kind: StmtStore, Memory: mem, Value: value}
}

// SubstituteUses returns a copy of s with every Value it reads replaced
// by f(value), leaving any Assignee untouched. The renaming pass calls
// this before separately rewriting the Assignee, so a statement's reads
// resolve against the definitions reaching it, not its own.
func (s Statement) SubstituteUses(f func(Value) Value) Statement {
	switch s.Kind {
	case StmtExpression:
		s.Operation = s.Operation.Substitute(f)
	case StmtIndirectCall:
		s.Indirect = f(s.Indirect)
	case StmtStore:
		s.Memory.Offset = f(s.Memory.Offset)
		s.Value = f(s.Value)
	}
	return s
}

// WithAssignee returns a copy of s with its Assignee replaced, used by
// the SSA renaming pass to attach a fresh subscript to a definition.
func (s Statement) WithAssignee(v Value) Statement {
	s.Assignee = v
	return s
}

// Defines reports the Value this statement assigns, if any. Used by SSA
// renaming and liveness VarKill computation.
func (s Statement) Defines() (Value, bool) {
	if s.Kind == StmtExpression {
		return s.Assignee, true
	}
	return Value{}, false
}

// Uses reports the Value operands this statement reads, used for
// liveness UEvar computation.
func (s Statement) Uses() []Value {
	switch s.Kind {
	case StmtExpression:
		return s.Operation.Operands()
	case StmtIndirectCall:
		return []Value{s.Indirect}
	case StmtStore:
		return []Value{s.Memory.Offset, s.Value}
	default:
		return nil
	}
}
