package disasm

import "github.com/das-labor/panopticon/perror"

// Action is executed when a Match's bit patterns accept the token
// stream; it inspects/extends the State (emitting Mnemonics and jumps)
// and returns false to reject the match (causing NextMatch to fall
// through to the next candidate in declaration order), true to accept.
type Action func(s *State) bool

// partialMatch is one alternative sequence of per-token patterns
// contributed by an Expr, not yet combined with sibling Exprs in an
// add_expr call.
type partialMatch struct {
	patterns []bitPattern
	actions  []Action
}

// Expr is one element of an add_expr token-sequence: a bit-pattern
// string, a literal terminal token value, or an inlined sub-decoder.
type Expr interface {
	alternatives(tokenWidth int) ([]partialMatch, error)
}

// patternExpr matches exactly one token against a bit-pattern string.
type patternExpr struct{ pattern string }

// Pattern builds an Expr from a bit-pattern string, e.g. "....11 d@00".
func Pattern(pattern string) Expr { return patternExpr{pattern: pattern} }

func (p patternExpr) alternatives(tokenWidth int) ([]partialMatch, error) {
	bp, err := parsePattern(p.pattern, tokenWidth)
	if err != nil {
		return nil, err
	}
	return []partialMatch{{patterns: []bitPattern{bp}}}, nil
}

// terminalExpr matches exactly one literal token value.
type terminalExpr struct{ value uint64 }

// Terminal builds an Expr matching one fixed token value exactly.
func Terminal(value uint64) Expr { return terminalExpr{value: value} }

func (t terminalExpr) alternatives(tokenWidth int) ([]partialMatch, error) {
	return []partialMatch{{patterns: []bitPattern{terminalPattern(t.value, tokenWidth)}}}, nil
}

// subExpr inlines another Disassembler's whole alternative set as one
// token-sequence slot, letting e.g. a lock-prefix sub-decoder compose
// into a larger instruction pattern.
type subExpr struct{ d *Disassembler }

// Sub builds an Expr that inlines another Disassembler's matches.
func Sub(d *Disassembler) Expr { return subExpr{d: d} }

func (s subExpr) alternatives(tokenWidth int) ([]partialMatch, error) {
	var out []partialMatch
	for _, m := range s.d.matches {
		out = append(out, partialMatch{patterns: append([]bitPattern(nil), m.patterns...), actions: append([]Action(nil), m.actions...)})
	}
	return out, nil
}

// match is one fully combined alternative: a token-pattern sequence plus
// the ordered actions to run (sub-decoder actions first, then the
// caller's own action) if every token in the sequence matches.
type match struct {
	patterns []bitPattern
	actions  []Action
}

// Disassembler is a first-match-wins decision list of token-pattern
// sequences, the architecture-independent combinator core. tokenWidth
// is the bit width of one token (8 for a byte stream).
type Disassembler struct {
	tokenWidth int
	matches    []match
}

// New creates an empty Disassembler whose tokens are tokenWidth bits
// wide.
func New(tokenWidth int) *Disassembler {
	return &Disassembler{tokenWidth: tokenWidth}
}

// AddExpr registers one decoding rule: exprs, matched in sequence
// against consecutive input tokens, dispatching to action when every
// token matches and every chained sub-action (if any) accepts.
// Declaration order is decision priority: NextMatch tries rules in the
// order they were added and commits to the first that fully matches.
func (d *Disassembler) AddExpr(exprs []Expr, action Action) error {
	combos, err := combine(exprs, d.tokenWidth)
	if err != nil {
		return err
	}
	for _, c := range combos {
		d.matches = append(d.matches, match{
			patterns: c.patterns,
			actions:  append(append([]Action(nil), c.actions...), action),
		})
	}
	return nil
}

// combine computes the cross product of each Expr's alternatives,
// concatenating per-token patterns and chained actions in expr order.
func combine(exprs []Expr, tokenWidth int) ([]partialMatch, error) {
	if len(exprs) == 0 {
		return []partialMatch{{}}, nil
	}
	head, err := exprs[0].alternatives(tokenWidth)
	if err != nil {
		return nil, err
	}
	tail, err := combine(exprs[1:], tokenWidth)
	if err != nil {
		return nil, err
	}
	var out []partialMatch
	for _, h := range head {
		for _, t := range tail {
			out = append(out, partialMatch{
				patterns: append(append([]bitPattern(nil), h.patterns...), t.patterns...),
				actions:  append(append([]Action(nil), h.actions...), t.actions...),
			})
		}
	}
	return out, nil
}

// NextMatch scans the declaration-ordered rule list for the first whose
// token-pattern sequence matches the tokens available at s's current
// position and whose actions all accept; it runs that match's actions
// and reports whether any rule both matched bitwise and was accepted.
// Decoding never panics: a malformed architecture adapter rule is a
// programmer error caught at AddExpr time, not at decode time.
func (d *Disassembler) NextMatch(s *State) bool {
	for _, m := range d.matches {
		if len(m.patterns) > len(s.tokens) {
			continue
		}
		ok := true
		for i, bp := range m.patterns {
			if !bp.matchesToken(s.tokens[i]) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		s.groups = extractGroups(m.patterns, s.tokens)
		accepted := true
		for _, act := range m.actions {
			if !act(s) {
				accepted = false
				break
			}
		}
		if accepted {
			return true
		}
	}
	return false
}

// extractGroups accumulates each named capture group's bits across the
// whole matched token sequence, composed left to right: a group that
// spans several tokens gets its earlier tokens' bits in the high-order
// positions. Declaration order defines significance, not byte-stream
// endianess; the architecture adapter's pattern strings encode that
// choice explicitly.
func extractGroups(patterns []bitPattern, tokens []uint64) map[string]uint64 {
	out := map[string]uint64{}
	for i, bp := range patterns {
		for name, v := range bp.extract(tokens[i]) {
			width := uint(popcount(bp.groups[name]))
			out[name] = out[name]<<width | v
		}
	}
	return out
}

func popcount(v uint64) int {
	n := 0
	for v != 0 {
		v &= v - 1
		n++
	}
	return n
}

// Group returns a named capture group's accumulated value from the last
// successful NextMatch call on s, failing if the group does not exist in
// the matched rule.
func (s *State) Group(name string) (uint64, error) {
	v, ok := s.groups[name]
	if !ok {
		return 0, perror.InvalidIRf("disassembler: no such capture group %q", name)
	}
	return v, nil
}
