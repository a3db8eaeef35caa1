// Package disasm implements Panopticon's pattern-matched disassembler
// combinator: sequences of per-token bit patterns, named capture groups,
// and sub-decoders composed into a first-match-wins decision list.
// The matcher is hand-rolled; no parser generator is involved.
package disasm

import "github.com/das-labor/panopticon/perror"

// bitPattern is one token-wide pattern: a value/mask pair matched as
// (token & mask) == value, plus the named capture groups whose bits this
// token contributes to (bitmask within the token, matching '0'..'1' long
// literal positions tagged with a letter and a terminating '@').
type bitPattern struct {
	value uint64
	mask  uint64
	width int
	// groups maps a capture-group name to the bitmask of positions
	// (within this token) that belong to it.
	groups map[string]uint64
}

// parsePattern parses one token-pattern string of the form used by
// decoder tables, e.g. "mm@.. 1111 d@00" — eight bit positions
// (spaces are field separators, not counted as bits), each bit position
// being one of:
//
//	'0' / '1'   a literal required bit, uncaptured
//	'.'         a wildcard bit, uncaptured
//	letter(s)@  opens a named capture group: every following '.'/'0'/'1'
//	            bit (literal or wildcard) belongs to that group until the
//	            next space or end of string. A literal bit inside a group
//	            is still required to match, but its value is also
//	            recorded in the extracted group value, so a field can be
//	            self-documenting even where part of it is fixed.
//
// width is the token width in bits (8 for a byte token).
func parsePattern(s string, width int) (bitPattern, error) {
	bp := bitPattern{width: width, groups: map[string]uint64{}}
	bit := width
	readingName := false
	curName := ""
	activeGroup := ""

	consumeBit := func(literal int) error {
		if bit == 0 {
			return perror.InvalidIRf("pattern %q: too many bits for width %d", s, width)
		}
		bit--
		if literal == 1 {
			bp.value |= 1 << uint(bit)
		}
		if literal >= 0 {
			bp.mask |= 1 << uint(bit)
		}
		if activeGroup != "" {
			bp.groups[activeGroup] |= 1 << uint(bit)
		}
		return nil
	}

	for _, c := range s {
		switch {
		case c == ' ':
			if readingName {
				return bitPattern{}, perror.InvalidIRf("pattern %q: space while reading group name", s)
			}
			activeGroup = ""
		case c == '@':
			if !readingName || curName == "" {
				return bitPattern{}, perror.InvalidIRf("pattern %q: '@' without preceding group name", s)
			}
			readingName = false
			activeGroup = curName
			if _, ok := bp.groups[activeGroup]; !ok {
				bp.groups[activeGroup] = 0
			}
			curName = ""
		case c == '.':
			if readingName {
				return bitPattern{}, perror.InvalidIRf("pattern %q: '.' while reading group name", s)
			}
			if err := consumeBit(-1); err != nil {
				return bitPattern{}, err
			}
		case c == '0' || c == '1':
			if readingName {
				return bitPattern{}, perror.InvalidIRf("pattern %q: digit while reading group name", s)
			}
			lit := 0
			if c == '1' {
				lit = 1
			}
			if err := consumeBit(lit); err != nil {
				return bitPattern{}, err
			}
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
			if readingName {
				curName += string(c)
			} else {
				readingName = true
				curName = string(c)
			}
		default:
			return bitPattern{}, perror.InvalidIRf("pattern %q: invalid character %q", s, c)
		}
	}
	if bit != 0 {
		return bitPattern{}, perror.InvalidIRf("pattern %q: expected %d bits, got %d", s, width, width-bit)
	}
	return bp, nil
}

// matchesToken reports whether token matches this bit pattern.
func (bp bitPattern) matchesToken(token uint64) bool {
	return token&bp.mask == bp.value
}

// extract pulls each capture group's bit value out of token, right-
// justified (i.e. shifted down so the lowest captured bit sits at bit 0
// position of the accumulated group value across the whole instruction).
func (bp bitPattern) extract(token uint64) map[string]uint64 {
	out := make(map[string]uint64, len(bp.groups))
	for name, gmask := range bp.groups {
		var v uint64
		var shift uint
		for i := 0; i < bp.width; i++ {
			if gmask&(1<<uint(i)) != 0 {
				bit := (token >> uint(i)) & 1
				v |= bit << shift
				shift++
			}
		}
		out[name] = v
	}
	return out
}

// terminalPattern builds a bit pattern that matches exactly one literal
// token value.
func terminalPattern(value uint64, width int) bitPattern {
	mask := uint64(1)<<uint(width) - 1
	if width >= 64 {
		mask = ^uint64(0)
	}
	return bitPattern{value: value & mask, mask: mask, width: width}
}
