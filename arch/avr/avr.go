// Package avr is the architecture adapter for a subset of the AVR 8-bit
// microcontroller instruction set, parameterized by an Mcu value that
// selects the flash/SRAM layout per chip. It dispatches on the
// instruction word directly and uses package disasm only for its State
// bookkeeping, not its pattern combinator.
package avr

import (
	"github.com/das-labor/panopticon/disasm"
	"github.com/das-labor/panopticon/perror"
	"github.com/das-labor/panopticon/region"
	"github.com/das-labor/panopticon/rreil"
)

// Mcu names the concrete AVR part, determining flash size and register
// layout. Only the fields this adapter's test scenarios need are
// modeled.
type Mcu struct {
	Name      string
	FlashSize uint64
}

// ATmega88 is the MCU the jump-overflow fixtures target.
func ATmega88() Mcu { return Mcu{Name: "ATmega88", FlashSize: 8 * 1024} }

// Config is the per-run adapter configuration.
type Config struct {
	Mcu Mcu
}

// Decoder implements arch.Decoder for a small AVR instruction subset:
// NOP, RJMP (relative, 12-bit signed word displacement), RET, and the
// BRBC-family conditional branches.
type Decoder struct {
	cfg Config
}

// New builds an AVR Decoder for the given Config.
func New(cfg Config) *Decoder { return &Decoder{cfg: cfg} }

func (d *Decoder) Name() string                 { return "avr" }
func (d *Decoder) MaxInstructionLength() uint64 { return 2 }

// Decode reads one 16-bit little-endian instruction word at addr and
// lifts it. AVR's program counter addresses 16-bit words internally but
// Panopticon addresses flash in bytes; every instruction here occupies
// exactly 2 bytes.
func (d *Decoder) Decode(r *region.Region, addr uint64) (*disasm.State, error) {
	data, ok := r.ReadAt(addr, 2)
	if !ok || len(data) < 2 {
		return nil, perror.DecodeFailedAt(addr)
	}
	word := uint64(data[0]) | uint64(data[1])<<8
	s := disasm.NewState(addr, []uint64{word})

	switch {
	case word == 0x0000: // NOP
		return s, s.Mnemonic(2, "nop", nil, nil)

	case word&0xf000 == 0xc000: // RJMP k: 1100 kkkk kkkk kkkk
		disp := signExtend12(word & 0x0fff)
		target := d.wrappedTarget(addr, disp)
		if err := s.Mnemonic(2, "rjmp", []rreil.Value{mustConst(target, 64)}, nil); err != nil {
			return nil, err
		}
		s.Jump(mustConst(target, 64), rreil.True())
		return s, nil

	case word == 0x9508: // RET: 1001 0101 0000 1000
		return s, s.Mnemonic(2, "ret", nil, []rreil.Statement{rreil.Return()})

	case word&0xfc00 == 0xf400: // BRBC-family conditional branch (BRNE, BRCC, ...; the BRBS family such as BREQ is not matched), simplified: all treated as a generic 2-way branch on a symbolic flag
		disp := signExtendN(int64((word>>3)&0x7f), 7)
		target := uint64(int64(addr) + 2 + disp*2)
		cond := rreil.NewGuard(rreil.RelEqual, flagVar(), mustConst(1, 8))
		if word&1 == 1 {
			cond = cond.Negate()
		}
		if err := s.Mnemonic(2, "brcc", []rreil.Value{mustConst(target, 64)}, nil); err != nil {
			return nil, err
		}
		fallthroughAddr := addr + 2
		s.Jump(mustConst(target, 64), cond)
		s.Jump(mustConst(fallthroughAddr, 64), cond.Negate())
		return s, nil

	default:
		return nil, perror.DecodeFailedAt(addr)
	}
}

// wrappedTarget computes an RJMP/RCALL destination the way real AVR
// silicon does: the word-addressed program counter wraps at the chip's
// flash size, so a displacement that overflows the signed 12-bit field
// can still land on an in-range address once the addition wraps modulo
// the flash word count.
func (d *Decoder) wrappedTarget(addr uint64, disp int64) uint64 {
	flashWords := int64(d.cfg.Mcu.FlashSize / 2)
	if flashWords == 0 {
		flashWords = 1
	}
	pcWord := int64(addr/2) + 1
	targetWord := ((pcWord+disp)%flashWords + flashWords) % flashWords
	return uint64(targetWord) * 2
}

func flagVar() rreil.Value {
	v, _ := rreil.NewVariable("Z", 8)
	return v
}

func mustConst(v uint64, width uint16) rreil.Value {
	val, _ := rreil.NewConst(v, width)
	return val
}

// signExtend12 sign-extends a 12-bit two's-complement field to int64.
func signExtend12(v uint64) int64 { return signExtendN(int64(v), 12) }

func signExtendN(v int64, bits uint) int64 {
	shift := 64 - bits
	return (v << shift) >> shift
}
