// Package amd64 is the architecture adapter for a subset of the x86-64
// instruction set, parameterized by processor Mode (Real/Protected/Long).
// It dispatches on opcode bytes directly and uses package disasm only for
// its State bookkeeping, not its pattern combinator.
package amd64

import (
	"github.com/das-labor/panopticon/disasm"
	"github.com/das-labor/panopticon/perror"
	"github.com/das-labor/panopticon/region"
	"github.com/das-labor/panopticon/rreil"
)

// Mode selects the processor's operating mode, which fixes the default
// operand and address bit widths.
type Mode int

const (
	Real Mode = iota
	Protected
	Long
)

// Bits reports the default operand width for this Mode.
func (m Mode) Bits() uint16 {
	switch m {
	case Real:
		return 16
	case Protected:
		return 32
	default:
		return 64
	}
}

// Config is the per-run adapter configuration, a plain value (not a
// package global) so several amd64 Functions at different Modes can be
// analyzed concurrently in the same process.
type Config struct {
	Mode Mode
}

// Decoder implements arch.Decoder for x86-64, covering the opcode subset
// needed to build a CFG/SSA smoke test over a small hand-linked binary:
// nop, stack-frame prologue/epilogue (push/pop rbp, leave), mov,
// call/ret, and conditional/unconditional relative jumps. No arithmetic
// instruction is decoded.
type Decoder struct {
	cfg Config
}

// New builds an amd64 Decoder for the given Config.
func New(cfg Config) *Decoder { return &Decoder{cfg: cfg} }

func (d *Decoder) Name() string                 { return "amd64" }
func (d *Decoder) MaxInstructionLength() uint64 { return 15 }

func reg(name string, width uint16) rreil.Value {
	v, _ := rreil.NewVariable(name, width)
	return v
}

func imm(v uint64, width uint16) rreil.Value {
	val, _ := rreil.NewConst(v, width)
	return val
}

// gpr maps a 3-bit ModRM/opcode register field to its GPR name: the
// 64-bit name when width is 64, the 32-bit name otherwise.
var regNames64 = [8]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi"}
var regNames32 = [8]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}

func gpr(width uint16, index int) string {
	if width == 64 {
		return regNames64[index&7]
	}
	return regNames32[index&7]
}

// Decode reads up to MaxInstructionLength bytes at addr and lifts
// exactly one instruction, reading into a fixed 15-byte window before
// dispatching on the leading opcode byte.
func (d *Decoder) Decode(r *region.Region, addr uint64) (*disasm.State, error) {
	window, ok := r.ReadAt(addr, int(d.MaxInstructionLength()))
	if !ok {
		window, ok = r.ReadAt(addr, 1)
		if !ok {
			return nil, perror.DecodeFailedAt(addr)
		}
	}
	tokens := make([]uint64, len(window))
	for i, b := range window {
		tokens[i] = uint64(b)
	}
	s := disasm.NewState(addr, tokens)
	width := d.cfg.Mode.Bits()

	if len(window) == 0 {
		return nil, perror.DecodeFailedAt(addr)
	}

	b0 := window[0]
	switch {
	case b0 == 0x90:
		err := s.Mnemonic(1, "nop", nil, nil)
		return s, err

	case b0 == 0xc3:
		stmt := rreil.Return()
		err := s.Mnemonic(1, "ret", nil, []rreil.Statement{stmt})
		return s, err

	case b0 == 0xc9:
		// leave: mov rsp, rbp; pop rbp. Lifted as a single symbolic
		// move; the stack-pointer bookkeeping is opaque to the
		// CFG/SSA passes.
		op, _ := rreil.Unary(rreil.OpMove, reg("rbp", width))
		stmt, _ := rreil.Expression(reg("rsp", width), op)
		return s, s.Mnemonic(1, "leave", nil, []rreil.Statement{stmt})

	case b0 == 0x50+0x05: // push rbp (0x55)
		op, _ := rreil.Unary(rreil.OpMove, reg("rbp", width))
		stmt, _ := rreil.Expression(reg("rsp", width), op)
		return s, s.Mnemonic(1, "push rbp", []rreil.Value{reg("rbp", width)}, []rreil.Statement{stmt})

	case b0 == 0x58+0x05: // pop rbp (0x5d)
		op, _ := rreil.Unary(rreil.OpMove, reg("rsp", width))
		stmt, _ := rreil.Expression(reg("rbp", width), op)
		return s, s.Mnemonic(1, "pop rbp", []rreil.Value{reg("rbp", width)}, []rreil.Statement{stmt})

	case b0 == 0x89 && len(window) >= 2 && window[1]>>6 == 3: // mov r/m, r (register-direct ModRM only)
		modrm := window[1]
		srcIdx := int(modrm>>3) & 7
		dstIdx := int(modrm) & 7
		op, _ := rreil.Unary(rreil.OpMove, reg(gpr(width, srcIdx), width))
		stmt, _ := rreil.Expression(reg(gpr(width, dstIdx), width), op)
		return s, s.Mnemonic(2, "mov", []rreil.Value{reg(gpr(width, dstIdx), width), reg(gpr(width, srcIdx), width)}, []rreil.Statement{stmt})

	case b0 == 0xb8 && len(window) >= 5: // mov eax, imm32 (no REX, single reg)
		v := uint64(window[1]) | uint64(window[2])<<8 | uint64(window[3])<<16 | uint64(window[4])<<24
		op, _ := rreil.Unary(rreil.OpMove, imm(v, 32))
		stmt, _ := rreil.Expression(reg("eax", 32), op)
		return s, s.Mnemonic(5, "mov eax, imm32", []rreil.Value{imm(v, 32)}, []rreil.Statement{stmt})

	case b0 == 0xe8 && len(window) >= 5: // call rel32
		rel := int32(uint32(window[1]) | uint32(window[2])<<8 | uint32(window[3])<<16 | uint32(window[4])<<24)
		target := addr + 5 + uint64(rel)
		if err := s.Mnemonic(5, "call", []rreil.Value{imm(target, 64)}, []rreil.Statement{rreil.Call(target)}); err != nil {
			return nil, err
		}
		// The callee is linked separately into the call graph via the
		// Call statement above; the CFG edge out of this block is the
		// return address, the instruction actually executed next in
		// this function.
		ret, _ := rreil.NewConst(addr+5, 64)
		s.Jump(ret, rreil.True())
		return s, nil

	case b0 == 0xe9 && len(window) >= 5: // jmp rel32
		rel := int32(uint32(window[1]) | uint32(window[2])<<8 | uint32(window[3])<<16 | uint32(window[4])<<24)
		target := addr + 5 + uint64(rel)
		if err := s.Mnemonic(5, "jmp", []rreil.Value{imm(target, 64)}, nil); err != nil {
			return nil, err
		}
		t, _ := rreil.NewConst(target, 64)
		s.Jump(t, rreil.True())
		return s, nil

	case b0 == 0xeb && len(window) >= 2: // jmp rel8
		rel := int8(window[1])
		target := addr + 2 + uint64(rel)
		if err := s.Mnemonic(2, "jmp", []rreil.Value{imm(target, 64)}, nil); err != nil {
			return nil, err
		}
		t, _ := rreil.NewConst(target, 64)
		s.Jump(t, rreil.True())
		return s, nil

	case b0 == 0x74 && len(window) >= 2: // je rel8
		rel := int8(window[1])
		target := addr + 2 + uint64(rel)
		fallthroughAddr := addr + 2
		cmp := rreil.NewGuard(rreil.RelEqual, reg("ZF", 8), imm(1, 8))
		if err := s.Mnemonic(2, "je", []rreil.Value{imm(target, 64)}, nil); err != nil {
			return nil, err
		}
		t, _ := rreil.NewConst(target, 64)
		ft, _ := rreil.NewConst(fallthroughAddr, 64)
		s.Jump(t, cmp)
		s.Jump(ft, cmp.Negate())
		return s, nil

	case b0 == 0x75 && len(window) >= 2: // jne rel8
		rel := int8(window[1])
		target := addr + 2 + uint64(rel)
		fallthroughAddr := addr + 2
		cmp := rreil.NewGuard(rreil.RelNotEqual, reg("ZF", 8), imm(1, 8))
		if err := s.Mnemonic(2, "jne", []rreil.Value{imm(target, 64)}, nil); err != nil {
			return nil, err
		}
		t, _ := rreil.NewConst(target, 64)
		ft, _ := rreil.NewConst(fallthroughAddr, 64)
		s.Jump(t, cmp)
		s.Jump(ft, cmp.Negate())
		return s, nil

	default:
		return nil, perror.DecodeFailedAt(addr)
	}
}
