// Package loader turns an on-disk ELF or PE image into a session.Project:
// one undefined region (RAM, or Flash for AVR) covered by the file's
// loadable segments, a Program whose call graph seeds a Todo at the entry
// point plus, for ELF, one Todo/Symbolic node per dynamic symbol, and a
// "main" comment at the
// entry address. The parsing itself is `debug/elf`/`debug/pe`, not
// hand-rolled.
package loader

import (
	"debug/elf"
	"debug/pe"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/das-labor/panopticon/perror"
	"github.com/das-labor/panopticon/program"
	"github.com/das-labor/panopticon/region"
	"github.com/das-labor/panopticon/rreil"
	"github.com/das-labor/panopticon/session"
)

// Machine names the CPU a loaded image targets.
type Machine int

const (
	Amd64 Machine = iota
	Ia32
	Avr
)

func (m Machine) String() string {
	switch m {
	case Amd64:
		return "amd64"
	case Ia32:
		return "ia32"
	default:
		return "avr"
	}
}

var log = logrus.WithField("component", "loader")

// Load sniffs path's format (ELF or PE) and builds a Project from it.
func Load(path string) (*session.Project, Machine, error) {
	name := filepath.Base(path)

	fd, err := os.Open(path)
	if err != nil {
		return nil, 0, perror.Io(err)
	}
	defer fd.Close()

	var magic [4]byte
	if _, err := fd.ReadAt(magic[:], 0); err != nil {
		return nil, 0, perror.Io(err)
	}

	switch {
	case magic[0] == 0x7f && magic[1] == 'E' && magic[2] == 'L' && magic[3] == 'F':
		return loadELF(path, name)
	case magic[0] == 'M' && magic[1] == 'Z':
		return loadPE(path, name)
	default:
		return nil, 0, perror.LoaderFormatf("unrecognized file format for %q", path)
	}
}

func loadELF(path, name string) (*session.Project, Machine, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, 0, perror.LoaderFormatf("elf: %v", err)
	}
	defer f.Close()

	var machine Machine
	var regionName string
	var size uint64
	switch f.Machine {
	case elf.EM_X86_64:
		machine, regionName, size = Amd64, "RAM", 0xFFFF_FFFF_FFFF_FFFF
	case elf.EM_386:
		machine, regionName, size = Ia32, "RAM", 0x1_0000_0000
	case elf.EM_AVR:
		machine, regionName, size = Avr, "Flash", 0x2_0000
	default:
		return nil, 0, perror.LoaderFormatf("unsupported machine: %s", f.Machine)
	}

	reg := region.Undefined(regionName, size)
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		buf := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(buf, 0); err != nil {
			return nil, 0, perror.LoaderFormatf("failed to read segment: %v", err)
		}
		bound := region.NewBound(prog.Vaddr, prog.Vaddr+prog.Filesz)
		log.WithField("bound", fmt.Sprintf("%x", bound)).Debug("mapped ELF segment")
		if err := reg.Cover(bound, region.WrapLayer(buf)); err != nil {
			return nil, 0, err
		}
	}

	entry := f.Entry
	proj := session.New(name, reg)
	prog := program.New("prog0")

	entryVal, err := rreil.NewConst(entry, 64)
	if err != nil {
		return nil, 0, perror.LoaderFormatf("bad entry address: %v", err)
	}
	prog.Graph.AddNode(program.NewTodo(entryVal, name))

	syms, symErr := f.DynamicSymbols()
	if symErr == nil {
		for _, s := range syms {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
				continue
			}
			if s.Section == elf.SHN_UNDEF {
				prog.Graph.AddNode(program.Symbolic(s.Name))
				continue
			}
			v, err := rreil.NewConst(s.Value, 64)
			if err != nil {
				continue
			}
			prog.Graph.AddNode(program.NewTodo(v, s.Name))
		}
	}

	proj.SetComment(regionName, entry, "main")
	proj.Code = append(proj.Code, prog)

	return proj, machine, nil
}

func loadPE(path, name string) (*session.Project, Machine, error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, 0, perror.LoaderFormatf("pe: %v", err)
	}
	defer f.Close()

	imageBase, err := peImageBase(f)
	if err != nil {
		return nil, 0, err
	}

	const size = 0x1_0000_0000
	reg := region.Undefined("RAM", size)
	for _, sec := range f.Sections {
		if sec.Size == 0 {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			log.WithField("section", sec.Name).Debug("bad section pointer, skipping")
			continue
		}
		begin := imageBase + uint64(sec.VirtualAddress)
		end := begin + uint64(len(data))
		bound := region.NewBound(begin, end)
		if err := reg.Cover(bound, region.WrapLayer(data)); err != nil {
			return nil, 0, err
		}
	}

	machine := Ia32
	if f.Machine == pe.IMAGE_FILE_MACHINE_AMD64 {
		machine = Amd64
	}

	entry := imageBase + uint64(peEntryPoint(f))
	proj := session.New(name, reg)
	prog := program.New("prog0")

	entryVal, err := rreil.NewConst(entry, 64)
	if err != nil {
		return nil, 0, perror.LoaderFormatf("bad entry address: %v", err)
	}
	prog.Graph.AddNode(program.NewTodo(entryVal, name))

	proj.SetComment("RAM", entry, "main")
	proj.Code = append(proj.Code, prog)

	return proj, machine, nil
}
