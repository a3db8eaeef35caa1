// Package session is the root of a persisted Panopticon analysis: a
// Project groups the recognized Programs, the memory World they were
// read from, and the comments/import names a user or loader attaches to
// addresses, plus the on-disk encode/decode of that state.
package session

import (
	"github.com/google/uuid"

	"github.com/das-labor/panopticon/program"
	"github.com/das-labor/panopticon/region"
)

// commentKey is (region name, address).
type commentKey struct {
	Region  string
	Address uint64
}

// Project is a complete Panopticon session: a set of recognized Programs,
// the memory regions they disassemble against, and user annotations.
type Project struct {
	Name     string
	Code     []*program.Program
	Data     *region.World
	comments map[commentKey]string
	imports  map[uint64]string
}

// New returns a Project named name rooted at region r.
func New(name string, r *region.Region) *Project {
	return &Project{
		Name:     name,
		Data:     region.NewWorld(r),
		comments: map[commentKey]string{},
		imports:  map[uint64]string{},
	}
}

// Region returns the project's root region: NewWorld guarantees
// Data.Region(Data.Root) always succeeds, so this never needs an ok
// return.
func (p *Project) Region() *region.Region {
	r, _ := p.Data.Region(p.Data.Root)
	return r
}

// FindProgramByUUID returns the Program with the given identity.
func (p *Project) FindProgramByUUID(id uuid.UUID) (*program.Program, bool) {
	for _, prog := range p.Code {
		if prog.UUID == id {
			return prog, true
		}
	}
	return nil, false
}

// Comment returns the comment attached to addr in the named region, if any.
func (p *Project) Comment(regionName string, addr uint64) (string, bool) {
	c, ok := p.comments[commentKey{Region: regionName, Address: addr}]
	return c, ok
}

// SetComment attaches (or clears, when text is empty) a comment to addr
// in the named region.
func (p *Project) SetComment(regionName string, addr uint64, text string) {
	key := commentKey{Region: regionName, Address: addr}
	if text == "" {
		delete(p.comments, key)
		return
	}
	p.comments[key] = text
}

// ImportName returns the imported symbol name at addr, if the loader
// recorded one.
func (p *Project) ImportName(addr uint64) (string, bool) {
	name, ok := p.imports[addr]
	return name, ok
}

// SetImportName records that addr is the loader-resolved address of the
// imported symbol name.
func (p *Project) SetImportName(addr uint64, name string) {
	p.imports[addr] = name
}
