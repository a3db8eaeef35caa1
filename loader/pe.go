package loader

import (
	"debug/pe"

	"github.com/das-labor/panopticon/perror"
)

// peImageBase and peEntryPoint pull the two OptionalHeader fields the
// loader needs out of whichever of PE32/PE32+'s two concrete header
// types debug/pe decoded, since pe.File.OptionalHeader is untyped.
func peImageBase(f *pe.File) (uint64, error) {
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		return uint64(oh.ImageBase), nil
	case *pe.OptionalHeader64:
		return oh.ImageBase, nil
	default:
		return 0, perror.LoaderFormatf("pe: missing optional header")
	}
}

func peEntryPoint(f *pe.File) uint32 {
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		return oh.AddressOfEntryPoint
	case *pe.OptionalHeader64:
		return oh.AddressOfEntryPoint
	default:
		return 0
	}
}
