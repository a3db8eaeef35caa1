// Package perror defines the error kinds used throughout panopticon.
package perror

import "fmt"

// Kind discriminates the concrete error types below for callers that want
// to branch on error category without a type switch.
type Kind int

const (
	KindDecodeFailed Kind = iota
	KindInvalidIR
	KindRegionOutOfBounds
	KindOverlayMismatch
	KindLoaderFormat
	KindIo
	KindSerde
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindDecodeFailed:
		return "decode-failed"
	case KindInvalidIR:
		return "invalid-ir"
	case KindRegionOutOfBounds:
		return "region-out-of-bounds"
	case KindOverlayMismatch:
		return "overlay-mismatch"
	case KindLoaderFormat:
		return "loader-format"
	case KindIo:
		return "io"
	case KindSerde:
		return "serde"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// panopticonError is the marker every concrete error type implements so
// callers can discriminate with errors.As instead of string matching.
type panopticonError interface {
	error
	Kind() Kind
}

// DecodeFailedError reports that no disassembler pattern matched at an
// address. The enclosing CFG node becomes Failed; the function
// continues.
type DecodeFailedError struct {
	Address uint64
}

func (e *DecodeFailedError) Error() string {
	return fmt.Sprintf("decode failed at 0x%x: no pattern matched", e.Address)
}
func (e *DecodeFailedError) Kind() Kind { return KindDecodeFailed }

// DecodeFailedAt constructs a DecodeFailedError.
func DecodeFailedAt(address uint64) error {
	return &DecodeFailedError{Address: address}
}

// InvalidIRError reports that constructing a rreil Value/Operation/Statement
// violated an invariant (oversized constant, zero-width variable,
// mismatched operand widths, bad select offset).
type InvalidIRError struct {
	Message string
}

func (e *InvalidIRError) Error() string { return "invalid IR: " + e.Message }
func (e *InvalidIRError) Kind() Kind    { return KindInvalidIR }

// InvalidIRf constructs an InvalidIRError with a formatted message.
func InvalidIRf(format string, args ...any) error {
	return &InvalidIRError{Message: fmt.Sprintf(format, args...)}
}

// RegionOutOfBoundsError reports that a Region.Cover bound exceeds the
// region's size.
type RegionOutOfBoundsError struct {
	Region string
	Start  uint64
	End    uint64
	Size   uint64
}

func (e *RegionOutOfBoundsError) Error() string {
	return fmt.Sprintf("region %q: bound [%d,%d) exceeds size %d", e.Region, e.Start, e.End, e.Size)
}
func (e *RegionOutOfBoundsError) Kind() Kind { return KindRegionOutOfBounds }

// OverlayMismatchError reports that an opaque Layer's length does not
// match the Bound it is covering.
type OverlayMismatchError struct {
	Region     string
	BoundLen   uint64
	LayerLen   int
}

func (e *OverlayMismatchError) Error() string {
	return fmt.Sprintf("region %q: layer length %d does not match bound length %d", e.Region, e.LayerLen, e.BoundLen)
}
func (e *OverlayMismatchError) Kind() Kind { return KindOverlayMismatch }

// LoaderFormatError reports an unsupported or malformed executable image.
type LoaderFormatError struct {
	Message string
}

func (e *LoaderFormatError) Error() string { return "loader: " + e.Message }
func (e *LoaderFormatError) Kind() Kind    { return KindLoaderFormat }

// LoaderFormatf constructs a LoaderFormatError with a formatted message.
func LoaderFormatf(format string, args ...any) error {
	return &LoaderFormatError{Message: fmt.Sprintf(format, args...)}
}

// InternalError reports an analysis invariant violation — a bug, never a
// user mistake. The caller must mark the enclosing function's analysis as
// incomplete and continue; it must never propagate past the engine's
// public API as a process crash.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string { return "internal: " + e.Message }
func (e *InternalError) Kind() Kind    { return KindInternal }

// Internalf constructs an InternalError with a formatted message.
func Internalf(format string, args ...any) error {
	return &InternalError{Message: fmt.Sprintf(format, args...)}
}

// Io wraps an I/O failure (file open, read, write) so callers can tell it
// apart from the analysis-domain errors above while still unwrapping to
// the underlying cause with errors.Is/errors.As.
func Io(cause error) error {
	if cause == nil {
		return nil
	}
	return &wrapped{kind: KindIo, prefix: "io", cause: cause}
}

// Serde wraps a session encode/decode failure.
func Serde(cause error) error {
	if cause == nil {
		return nil
	}
	return &wrapped{kind: KindSerde, prefix: "serde", cause: cause}
}

type wrapped struct {
	kind   Kind
	prefix string
	cause  error
}

func (e *wrapped) Error() string { return e.prefix + ": " + e.cause.Error() }
func (e *wrapped) Kind() Kind    { return e.kind }
func (e *wrapped) Unwrap() error { return e.cause }
