package rreil

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/das-labor/panopticon/perror"
)

// Bitcode is rreil's compact wire form for a Statement sequence. No other
// package in this module calls it; session persists a Project as CBOR.
// Encoding uses varints throughout, since most widths and subscripts are
// small.
type tag byte

const (
	tagConst tag = iota
	tagVar
	tagUndef
)

// EncodeValue appends v's bitcode encoding to buf.
func EncodeValue(buf *bytes.Buffer, v Value) {
	switch v.Kind {
	case Const:
		buf.WriteByte(byte(tagConst))
		writeUvarint(buf, v.Val)
		writeUvarint(buf, uint64(v.Width))
	case Var:
		buf.WriteByte(byte(tagVar))
		writeString(buf, v.Name)
		writeUvarint(buf, uint64(v.Width))
		if v.Sub != nil {
			buf.WriteByte(1)
			writeUvarint(buf, uint64(*v.Sub))
		} else {
			buf.WriteByte(0)
		}
	default:
		buf.WriteByte(byte(tagUndef))
	}
}

// DecodeValue reads one Value from r.
func DecodeValue(r *bytes.Reader) (Value, error) {
	t, err := r.ReadByte()
	if err != nil {
		return Value{}, perror.Serde(err)
	}
	switch tag(t) {
	case tagConst:
		val, err := readUvarint(r)
		if err != nil {
			return Value{}, perror.Serde(err)
		}
		width, err := readUvarint(r)
		if err != nil {
			return Value{}, perror.Serde(err)
		}
		return Value{Kind: Const, Val: val, Width: uint16(width)}, nil
	case tagVar:
		name, err := readString(r)
		if err != nil {
			return Value{}, perror.Serde(err)
		}
		width, err := readUvarint(r)
		if err != nil {
			return Value{}, perror.Serde(err)
		}
		hasSub, err := r.ReadByte()
		if err != nil {
			return Value{}, perror.Serde(err)
		}
		v := Value{Kind: Var, Name: name, Width: uint16(width)}
		if hasSub == 1 {
			sub, err := readUvarint(r)
			if err != nil {
				return Value{}, perror.Serde(err)
			}
			s := uint32(sub)
			v.Sub = &s
		}
		return v, nil
	case tagUndef:
		return Undefined(), nil
	default:
		return Value{}, perror.InvalidIRf("bitcode: unknown value tag %d", t)
	}
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUvarint(r)
	if err != nil {
		return "", err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", err
	}
	return string(out), nil
}

// EncodeValues round-trips a Value slice (used for Operation.Args/Phi).
func EncodeValues(buf *bytes.Buffer, vs []Value) {
	writeUvarint(buf, uint64(len(vs)))
	for _, v := range vs {
		EncodeValue(buf, v)
	}
}

// DecodeValues is the inverse of EncodeValues.
func DecodeValues(r *bytes.Reader) ([]Value, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, perror.Serde(err)
	}
	out := make([]Value, n)
	for i := range out {
		v, err := DecodeValue(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
