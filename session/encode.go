package session

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zlib"

	"github.com/das-labor/panopticon/perror"
)

// magic is the 10-byte file signature every persisted session starts
// with.
var magic = [10]byte{'P', 'A', 'N', 'O', 'P', 'T', 'I', 'C', 'O', 'N'}

// version is the only wire format this package understands; Open
// rejects anything else.
const version uint32 = 0

// Save writes p to path as: 10-byte magic, big-endian u32 version, then
// a zlib-compressed CBOR encoding of p.
func Save(p *Project, path string) error {
	fd, err := os.Create(path)
	if err != nil {
		return perror.Io(err)
	}
	defer fd.Close()

	if _, err := fd.Write(magic[:]); err != nil {
		return perror.Io(err)
	}
	if err := binary.Write(fd, binary.BigEndian, version); err != nil {
		return perror.Io(err)
	}

	z := zlib.NewWriter(fd)
	if err := cbor.NewEncoder(z).Encode(p); err != nil {
		z.Close()
		return perror.Serde(err)
	}
	if err := z.Close(); err != nil {
		return perror.Io(err)
	}
	return nil
}

// Open reads a Project previously written by Save, rejecting a wrong
// magic number or an unsupported version.
func Open(path string) (*Project, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, perror.Io(err)
	}
	defer fd.Close()

	var got [10]byte
	if _, err := io.ReadFull(fd, got[:]); err != nil || got != magic {
		return nil, perror.LoaderFormatf("wrong magic number")
	}

	var v uint32
	if err := binary.Read(fd, binary.BigEndian, &v); err != nil {
		return nil, perror.Io(err)
	}
	if v != version {
		return nil, perror.LoaderFormatf("wrong version: %d", v)
	}

	z, err := zlib.NewReader(fd)
	if err != nil {
		return nil, perror.Serde(err)
	}
	defer z.Close()

	var p Project
	if err := cbor.NewDecoder(z).Decode(&p); err != nil {
		return nil, perror.Serde(err)
	}
	return &p, nil
}

// Encode serializes p to an in-memory buffer using the same format as
// Save, for callers that do not need a file on disk (e.g. tests).
func Encode(p *Project) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	if err := binary.Write(&buf, binary.BigEndian, version); err != nil {
		return nil, perror.Io(err)
	}
	z := zlib.NewWriter(&buf)
	if err := cbor.NewEncoder(z).Encode(p); err != nil {
		z.Close()
		return nil, perror.Serde(err)
	}
	if err := z.Close(); err != nil {
		return nil, perror.Io(err)
	}
	return buf.Bytes(), nil
}

// Decode is Encode's inverse.
func Decode(data []byte) (*Project, error) {
	if len(data) < 14 {
		return nil, perror.LoaderFormatf("truncated session data")
	}
	var got [10]byte
	copy(got[:], data[:10])
	if got != magic {
		return nil, perror.LoaderFormatf("wrong magic number")
	}
	v := binary.BigEndian.Uint32(data[10:14])
	if v != version {
		return nil, perror.LoaderFormatf("wrong version: %d", v)
	}

	z, err := zlib.NewReader(bytes.NewReader(data[14:]))
	if err != nil {
		return nil, perror.Serde(err)
	}
	defer z.Close()

	var p Project
	if err := cbor.NewDecoder(z).Decode(&p); err != nil {
		return nil, perror.Serde(err)
	}
	return &p, nil
}
