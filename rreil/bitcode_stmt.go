package rreil

import (
	"bytes"

	"github.com/das-labor/panopticon/perror"
)

const (
	stmtTagExpression byte = iota
	stmtTagCall
	stmtTagIndirectCall
	stmtTagReturn
	stmtTagStore
)

// nameDict interns variable and region names so a Statement sequence's
// encoding carries each string once, with Values referring to it by
// index.
type nameDict struct {
	names []string
	index map[string]uint64
}

func newNameDict() *nameDict {
	return &nameDict{index: map[string]uint64{}}
}

func (d *nameDict) intern(s string) uint64 {
	if i, ok := d.index[s]; ok {
		return i
	}
	i := uint64(len(d.names))
	d.names = append(d.names, s)
	d.index[s] = i
	return i
}

// EncodeStatements packs stmts into a compact byte form: a dictionary
// of every variable and region name used, followed by one record per
// statement. Decode with NewBitcodeIter; the round trip preserves the
// sequence element-wise.
func EncodeStatements(stmts []Statement) []byte {
	dict := newNameDict()
	var body bytes.Buffer
	for _, s := range stmts {
		encodeStatement(&body, dict, s)
	}

	var out bytes.Buffer
	writeUvarint(&out, uint64(len(dict.names)))
	for _, n := range dict.names {
		writeString(&out, n)
	}
	writeUvarint(&out, uint64(len(stmts)))
	out.Write(body.Bytes())
	return out.Bytes()
}

func encodeStatement(buf *bytes.Buffer, dict *nameDict, s Statement) {
	switch s.Kind {
	case StmtExpression:
		buf.WriteByte(stmtTagExpression)
		encodeDictValue(buf, dict, s.Assignee)
		encodeOperation(buf, dict, s.Operation)
	case StmtCall:
		buf.WriteByte(stmtTagCall)
		writeUvarint(buf, s.Target)
	case StmtIndirectCall:
		buf.WriteByte(stmtTagIndirectCall)
		encodeDictValue(buf, dict, s.Indirect)
	case StmtReturn:
		buf.WriteByte(stmtTagReturn)
	case StmtStore:
		buf.WriteByte(stmtTagStore)
		encodeMemory(buf, dict, s.Memory)
		encodeDictValue(buf, dict, s.Value)
	}
}

func encodeOperation(buf *bytes.Buffer, dict *nameDict, o Operation) {
	buf.WriteByte(byte(o.Op))
	switch {
	case o.Op == OpPhi:
		writeUvarint(buf, uint64(len(o.Args)))
		for _, a := range o.Args {
			encodeDictValue(buf, dict, a)
		}
	case o.Op == OpSelect:
		writeUvarint(buf, uint64(o.Offset))
		encodeDictValue(buf, dict, o.A)
		encodeDictValue(buf, dict, o.B)
	case o.Op == OpLoad:
		encodeMemory(buf, dict, o.Memory)
	case o.Op.IsBinary():
		encodeDictValue(buf, dict, o.A)
		encodeDictValue(buf, dict, o.B)
	default:
		encodeDictValue(buf, dict, o.A)
	}
}

func encodeMemory(buf *bytes.Buffer, dict *nameDict, m Memory) {
	writeUvarint(buf, dict.intern(m.Region))
	writeUvarint(buf, uint64(m.Bytes))
	buf.WriteByte(byte(m.Endianess))
	encodeDictValue(buf, dict, m.Offset)
}

// encodeDictValue is EncodeValue with the variable name swapped for its
// dictionary index.
func encodeDictValue(buf *bytes.Buffer, dict *nameDict, v Value) {
	switch v.Kind {
	case Const:
		buf.WriteByte(byte(tagConst))
		writeUvarint(buf, v.Val)
		writeUvarint(buf, uint64(v.Width))
	case Var:
		buf.WriteByte(byte(tagVar))
		writeUvarint(buf, dict.intern(v.Name))
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

// BitcodeIter lazily decodes a Statement sequence produced by
// EncodeStatements. Statements are materialized one at a time by Next;
// Reset rewinds to the first statement without re-reading the
// dictionary.
type BitcodeIter struct {
	names []string
	data  []byte
	body  int // offset of the first statement record
	count uint64

	r    *bytes.Reader
	seen uint64
}

// NewBitcodeIter parses the name dictionary and statement count out of
// data and positions the iterator at the first statement.
func NewBitcodeIter(data []byte) (*BitcodeIter, error) {
	r := bytes.NewReader(data)
	nameCount, err := readUvarint(r)
	if err != nil {
		return nil, perror.Serde(err)
	}
	names := make([]string, nameCount)
	for i := range names {
		n, err := readString(r)
		if err != nil {
			return nil, perror.Serde(err)
		}
		names[i] = n
	}
	count, err := readUvarint(r)
	if err != nil {
		return nil, perror.Serde(err)
	}
	body := len(data) - r.Len()
	it := &BitcodeIter{names: names, data: data, body: body, count: count}
	it.Reset()
	return it, nil
}

// Len returns the total number of statements in the sequence.
func (it *BitcodeIter) Len() int { return int(it.count) }

// Reset rewinds the iterator to the first statement.
func (it *BitcodeIter) Reset() {
	it.r = bytes.NewReader(it.data[it.body:])
	it.seen = 0
}

// Next decodes and returns the next Statement. ok is false once the
// sequence is exhausted.
func (it *BitcodeIter) Next() (s Statement, ok bool, err error) {
	if it.seen >= it.count {
		return Statement{}, false, nil
	}
	s, err = it.decodeStatement()
	if err != nil {
		return Statement{}, false, err
	}
	it.seen++
	return s, true, nil
}

func (it *BitcodeIter) decodeStatement() (Statement, error) {
	t, err := it.r.ReadByte()
	if err != nil {
		return Statement{}, perror.Serde(err)
	}
	switch t {
	case stmtTagExpression:
		assignee, err := it.decodeValue()
		if err != nil {
			return Statement{}, err
		}
		op, err := it.decodeOperation()
		if err != nil {
			return Statement{}, err
		}
		return Statement{Kind: StmtExpression, Assignee: assignee, Operation: op}, nil
	case stmtTagCall:
		target, err := readUvarint(it.r)
		if err != nil {
			return Statement{}, perror.Serde(err)
		}
		return Statement{Kind: StmtCall, Target: target}, nil
	case stmtTagIndirectCall:
		v, err := it.decodeValue()
		if err != nil {
			return Statement{}, err
		}
		return Statement{Kind: StmtIndirectCall, Indirect: v}, nil
	case stmtTagReturn:
		return Statement{Kind: StmtReturn}, nil
	case stmtTagStore:
		mem, err := it.decodeMemory()
		if err != nil {
			return Statement{}, err
		}
		v, err := it.decodeValue()
		if err != nil {
			return Statement{}, err
		}
		return Statement{Kind: StmtStore, Memory: mem, Value: v}, nil
	default:
		return Statement{}, perror.InvalidIRf("bitcode: unknown statement tag %d", t)
	}
}

func (it *BitcodeIter) decodeOperation() (Operation, error) {
	t, err := it.r.ReadByte()
	if err != nil {
		return Operation{}, perror.Serde(err)
	}
	op := Op(t)
	switch {
	case op == OpPhi:
		n, err := readUvarint(it.r)
		if err != nil {
			return Operation{}, perror.Serde(err)
		}
		args := make([]Value, n)
		for i := range args {
			if args[i], err = it.decodeValue(); err != nil {
				return Operation{}, err
			}
		}
		return Operation{Op: op, Args: args}, nil
	case op == OpSelect:
		offset, err := readUvarint(it.r)
		if err != nil {
			return Operation{}, perror.Serde(err)
		}
		a, err := it.decodeValue()
		if err != nil {
			return Operation{}, err
		}
		b, err := it.decodeValue()
		if err != nil {
			return Operation{}, err
		}
		return Operation{Op: op, Offset: uint16(offset), A: a, B: b}, nil
	case op == OpLoad:
		mem, err := it.decodeMemory()
		if err != nil {
			return Operation{}, err
		}
		return Operation{Op: op, Memory: mem}, nil
	case op.IsBinary():
		a, err := it.decodeValue()
		if err != nil {
			return Operation{}, err
		}
		b, err := it.decodeValue()
		if err != nil {
			return Operation{}, err
		}
		return Operation{Op: op, A: a, B: b}, nil
	default:
		a, err := it.decodeValue()
		if err != nil {
			return Operation{}, err
		}
		return Operation{Op: op, A: a}, nil
	}
}

func (it *BitcodeIter) decodeMemory() (Memory, error) {
	nameIdx, err := readUvarint(it.r)
	if err != nil {
		return Memory{}, perror.Serde(err)
	}
	if nameIdx >= uint64(len(it.names)) {
		return Memory{}, perror.InvalidIRf("bitcode: region name index %d out of range", nameIdx)
	}
	nbytes, err := readUvarint(it.r)
	if err != nil {
		return Memory{}, perror.Serde(err)
	}
	endian, err := it.r.ReadByte()
	if err != nil {
		return Memory{}, perror.Serde(err)
	}
	offset, err := it.decodeValue()
	if err != nil {
		return Memory{}, err
	}
	return Memory{Region: it.names[nameIdx], Bytes: uint16(nbytes), Endianess: Endianess(endian), Offset: offset}, nil
}

func (it *BitcodeIter) decodeValue() (Value, error) {
	t, err := it.r.ReadByte()
	if err != nil {
		return Value{}, perror.Serde(err)
	}
	switch tag(t) {
	case tagConst:
		val, err := readUvarint(it.r)
		if err != nil {
			return Value{}, perror.Serde(err)
		}
		width, err := readUvarint(it.r)
		if err != nil {
			return Value{}, perror.Serde(err)
		}
		return Value{Kind: Const, Val: val, Width: uint16(width)}, nil
	case tagVar:
		nameIdx, err := readUvarint(it.r)
		if err != nil {
			return Value{}, perror.Serde(err)
		}
		if nameIdx >= uint64(len(it.names)) {
			return Value{}, perror.InvalidIRf("bitcode: variable name index %d out of range", nameIdx)
		}
		width, err := readUvarint(it.r)
		if err != nil {
			return Value{}, perror.Serde(err)
		}
		hasSub, err := it.r.ReadByte()
		if err != nil {
			return Value{}, perror.Serde(err)
		}
		v := Value{Kind: Var, Name: it.names[nameIdx], Width: uint16(width)}
		if hasSub == 1 {
			sub, err := readUvarint(it.r)
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
