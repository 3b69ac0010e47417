package core

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/sbl8/p9ml/errors"
)

const (
	SerializationMagic   = 0x4E543950 // "P9TN" in little endian
	SerializationVersion = 1
	maxNameLen           = 1<<16 - 1
)

// SerializationHeader prefixes every serialized tensor.
type SerializationHeader struct {
	Magic    uint32
	Version  uint16
	Type     uint8
	Rank     uint8
	Checksum uint32 // crc32 of everything after the header
}

// SerializeTensor writes a tensor in binary form.
// Layout: [header][shape int64*rank][nameLen u16][name][dataLen u32][data]
func SerializeTensor(t *Tensor) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if len(t.Name) > maxNameLen {
		return nil, errors.InvalidArgumentf("tensor name is %d bytes", len(t.Name))
	}

	body := &bytes.Buffer{}
	for _, d := range t.Shape {
		if err := binary.Write(body, binary.LittleEndian, d); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(body, binary.LittleEndian, uint16(len(t.Name))); err != nil {
		return nil, err
	}
	body.WriteString(t.Name)
	if err := binary.Write(body, binary.LittleEndian, uint32(len(t.Data))); err != nil {
		return nil, err
	}
	body.Write(t.Data)

	header := SerializationHeader{
		Magic:    SerializationMagic,
		Version:  SerializationVersion,
		Type:     uint8(t.Type),
		Rank:     uint8(len(t.Shape)),
		Checksum: crc32.ChecksumIEEE(body.Bytes()),
	}

	out := bytes.NewBuffer(make([]byte, 0, binary.Size(header)+body.Len()))
	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// DeserializeTensor reads a tensor written by SerializeTensor. Storage is
// copied into a fresh aligned buffer.
func DeserializeTensor(b []byte) (*Tensor, error) {
	buf := bytes.NewReader(b)

	var header SerializationHeader
	if err := binary.Read(buf, binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(err, "read tensor header")
	}
	if header.Magic != SerializationMagic {
		return nil, errors.New("invalid magic number")
	}
	if header.Version != SerializationVersion {
		return nil, errors.Newf("unsupported serialization version %d", header.Version)
	}
	if crc32.ChecksumIEEE(b[binary.Size(header):]) != header.Checksum {
		return nil, errors.New("data corruption detected")
	}

	t := &Tensor{Type: DType(header.Type), Shape: make([]int64, header.Rank)}
	for i := range t.Shape {
		if err := binary.Read(buf, binary.LittleEndian, &t.Shape[i]); err != nil {
			return nil, errors.Wrap(err, "read shape")
		}
	}

	var nameLen uint16
	if err := binary.Read(buf, binary.LittleEndian, &nameLen); err != nil {
		return nil, errors.Wrap(err, "read name length")
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(buf, name); err != nil {
		return nil, errors.Wrap(err, "read name")
	}
	t.Name = string(name)

	var dataLen uint32
	if err := binary.Read(buf, binary.LittleEndian, &dataLen); err != nil {
		return nil, errors.Wrap(err, "read data length")
	}
	if dataLen > 0 {
		t.Data = AlignedBytes(int(dataLen))
		if _, err := io.ReadFull(buf, t.Data); err != nil {
			return nil, errors.Wrap(err, "read data")
		}
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
