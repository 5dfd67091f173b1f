// Package artifact defines the container format of compiled artifacts.
//
// An artifact is a fixed header followed by the payload:
//
//	magic    [4]byte  "RCAF"
//	version  uint8
//	codec    uint8    Compression
//	reserved uint16
//	rawSize  uint64   payload size after decompression
//	size     uint64   stored payload size
//	crc      uint32   CRC32C of the stored payload
//
// All integers are little endian. Decode passes data without the magic
// through unchanged, so converters may also write plain bytes.
package artifact

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/rescache/internal/conv"
	"github.com/hupe1980/rescache/internal/hash"
)

// HeaderSize is the size of the container header in bytes.
const HeaderSize = 28

// Version is the current container version.
const Version = 1

var magic = [4]byte{'R', 'C', 'A', 'F'}

var (
	// ErrCorrupt is returned for truncated or inconsistent artifacts.
	ErrCorrupt = errors.New("artifact: corrupt")
	// ErrChecksum is returned when the payload checksum does not match.
	ErrChecksum = errors.New("artifact: checksum mismatch")
	// ErrUnsupported is returned for unknown versions or compressions.
	ErrUnsupported = errors.New("artifact: unsupported")
)

// Header is the decoded container header.
type Header struct {
	Version     uint8
	Compression Compression
	RawSize     uint64
	Size        uint64
	CRC         uint32
}

// Encode wraps data in a container, compressing it with c when that saves
// space.
func Encode(data []byte, c Compression) ([]byte, error) {
	payload, err := compress(data, c)
	if err != nil {
		return nil, fmt.Errorf("artifact: compress %s: %w", c, err)
	}
	if payload == nil {
		payload, c = data, CompressionNone
	}

	h := Header{
		Version:     Version,
		Compression: c,
		RawSize:     uint64(len(data)),
		Size:        uint64(len(payload)),
		CRC:         hash.CRC32C(payload),
	}

	out := make([]byte, HeaderSize+len(payload))
	h.put(out)
	copy(out[HeaderSize:], payload)
	return out, nil
}

// IsContainer reports whether data starts with the container magic.
func IsContainer(data []byte) bool {
	return len(data) >= len(magic) && bytes.Equal(data[:len(magic)], magic[:])
}

// ReadHeader decodes the header of a container.
func ReadHeader(data []byte) (Header, error) {
	if !IsContainer(data) {
		return Header{}, fmt.Errorf("%w: missing magic", ErrCorrupt)
	}
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: short header (%d bytes)", ErrCorrupt, len(data))
	}
	h := Header{
		Version:     data[4],
		Compression: Compression(data[5]),
		RawSize:     binary.LittleEndian.Uint64(data[8:]),
		Size:        binary.LittleEndian.Uint64(data[16:]),
		CRC:         binary.LittleEndian.Uint32(data[24:]),
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: version %d", ErrUnsupported, h.Version)
	}
	return h, nil
}

// Decode returns the payload of a container, verifying its checksum.
// Data without the container magic is returned unchanged.
func Decode(data []byte) ([]byte, error) {
	if !IsContainer(data) {
		return data, nil
	}

	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)-HeaderSize) != h.Size {
		return nil, fmt.Errorf("%w: payload %d bytes, header says %d", ErrCorrupt, len(data)-HeaderSize, h.Size)
	}
	if h.RawSize > 1<<40 {
		return nil, fmt.Errorf("%w: raw size %d", ErrCorrupt, h.RawSize)
	}
	rawSize, err := conv.Uint64ToInt(h.RawSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	payload := data[HeaderSize:]
	if sum := hash.CRC32C(payload); sum != h.CRC {
		return nil, fmt.Errorf("%w: got %08x, want %08x", ErrChecksum, sum, h.CRC)
	}
	return decompress(payload, h.Compression, rawSize)
}

func (h Header) put(b []byte) {
	copy(b, magic[:])
	b[4] = h.Version
	b[5] = byte(h.Compression)
	binary.LittleEndian.PutUint16(b[6:], 0)
	binary.LittleEndian.PutUint64(b[8:], h.RawSize)
	binary.LittleEndian.PutUint64(b[16:], h.Size)
	binary.LittleEndian.PutUint32(b[24:], h.CRC)
}
