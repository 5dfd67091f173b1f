package artifact

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the payload compression of an artifact.
type Compression uint8

const (
	// CompressionNone stores the payload as is.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast decode, for hot data).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD (better ratio, for large artifacts).
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// compress returns nil when compression does not pay off.
func compress(data []byte, c Compression) ([]byte, error) {
	var out []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		out = buf[:n]
	case CompressionZSTD:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, err
		}
		out = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, nil
	}

	// Keep the raw bytes when compression saves less than 10%.
	if len(out) == 0 || float64(len(out)) > float64(len(data))*0.9 {
		return nil, nil
	}
	return out, nil
}

func decompress(payload []byte, c Compression, rawSize int) ([]byte, error) {
	switch c {
	case CompressionNone:
		return payload, nil
	case CompressionLZ4:
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		if n != rawSize {
			return nil, fmt.Errorf("%w: lz4 size %d, want %d", ErrCorrupt, n, rawSize)
		}
		return out, nil
	case CompressionZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		if len(out) != rawSize {
			return nil, fmt.Errorf("%w: zstd size %d, want %d", ErrCorrupt, len(out), rawSize)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: compression %s", ErrUnsupported, c)
	}
}
