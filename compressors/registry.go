package compressors

import (
	"fmt"
	"io"
	"sync"

	"github.com/INLOpen/chaindb/core"
)

var (
	zstdOnce   sync.Once
	sharedZstd *ZstdCompressor
)

// Get returns the compressor for t. Zstd pools are shared across segments.
func Get(t core.CompressionType) (core.Compressor, error) {
	switch t {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		zstdOnce.Do(func() { sharedZstd = NewZstdCompressor() })
		return sharedZstd, nil
	default:
		return nil, &core.UnsupportedTypeError{Message: fmt.Sprintf("compression %d", t)}
	}
}

// ForName resolves a configuration name such as "snappy" into a compressor.
func ForName(name string) (core.Compressor, error) {
	t, err := core.ParseCompressionType(name)
	if err != nil {
		return nil, err
	}
	return Get(t)
}

// DecompressAll decodes data fully and releases the reader.
func DecompressAll(c core.Compressor, data []byte) ([]byte, error) {
	rc, err := c.Decompress(data)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
