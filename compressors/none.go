package compressors

import (
	"bytes"
	"io"

	"github.com/INLOpen/chaindb/core"
)

// NoCompressionCompressor stores partitions as-is.
type NoCompressionCompressor struct{}

type byteReadCloser struct {
	*bytes.Reader
}

func (byteReadCloser) Close() error { return nil }

func newByteReadCloser(data []byte) io.ReadCloser {
	return byteReadCloser{Reader: bytes.NewReader(data)}
}

var _ core.Compressor = (*NoCompressionCompressor)(nil)

func (c *NoCompressionCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (c *NoCompressionCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	return newByteReadCloser(data), nil
}

func (c *NoCompressionCompressor) Type() core.CompressionType {
	return core.CompressionNone
}

func (c *NoCompressionCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	_, err := dst.Write(src)
	return err
}
