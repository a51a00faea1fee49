package ecstore

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"

	"github.com/offlinefirst/synccore/model"
)

// CompressionAlgorithm identifies the compressor used for a blob, standing
// in for spec section 4.A's {LZ4, zlib/deflate, LZMA, LZFSE} menu — see
// DESIGN.md for the two-codec mapping.
type CompressionAlgorithm string

// CompressionAlgorithm tags.
const (
	CompressionDeflate CompressionAlgorithm = "deflate"
	CompressionZstd    CompressionAlgorithm = "zstd"
)

const (
	// defaultMinSizeToCompress is the spec section 4.A default: inputs
	// below this size bypass compression.
	defaultMinSizeToCompress = 1024
	// streamChunkSize is the fixed-size buffer the compressor streams
	// through, per spec section 4.A's default of 64 KiB.
	streamChunkSize = 64 * 1024
)

// compressionResult carries the outcome of attempting to compress a
// payload: whether compression was applied, and the resulting bytes (the
// original bytes if bypassed).
type compressionResult struct {
	Compressed   bool
	Algorithm    CompressionAlgorithm
	OriginalSize int
	Data         []byte
}

// compress streams plaintext through the named codec in fixed-size chunks,
// the tail chunk carrying a finalize flag (spec section 4.A). Inputs
// below minSize bypass compression; so does any input whose compressed
// size is not strictly smaller than its original size.
func compress(alg CompressionAlgorithm, plaintext []byte, minSize int) (compressionResult, error) {
	if minSize <= 0 {
		minSize = defaultMinSizeToCompress
	}
	if len(plaintext) < minSize {
		return compressionResult{Compressed: false, OriginalSize: len(plaintext), Data: plaintext}, nil
	}

	var out bytes.Buffer
	writer, err := newCompressWriter(alg, &out)
	if err != nil {
		return compressionResult{}, err
	}

	if err := streamChunks(plaintext, func(chunk []byte, final bool) error {
		if _, err := writer.Write(chunk); err != nil {
			return model.StorageIO(Error.Wrap(err))
		}
		if final {
			return closeCompressWriter(writer)
		}
		return nil
	}); err != nil {
		return compressionResult{}, err
	}

	if out.Len() >= len(plaintext) {
		// Compression did not shrink the payload; the store records
		// compressed = false per spec section 4.A.
		return compressionResult{Compressed: false, OriginalSize: len(plaintext), Data: plaintext}, nil
	}

	return compressionResult{
		Compressed:   true,
		Algorithm:    alg,
		OriginalSize: len(plaintext),
		Data:         out.Bytes(),
	}, nil
}

// decompress reverses compress for a payload that was actually compressed.
func decompress(alg CompressionAlgorithm, data []byte, originalSize int) ([]byte, error) {
	reader, closeReader, err := newDecompressReader(alg, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer closeReader()

	out := make([]byte, 0, originalSize)
	buf := make([]byte, streamChunkSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, model.Corrupted(Error.Wrap(err))
		}
	}
	return out, nil
}

// streamChunks splits data into fixed-size chunks and invokes fn for each,
// marking the final chunk (possibly the only one, possibly empty for a
// zero-length input) with final = true.
func streamChunks(data []byte, fn func(chunk []byte, final bool) error) error {
	if len(data) == 0 {
		return fn(nil, true)
	}
	for offset := 0; offset < len(data); offset += streamChunkSize {
		end := offset + streamChunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := fn(data[offset:end], end == len(data)); err != nil {
			return err
		}
	}
	return nil
}

type compressWriteCloser interface {
	io.Writer
	Close() error
}

func newCompressWriter(alg CompressionAlgorithm, out io.Writer) (compressWriteCloser, error) {
	switch alg {
	case CompressionDeflate:
		w, err := flate.NewWriter(out, flate.DefaultCompression)
		if err != nil {
			return nil, model.StorageIO(Error.Wrap(err))
		}
		return w, nil
	case CompressionZstd:
		w, err := zstd.NewWriter(out)
		if err != nil {
			return nil, model.StorageIO(Error.Wrap(err))
		}
		return w, nil
	default:
		return nil, model.UnsupportedFormat(Error.New("unknown compression algorithm %q", alg))
	}
}

func closeCompressWriter(w compressWriteCloser) error {
	if err := w.Close(); err != nil {
		return model.StorageIO(Error.Wrap(err))
	}
	return nil
}

func newDecompressReader(alg CompressionAlgorithm, in io.Reader) (io.Reader, func(), error) {
	switch alg {
	case CompressionDeflate:
		r := flate.NewReader(in)
		return r, func() { _ = r.Close() }, nil
	case CompressionZstd:
		r, err := zstd.NewReader(in)
		if err != nil {
			return nil, nil, model.Corrupted(Error.Wrap(err))
		}
		return r, r.Close, nil
	default:
		return nil, nil, model.UnsupportedFormat(Error.New("unknown compression algorithm %q", alg))
	}
}
