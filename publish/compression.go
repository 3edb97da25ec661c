package publish

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
)

// Algorithm identifies a recognized `contentEncoding` value.
type Algorithm string

// Recognized compression algorithms (spec.md §6). Brotli is named but not
// implemented: the example corpus carries no brotli library, and
// stdlib has no built-in brotli codec either.
const (
	Gzip    Algorithm = "gzip"
	Deflate Algorithm = "deflate"
	Brotli  Algorithm = "br"
)

func compress(algo Algorithm, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch algo {
	case Gzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case Deflate:
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case Brotli:
		return nil, NewTechnicalError("brotli compression is not supported", nil)
	default:
		return nil, NewTechnicalError("unrecognized compression algorithm "+string(algo), nil)
	}
	return buf.Bytes(), nil
}

// Decompress inverts compress for algo; used by both the publish pipeline's
// round-trip tests and the worker pipeline's decompress step.
func Decompress(algo Algorithm, body []byte) ([]byte, error) {
	switch algo {
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case Deflate:
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		return io.ReadAll(r)
	case Brotli:
		return nil, NewTechnicalError("brotli decompression is not supported", nil)
	default:
		return nil, NewTechnicalError("unrecognized compression algorithm "+string(algo), nil)
	}
}
