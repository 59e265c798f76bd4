package lbstore

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"github.com/frankframework/ladybug"
	"github.com/pierrec/lz4/v4"
)

// Codec converts reports to and from the blobs kept by storages.
type Codec interface {
	Name() string
	Encode(r *ladybug.Report) ([]byte, error)
	Decode(data []byte) (*ladybug.Report, error)
}

var (
	// CodecGzip stores gzip-compressed JSON. It's the default.
	CodecGzip Codec = gzipCodec{}

	// CodecLZ4 stores LZ4-framed JSON, trading size for speed.
	CodecLZ4 Codec = lz4Codec{}
)

// CodecByName returns the codec with the given name, "gzip" or "lz4".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecGzip.Name():
		return CodecGzip, nil
	case CodecLZ4.Name():
		return CodecLZ4, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

var lz4Magic = []byte{0x04, 0x22, 0x4d, 0x18}

// Decode a blob written by any codec.
func Decode(data []byte) (*ladybug.Report, error) {
	if bytes.HasPrefix(data, lz4Magic) {
		return CodecLZ4.Decode(data)
	}
	return CodecGzip.Decode(data)
}

type gzipCodec struct{}

func (gzipCodec) Name() string { return "gzip" }

func (gzipCodec) Encode(r *ladybug.Report) ([]byte, error) {
	data, err := r.Bytes()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decode(data []byte) (*ladybug.Report, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()
	return decodeJSON(zr)
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Encode(r *ladybug.Report) ([]byte, error) {
	data, err := r.Bytes()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decode(data []byte) (*ladybug.Report, error) {
	return decodeJSON(lz4.NewReader(bytes.NewReader(data)))
}

func decodeJSON(r io.Reader) (*ladybug.Report, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	report := &ladybug.Report{}
	if err := json.Unmarshal(data, report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}
