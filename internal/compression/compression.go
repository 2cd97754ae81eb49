// Package compression provides streaming codecs for database dump files.
package compression

import (
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies a compression algorithm
type Type string

const (
	TypeNone Type = "none"
	TypeGzip Type = "gzip"
	TypeLZ4  Type = "lz4"
	TypeZstd Type = "zstd"
)

// DefaultLevel asks each codec for its own default
const DefaultLevel = 0

// SupportedTypes lists the algorithms in a stable order
func SupportedTypes() []Type {
	return []Type{TypeNone, TypeGzip, TypeLZ4, TypeZstd}
}

// ParseType parses a configuration value; the empty string means none
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TypeNone, nil
	case "gzip", "gz":
		return TypeGzip, nil
	case "lz4":
		return TypeLZ4, nil
	case "zstd", "zst":
		return TypeZstd, nil
	default:
		return "", fmt.Errorf("unsupported compression type %q", s)
	}
}

// Extension returns the file suffix for t, including the dot
func (t Type) Extension() string {
	switch t {
	case TypeGzip:
		return ".gz"
	case TypeLZ4:
		return ".lz4"
	case TypeZstd:
		return ".zst"
	default:
		return ""
	}
}

// FromPath infers the codec from a file name suffix
func FromPath(path string) Type {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return TypeGzip
	case ".lz4":
		return TypeLZ4
	case ".zst":
		return TypeZstd
	default:
		return TypeNone
	}
}

// NewWriter wraps w with an encoder. Closing the returned writer flushes
// the encoder but never closes w.
func NewWriter(w io.Writer, t Type, level int) (io.WriteCloser, error) {
	switch t {
	case TypeNone, "":
		return nopWriteCloser{w}, nil

	case TypeGzip:
		if level < gzip.BestSpeed || level > gzip.BestCompression {
			level = gzip.DefaultCompression
		}
		gw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		return gw, nil

	case TypeLZ4:
		lw := lz4.NewWriter(w)
		// LZ4 only distinguishes fast and high compression
		if level > 6 {
			if err := lw.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
				return nil, fmt.Errorf("failed to set LZ4 compression level: %w", err)
			}
		}
		return lw, nil

	case TypeZstd:
		encoderLevel := zstd.SpeedDefault
		switch {
		case level == DefaultLevel:
		case level <= 1:
			encoderLevel = zstd.SpeedFastest
		case level <= 3:
			encoderLevel = zstd.SpeedDefault
		case level <= 6:
			encoderLevel = zstd.SpeedBetterCompression
		default:
			encoderLevel = zstd.SpeedBestCompression
		}
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(encoderLevel))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		return zw, nil

	default:
		return nil, fmt.Errorf("unsupported compression type %q", t)
	}
}

// NewReader wraps r with a decoder. Closing the returned reader releases
// decoder resources but never closes r.
func NewReader(r io.Reader, t Type) (io.ReadCloser, error) {
	switch t {
	case TypeNone, "":
		return io.NopCloser(r), nil

	case TypeGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gr, nil

	case TypeLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil

	case TypeZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		return zstdReadCloser{zr}, nil

	default:
		return nil, fmt.Errorf("unsupported compression type %q", t)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

type zstdReadCloser struct {
	*zstd.Decoder
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}
