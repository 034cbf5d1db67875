// Package codec decodes and re-encodes HTTP content-encodings.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"origin-relay/internal/model"
)

var (
	// ErrUnsupportedEncoding is returned for content-encodings the codec cannot re-encode.
	ErrUnsupportedEncoding = errors.New("unsupported content-encoding")
	// ErrTooLarge is returned when the decoded body exceeds the caller's limit.
	ErrTooLarge = errors.New("decoded body too large")
)

// ParseEncoding maps a Content-Encoding header value to an Encoding.
// Empty and "identity" map to EncodingNone.
func ParseEncoding(header string) (model.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(header)) {
	case "", "identity":
		return model.EncodingNone, nil
	case "gzip", "x-gzip":
		return model.EncodingGzip, nil
	case "deflate":
		return model.EncodingDeflate, nil
	case "br":
		return model.EncodingBrotli, nil
	default:
		return model.EncodingNone, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, header)
	}
}

// Decode removes the content-encoding named by contentEncoding from raw.
// A limit <= 0 disables the decoded size check.
func Decode(raw []byte, contentEncoding string, limit int64) (model.DecodedPayload, error) {
	enc, err := ParseEncoding(contentEncoding)
	if err != nil {
		return model.DecodedPayload{}, err
	}

	var out []byte
	switch enc {
	case model.EncodingNone:
		return model.DecodedPayload{Encoding: enc, Bytes: raw}, nil
	case model.EncodingGzip:
		gr, gerr := gzip.NewReader(bytes.NewReader(raw))
		if gerr != nil {
			return model.DecodedPayload{}, fmt.Errorf("gzip reader: %w", gerr)
		}
		defer gr.Close()
		out, err = readLimited(gr, limit)
	case model.EncodingDeflate:
		out, err = inflate(raw, limit)
	case model.EncodingBrotli:
		out, err = readLimited(brotli.NewReader(bytes.NewReader(raw)), limit)
	}
	if err != nil {
		return model.DecodedPayload{}, fmt.Errorf("decode %s: %w", enc, err)
	}
	return model.DecodedPayload{Encoding: enc, Bytes: out}, nil
}

// inflate handles both zlib-wrapped (RFC 1950, what HTTP "deflate" means)
// and raw DEFLATE streams, which some servers send instead.
func inflate(raw []byte, limit int64) ([]byte, error) {
	if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
		out, rerr := readLimited(zr, limit)
		_ = zr.Close()
		if rerr == nil || errors.Is(rerr, ErrTooLarge) {
			return out, rerr
		}
	}
	fr := flate.NewReader(bytes.NewReader(raw))
	defer fr.Close()
	return readLimited(fr, limit)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, ErrTooLarge
	}
	return out, nil
}

// Encode compresses p.Bytes with p.Encoding.
func Encode(p model.DecodedPayload) ([]byte, error) {
	var (
		buf bytes.Buffer
		w   io.WriteCloser
	)
	switch p.Encoding {
	case model.EncodingNone:
		return p.Bytes, nil
	case model.EncodingGzip:
		w = gzip.NewWriter(&buf)
	case model.EncodingDeflate:
		w = zlib.NewWriter(&buf)
	case model.EncodingBrotli:
		w = brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedEncoding, p.Encoding)
	}

	if _, err := w.Write(p.Bytes); err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Encoding, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Encoding, err)
	}
	return buf.Bytes(), nil
}
