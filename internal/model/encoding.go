package model

// Encoding is an HTTP content-encoding the codec can decode and re-encode.
type Encoding int

const (
	EncodingNone Encoding = iota
	EncodingGzip
	EncodingDeflate
	EncodingBrotli
)

// Token returns the Content-Encoding header value, or "" for EncodingNone.
func (e Encoding) Token() string {
	switch e {
	case EncodingGzip:
		return "gzip"
	case EncodingDeflate:
		return "deflate"
	case EncodingBrotli:
		return "br"
	default:
		return ""
	}
}

func (e Encoding) String() string {
	if e == EncodingNone {
		return "none"
	}
	return e.Token()
}

// DecodedPayload is a response body with its content-encoding removed.
// Encoding always reflects the original Content-Encoding header so the
// payload can be re-encoded with the same algorithm.
type DecodedPayload struct {
	Encoding Encoding
	Bytes    []byte
}
