// Package model defines shared types for the relay.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded to the origin.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     io.ReadCloser
}

// ProxyResponse is an upstream response whose body has not been read yet.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// UpstreamResponse is an upstream response buffered fully in memory.
// It is owned by a single request and discarded once the client response is written.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// FetchRequest asks the gateway for one auxiliary asset.
type FetchRequest struct {
	Ctx    context.Context
	RawURL string
}
