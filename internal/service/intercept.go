package service

import (
	"errors"
	"fmt"
	"io"

	"origin-relay/internal/model"
)

// ErrBodyTooLarge is returned when an upstream body exceeds the configured cap.
var ErrBodyTooLarge = errors.New("upstream body exceeds size limit")

// intercept buffers the whole upstream body and closes the stream.
// A limit <= 0 disables the cap.
func intercept(resp *model.ProxyResponse, limit int64) (*model.UpstreamResponse, error) {
	defer func() { _ = resp.Body.Close() }()

	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit)
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
