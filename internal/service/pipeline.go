package service

import (
	"fmt"
	"net/http"

	"origin-relay/internal/challenge"
	"origin-relay/internal/codec"
	"origin-relay/internal/model"
	"origin-relay/internal/rewrite"
)

// Outcome records which branch of the content pipeline produced a response.
type Outcome int

const (
	// OutcomeRewritten: text payload decoded, rewritten and re-encoded.
	OutcomeRewritten Outcome = iota
	// OutcomePassthrough: binary payload relayed unchanged.
	OutcomePassthrough
	// OutcomeChallenge: anti-bot challenge relayed unchanged.
	OutcomeChallenge
	// OutcomeDecodeFailed: unsupported or corrupt content-encoding; relayed unchanged.
	OutcomeDecodeFailed
	// OutcomeFallback: rewrite or re-encode failed; relayed unchanged.
	OutcomeFallback
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRewritten:
		return "rewritten"
	case OutcomePassthrough:
		return "passthrough"
	case OutcomeChallenge:
		return "challenge"
	case OutcomeDecodeFailed:
		return "decode_failed"
	case OutcomeFallback:
		return "fallback"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is a fully assembled client response.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Process runs a buffered origin response through decode, challenge
// detection, classification, rewriting and re-encoding. It never fails: every
// error path relays the original bytes. method is the inbound request method.
func (s *ProxyService) Process(method string, up *model.UpstreamResponse) *Result {
	res := s.process(method, up)
	if s.metrics != nil {
		s.metrics.PipelineOutcomes.WithLabelValues(res.Outcome.String()).Inc()
	}
	return res
}

func (s *ProxyService) process(method string, up *model.UpstreamResponse) *Result {
	if bodiless(method, up.StatusCode) {
		header := responseHeaders(up.Header, -1)
		s.rewriteLocation(header)
		return &Result{
			Outcome:    OutcomePassthrough,
			StatusCode: up.StatusCode,
			Header:     header,
		}
	}

	contentType := up.Header.Get("Content-Type")

	payload, err := codec.Decode(up.Body, up.Header.Get("Content-Encoding"), s.maxBody)
	if err != nil {
		s.logger.Debug("decode failed; relaying raw body",
			"encoding", up.Header.Get("Content-Encoding"),
			"err", err,
		)
		return s.relay(up, OutcomeDecodeFailed)
	}

	if challenge.Detect(up.StatusCode, contentType, payload.Bytes) {
		s.logger.Info("challenge response relayed", "status", up.StatusCode)
		return s.relay(up, OutcomeChallenge)
	}

	kind := rewrite.Classify(contentType)
	if !kind.IsText() {
		return s.relay(up, OutcomePassthrough)
	}

	text, err := s.rewrite(string(payload.Bytes), kind)
	if err != nil {
		s.logger.Warn("rewrite failed; relaying raw body", "kind", kind.String(), "err", err)
		return s.relay(up, OutcomeFallback)
	}

	body, err := codec.Encode(model.DecodedPayload{Encoding: payload.Encoding, Bytes: []byte(text)})
	if err != nil {
		s.logger.Warn("re-encode failed; relaying raw body", "encoding", payload.Encoding.String(), "err", err)
		return s.relay(up, OutcomeFallback)
	}

	header := responseHeaders(up.Header, len(body), "Content-Encoding")
	if tok := payload.Encoding.Token(); tok != "" {
		header.Set("Content-Encoding", tok)
	}
	s.rewriteLocation(header)

	return &Result{
		Outcome:    OutcomeRewritten,
		StatusCode: up.StatusCode,
		Header:     header,
		Body:       body,
	}
}

// bodiless reports whether the response carries no payload by protocol, so
// its headers describe a representation that was never sent.
func bodiless(method string, status int) bool {
	if method == http.MethodHead {
		return true
	}
	return (status >= 100 && status < 200) || status == http.StatusNoContent || status == http.StatusNotModified
}

// rewrite applies the rewriter, converting a panic into an error.
func (s *ProxyService) rewrite(text string, kind rewrite.Kind) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rewriter panic: %v", r)
		}
	}()
	return s.rewriter.Rewrite(text, kind), nil
}

// relay emits the original bytes with filtered headers. A challenge keeps
// its headers untouched apart from the mandatory filtering.
func (s *ProxyService) relay(up *model.UpstreamResponse, outcome Outcome) *Result {
	header := responseHeaders(up.Header, len(up.Body))
	if outcome != OutcomeChallenge {
		s.rewriteLocation(header)
	}
	return &Result{
		Outcome:    outcome,
		StatusCode: up.StatusCode,
		Header:     header,
		Body:       up.Body,
	}
}

func (s *ProxyService) rewriteLocation(h http.Header) {
	if loc := h.Get("Location"); loc != "" {
		h.Set("Location", s.rewriter.RewriteLocation(loc))
	}
}
