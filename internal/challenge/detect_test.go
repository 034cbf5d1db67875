package challenge

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        bool
	}{
		{"503 with empty body", http.StatusServiceUnavailable, "text/html", "", true},
		{"429 rate limited", http.StatusTooManyRequests, "application/json", `{"error":"slow down"}`, true},
		{"503 with challenge token", http.StatusServiceUnavailable, "text/html", `<script>window._cf_chl_opt={}</script>`, true},
		{"200 with challenge token", http.StatusOK, "text/html", `<form id="x" action="/?__cf_chl_tk=abc">`, true},
		{"200 with challenge class", http.StatusOK, "text/html", `<div class="CF-Challenge">`, true},
		{"200 with browser verification", http.StatusOK, "text/html", `<div class="cf-browser-verification">`, true},
		{"200 with checking phrase", http.StatusOK, "text/html", `<h1>Checking your browser before accessing</h1>`, true},
		{"403 interstitial title", http.StatusForbidden, "text/html; charset=UTF-8", `<html><head><title>Just a moment...</title></head><body></body></html>`, true},
		{"403 ordinary page", http.StatusForbidden, "text/html", `<html><head><title>Forbidden</title></head></html>`, false},
		{"403 title but not html", http.StatusForbidden, "text/plain", `<title>Just a moment...</title>`, false},
		{"200 real content", http.StatusOK, "text/html", `<html><head><title>Dashboard</title></head><body>hi</body></html>`, false},
		{"404 page", http.StatusNotFound, "text/html", `not found`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.status, tt.contentType, []byte(tt.body)))
		})
	}
}

func TestHasMarker_Empty(t *testing.T) {
	assert.False(t, HasMarker(nil))
}
