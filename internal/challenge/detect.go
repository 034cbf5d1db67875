// Package challenge recognises anti-automation interstitials returned by the
// origin in place of real application content.
package challenge

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// markers are matched case-insensitively against the decoded body.
var markers = [][]byte{
	// challenge tokens
	[]byte("cf_chl_"),
	[]byte("__cf_chl_tk"),
	// challenge classes / containers
	[]byte("cf-challenge"),
	[]byte("challenge-platform"),
	[]byte("challenge-form"),
	// browser verification
	[]byte("cf-browser-verification"),
	[]byte("browser-verification"),
	[]byte("checking your browser"),
}

// interstitialTitles are document titles used by challenge pages served with 403.
var interstitialTitles = []string{
	"just a moment...",
	"attention required!",
}

// Detect reports whether the response is a challenge interstitial.
func Detect(status int, contentType string, body []byte) bool {
	if status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests {
		return true
	}
	if HasMarker(body) {
		return true
	}
	if status == http.StatusForbidden && strings.Contains(strings.ToLower(contentType), "html") {
		return hasInterstitialTitle(body)
	}
	return false
}

// HasMarker reports whether body contains a known challenge marker.
func HasMarker(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, m := range markers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

func hasInterstitialTitle(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	for _, t := range interstitialTitles {
		if title == t {
			return true
		}
	}
	return false
}
