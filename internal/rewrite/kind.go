package rewrite

import (
	"fmt"
	"strings"
)

// Kind classifies a response body by its Content-Type.
type Kind uint8

const (
	KindBinary Kind = iota
	KindHTML
	KindScript
	KindStylesheet
	KindJSON
	KindText
)

var kindNames = map[Kind]string{
	KindBinary:     "binary",
	KindHTML:       "html",
	KindScript:     "script",
	KindStylesheet: "css",
	KindJSON:       "json",
	KindText:       "text",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsText reports whether bodies of this kind go through the rewriter.
func (k Kind) IsText() bool {
	return k != KindBinary
}

// ParseKind maps a kind name ("html", "script", "css", "json", "text") to a Kind.
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for k, v := range kindNames {
		if v == n && k != KindBinary {
			return k, nil
		}
	}
	return KindBinary, fmt.Errorf("unknown content kind %q", name)
}

// Classify maps a Content-Type header value to a Kind.
func Classify(contentType string) Kind {
	mt := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case mt == "text/html" || mt == "application/xhtml+xml":
		return KindHTML
	case strings.Contains(mt, "javascript") || strings.HasSuffix(mt, "ecmascript"):
		return KindScript
	case mt == "text/css":
		return KindStylesheet
	case mt == "application/json" || strings.HasSuffix(mt, "+json"):
		return KindJSON
	case mt == "text/plain":
		return KindText
	default:
		return KindBinary
	}
}

// KindSet is a set of kinds a rule applies to.
type KindSet uint8

// AnyText matches every textual kind.
const AnyText KindSet = 1<<KindHTML | 1<<KindScript | 1<<KindStylesheet | 1<<KindJSON | 1<<KindText

// Kinds builds a KindSet.
func Kinds(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s |= 1 << k
	}
	return s
}

// Has reports whether k is in the set.
func (s KindSet) Has(k Kind) bool {
	return s&(1<<k) != 0
}
