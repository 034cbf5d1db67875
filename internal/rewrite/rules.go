package rewrite

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Rule is one step of the rewrite pipeline.
type Rule struct {
	Name  string
	Kinds KindSet
	Apply func(text string) string
}

// regexRule replaces every match of re with the result of repl, which
// receives the full match followed by the capture groups.
func regexRule(name string, kinds KindSet, re *regexp.Regexp, repl func(groups []string) string) Rule {
	return Rule{
		Name:  name,
		Kinds: kinds,
		Apply: func(text string) string {
			return replaceAllSubmatchFunc(re, text, repl)
		},
	}
}

// templateRule replaces every match of re with an expanded $-template.
func templateRule(name string, kinds KindSet, re *regexp.Regexp, template string) Rule {
	return Rule{
		Name:  name,
		Kinds: kinds,
		Apply: func(text string) string {
			return re.ReplaceAllString(text, template)
		},
	}
}

func replaceAllSubmatchFunc(re *regexp.Regexp, src string, repl func([]string) string) string {
	matches := re.FindAllStringSubmatchIndex(src, -1)
	if len(matches) == 0 {
		return src
	}

	var b strings.Builder
	b.Grow(len(src))
	last := 0
	for _, loc := range matches {
		groups := make([]string, len(loc)/2)
		for i := range groups {
			if loc[2*i] >= 0 {
				groups[i] = src[loc[2*i]:loc[2*i+1]]
			}
		}
		b.WriteString(src[last:loc[0]])
		b.WriteString(repl(groups))
		last = loc[1]
	}
	b.WriteString(src[last:])
	return b.String()
}

// Pattern fragments. A slash may appear JSON-escaped ("\/") inside scripts and
// JSON payloads; the replacement keeps the escaping style of the match.
const (
	slash = `\\?/`
	// hostEnd is the character following a hostname: anything that cannot
	// continue it. Captured so it can be written back.
	hostEnd = `([^\w.:-]|$)`
	// pathEnd is the character following a path prefix segment.
	pathEnd = `([^\w.~%-]|$)`
	// urlPath is the rest of an absolute URL up to a delimiter.
	urlPath = `((?:` + slash + `|[?#])(?:\\/|[^\s"'<>()\x60\\])*)?`
	scheme  = `(?i:https?:)`
)

func slashPath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = regexp.QuoteMeta(s)
	}
	return strings.Join(segs, slash)
}

func hostAlternation(hosts []string) string {
	quoted := make([]string, len(hosts))
	for i, h := range hosts {
		quoted[i] = regexp.QuoteMeta(h)
	}
	return `(?i:` + strings.Join(quoted, "|") + `)`
}

// originHost matches the origin host. A host configured without a port also
// matches an explicit default port (:80 or :443).
func originHost(host string) string {
	p := `(?i:` + regexp.QuoteMeta(host) + `)`
	if _, _, err := net.SplitHostPort(host); err != nil {
		p += `(?::(?:443|80))?`
	}
	return p
}

// escapeLike writes s with JSON-escaped slashes when the match used them.
func escapeLike(match, s string) string {
	if strings.Contains(match, `\/`) {
		return strings.ReplaceAll(s, "/", `\/`)
	}
	return s
}

// gatewayURL builds the local fetch endpoint reference for an absolute URL.
func gatewayURL(fetchPath, absolute string) string {
	absolute = strings.ReplaceAll(absolute, `\/`, "/")
	absolute = strings.ReplaceAll(absolute, "&amp;", "&")
	return fetchPath + "?url=" + url.QueryEscape(absolute)
}

// originPrefixRule rewrites absolute references to the origin's prefixed
// path to the relay's own prefix.
func originPrefixRule(host, prefix string) Rule {
	re := regexp.MustCompile(scheme + `?` + slash + slash + originHost(host) + slashPath(prefix) + pathEnd)
	return regexRule("origin-prefix", AnyText, re, func(g []string) string {
		return escapeLike(g[0], prefix) + g[1]
	})
}

// originHostRule rewrites the remaining absolute references to the bare origin host.
func originHostRule(host, prefix string) Rule {
	re := regexp.MustCompile(scheme + `?` + slash + slash + originHost(host) + hostEnd)
	return regexRule("origin-host", AnyText, re, func(g []string) string {
		return escapeLike(g[0], prefix) + g[1]
	})
}

// auxAbsoluteRule routes absolute references to allow-listed hosts through the gateway.
func auxAbsoluteRule(hosts []string, fetchPath string) Rule {
	re := regexp.MustCompile(`(` + scheme + slash + slash + hostAlternation(hosts) + `(?::\d+)?` + urlPath + `)` + hostEnd)
	return regexRule("aux-absolute", AnyText, re, func(g []string) string {
		return gatewayURL(fetchPath, g[1]) + g[3]
	})
}

// auxProtocolRelativeRule routes //host/path references to allow-listed hosts
// through the gateway, assuming https.
func auxProtocolRelativeRule(hosts []string, fetchPath string) Rule {
	re := regexp.MustCompile(`(^|[^\w:/\\])` + slash + slash + `(` + hostAlternation(hosts) + `(?::\d+)?)` + urlPath + hostEnd)
	return regexRule("aux-protocol-relative", AnyText, re, func(g []string) string {
		return g[1] + gatewayURL(fetchPath, "https://"+g[2]+g[3]) + g[4]
	})
}

// Attribute stripping only matches at attribute-name positions: the earlier
// attributes of the tag are consumed as whole name[=value] tokens so text
// inside quoted values is never touched.
const (
	attrValue = `(?:\s*=\s*(?:"[^"]*"|'[^']*'|[^\s"'>]+))`
	attrs     = `(?:\s+[^\s"'=<>/]+` + attrValue + `?)*?`
	attrEnd   = `([\s/>])`
)

var (
	integrityAttr   = regexp.MustCompile(`(?i)(<(?:script|link)\b` + attrs + `)\s+integrity` + attrValue + `?` + attrEnd)
	crossoriginAttr = regexp.MustCompile(`(?i)(<[a-z][a-z0-9-]*` + attrs + `)\s+crossorigin` + attrValue + `?` + attrEnd)
)

// Subresource-integrity hashes no longer match once a resource is rewritten.
func stripIntegrityRule() Rule {
	return templateRule("strip-integrity", Kinds(KindHTML), integrityAttr, "${1}${2}")
}

func stripCrossoriginRule() Rule {
	return templateRule("strip-crossorigin", Kinds(KindHTML), crossoriginAttr, "${1}${2}")
}
