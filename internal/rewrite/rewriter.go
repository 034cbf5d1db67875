// Package rewrite redirects origin references in textual payloads back
// through the relay.
package rewrite

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
)

// Options configures a Rewriter.
type Options struct {
	// Origin is the upstream base URL (scheme and host).
	Origin *url.URL
	// Prefix is the path prefix shared by the relay and the origin.
	Prefix string
	// FetchPath is the local gateway endpoint.
	FetchPath string
	// AuxHosts are the hosts routed through the gateway.
	AuxHosts []string
	// InjectShim enables the client-side navigation shim for HTML.
	InjectShim bool
}

// Rewriter applies an ordered rule list to decoded text.
// It is safe for concurrent use; extra rules can be swapped at runtime.
type Rewriter struct {
	urlRules    []Rule
	markupRules []Rule
	shim        *Rule
	extra       atomic.Pointer[[]Rule]
}

// New builds the rule list for the given origin and gateway.
func New(opts Options) (*Rewriter, error) {
	if opts.Origin == nil || opts.Origin.Host == "" {
		return nil, errors.New("rewrite: origin host is required")
	}
	if !strings.HasPrefix(opts.Prefix, "/") || strings.HasSuffix(opts.Prefix, "/") {
		return nil, fmt.Errorf("rewrite: invalid prefix %q", opts.Prefix)
	}
	if opts.FetchPath == "" {
		return nil, errors.New("rewrite: fetch path is required")
	}

	host := opts.Origin.Host

	// Order matters: the prefixed form must be rewritten before the bare
	// host, otherwise /prefix would be doubled. URL rules run before the
	// attribute rules because the attributes sit on tags whose URLs change.
	urlRules := []Rule{
		originPrefixRule(host, opts.Prefix),
		originHostRule(host, opts.Prefix),
	}
	if len(opts.AuxHosts) > 0 {
		urlRules = append(urlRules, auxAbsoluteRule(opts.AuxHosts, opts.FetchPath))
	}

	r := &Rewriter{
		urlRules:    urlRules,
		markupRules: []Rule{stripIntegrityRule(), stripCrossoriginRule()},
	}
	// Protocol-relative aux references run after the absolute form so the
	// "//" inside "https://" is already gone.
	if len(opts.AuxHosts) > 0 {
		r.markupRules = append(r.markupRules, auxProtocolRelativeRule(opts.AuxHosts, opts.FetchPath))
	}
	if opts.InjectShim {
		s := shimRule(buildShim(host, opts.Prefix))
		r.shim = &s
	}
	return r, nil
}

// Rules returns the effective rule list in application order.
func (r *Rewriter) Rules() []Rule {
	rules := make([]Rule, 0, len(r.urlRules)+len(r.markupRules)+4)
	rules = append(rules, r.urlRules...)
	rules = append(rules, r.markupRules...)
	if extra := r.extra.Load(); extra != nil {
		rules = append(rules, *extra...)
	}
	if r.shim != nil {
		rules = append(rules, *r.shim)
	}
	return rules
}

// SetExtraRules replaces the user-supplied rules. They run after the
// built-in rules and before the shim injection.
func (r *Rewriter) SetExtraRules(rules []Rule) {
	cp := append([]Rule(nil), rules...)
	r.extra.Store(&cp)
}

// Rewrite applies every rule matching kind to text. Binary kinds are returned unchanged.
func (r *Rewriter) Rewrite(text string, kind Kind) string {
	if !kind.IsText() {
		return text
	}
	return apply(r.Rules(), text, kind)
}

// RewriteLocation applies the URL rules to a redirect target.
func (r *Rewriter) RewriteLocation(location string) string {
	return apply(r.urlRules, location, KindText)
}

func apply(rules []Rule, text string, kind Kind) string {
	for _, rule := range rules {
		if rule.Kinds.Has(kind) {
			text = rule.Apply(text)
		}
	}
	return text
}
