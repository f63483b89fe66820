// Package classify decides, per inbound request, whether the origin response
// should be served verbatim or content-poisoned. Classification is a pure
// pre-fetch decision: it reads only the request and an immutable rule set,
// never the network.
package classify

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gobwas/glob"
)

// Decision is the binary outcome of classifying a request.
type Decision int

const (
	// Passthrough forwards the origin response unchanged.
	Passthrough Decision = iota
	// Obfuscate replaces transformable bodies with poisoned content.
	Obfuscate
)

// String returns the lowercase decision name used in logs and metrics labels.
func (d Decision) String() string {
	if d == Obfuscate {
		return "obfuscate"
	}
	return "passthrough"
}

// Reason tags explain which rule produced a decision.
const (
	ReasonDefault   = "default"
	ReasonSignature = "signature-match"
	ReasonOverride  = "override"
)

// Result couples a decision with the reason that produced it.
type Result struct {
	Decision Decision
	Reason   string
}

// Rule is a single classification predicate. Evaluate reports the decision,
// a reason tag, and whether the rule matched at all. Rules must be pure:
// identical requests always produce identical results.
type Rule interface {
	Evaluate(r *http.Request) (Decision, string, bool)
}

// Classifier evaluates an ordered rule list; the first match wins and
// unmatched requests default to Passthrough.
type Classifier struct {
	rules []Rule
}

// New builds a classifier from the given rules.
func New(rules ...Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify maps a request to a decision. Pure and deterministic.
func (c *Classifier) Classify(r *http.Request) Result {
	for _, rule := range c.rules {
		if decision, reason, ok := rule.Evaluate(r); ok {
			return Result{Decision: decision, Reason: reason}
		}
	}
	return Result{Decision: Passthrough, Reason: ReasonDefault}
}

// OverrideRule forces Obfuscate when a designated query parameter carries the
// trigger value, regardless of the client signature. This is the externally
// reproducible demonstration hook.
type OverrideRule struct {
	Param string
	Value string
}

// Evaluate matches the override query parameter against the trigger value.
func (o OverrideRule) Evaluate(r *http.Request) (Decision, string, bool) {
	if o.Param == "" {
		return Passthrough, "", false
	}
	if r.URL.Query().Get(o.Param) == o.Value {
		return Obfuscate, ReasonOverride, true
	}
	return Passthrough, "", false
}

// SignatureRule matches a client-identifying header against a set of glob
// patterns describing known-hostile crawler signatures. Patterns without glob
// metacharacters behave as exact matches. Matching is case-insensitive.
type SignatureRule struct {
	header   string
	patterns []glob.Glob
	sources  []string
}

// NewSignatureRule compiles the given patterns. An invalid pattern fails the
// whole rule so misconfiguration is caught at startup, not per request.
func NewSignatureRule(header string, patterns []string) (*SignatureRule, error) {
	if strings.TrimSpace(header) == "" {
		header = "User-Agent"
	}

	rule := &SignatureRule{header: header}
	for _, p := range patterns {
		compiled, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("invalid signature pattern %q: %w", p, err)
		}
		rule.patterns = append(rule.patterns, compiled)
		rule.sources = append(rule.sources, p)
	}
	return rule, nil
}

// Evaluate matches the configured header value against the signature set.
func (s *SignatureRule) Evaluate(r *http.Request) (Decision, string, bool) {
	value := strings.ToLower(r.Header.Get(s.header))
	if value == "" {
		return Passthrough, "", false
	}
	for _, p := range s.patterns {
		if p.Match(value) {
			return Obfuscate, ReasonSignature, true
		}
	}
	return Passthrough, "", false
}

// Patterns returns the uncompiled pattern sources, primarily for logging.
func (s *SignatureRule) Patterns() []string {
	return append([]string(nil), s.sources...)
}
