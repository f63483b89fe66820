// Package obfuscate implements structure-preserving, semantics-destroying
// body transformations for HTML and JSON origin responses. Every transform
// guarantees that its output parses under the same grammar as its input with
// an identical structural shape; only scalar content changes.
package obfuscate

import "errors"

// ErrParseFailed reports input that could not be parsed under the declared
// grammar. Callers are expected to fail open and serve the original body.
var ErrParseFailed = errors.New("obfuscate: parse failed")
