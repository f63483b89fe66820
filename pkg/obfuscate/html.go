package obfuscate

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// skipTags are elements whose subtrees are never rewritten. Scripts, styles
// and templates carry executable or rendering-critical content, not the
// semantic text this proxy poisons.
var skipTags = map[string]struct{}{
	"script":   {},
	"noscript": {},
	"style":    {},
	"template": {},
	"iframe":   {},
}

// HTMLOptions tune which parts of a document keep their original content.
type HTMLOptions struct {
	// KeepTitle leaves the document title readable so poisoned pages stay
	// recognizable in browser tabs and history.
	KeepTitle bool
	// IgnoreNodeIDs lists element ids whose subtrees are left untouched.
	IgnoreNodeIDs []string
	// MetaTags names the meta name/property entries whose content attribute
	// is rewritten (e.g. description, og:title).
	MetaTags []string
}

// HTML rewrites the text content of a document while preserving its tag tree.
type HTML struct {
	filler    *Filler
	keepTitle bool
	ignoreIDs map[string]struct{}
	metaTags  map[string]struct{}
}

// NewHTML builds an HTML obfuscator around the given filler.
func NewHTML(filler *Filler, opts HTMLOptions) *HTML {
	h := &HTML{
		filler:    filler,
		keepTitle: opts.KeepTitle,
		ignoreIDs: make(map[string]struct{}, len(opts.IgnoreNodeIDs)),
		metaTags:  make(map[string]struct{}, len(opts.MetaTags)),
	}
	for _, id := range opts.IgnoreNodeIDs {
		h.ignoreIDs[id] = struct{}{}
	}
	for _, tag := range opts.MetaTags {
		h.metaTags[strings.ToLower(tag)] = struct{}{}
	}
	return h
}

// Obfuscate parses body as HTML (tolerantly, as real pages are rarely strictly
// valid), replaces text node contents with filler, and serializes the mutated
// tree. The output re-parses to the same ordered tag sequence as the input.
func (h *HTML) Obfuscate(body []byte) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	h.walk(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	return buf.Bytes(), nil
}

func (h *HTML) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		if _, skip := skipTags[n.Data]; skip {
			return
		}
		if _, skip := h.ignoreIDs[attrValue(n, "id")]; skip {
			return
		}
		if h.keepTitle && n.Data == "title" {
			return
		}
		if n.Data == "meta" {
			h.obfuscateMeta(n)
			return
		}
	}

	if n.Type == html.TextNode {
		n.Data = h.filler.Fill(n.Data)
		return
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		h.walk(child)
	}
}

// obfuscateMeta rewrites the content attribute of meta entries whose name or
// property is in the configured set.
func (h *HTML) obfuscateMeta(n *html.Node) {
	name := strings.ToLower(attrValue(n, "name"))
	property := strings.ToLower(attrValue(n, "property"))

	_, matchName := h.metaTags[name]
	_, matchProperty := h.metaTags[property]
	if !matchName && !matchProperty {
		return
	}

	for i := range n.Attr {
		if n.Attr[i].Key == "content" {
			n.Attr[i].Val = h.filler.Fill(n.Attr[i].Val)
		}
	}
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
