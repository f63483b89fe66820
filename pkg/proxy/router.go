package proxy

import (
	"mime"
	"net/http"
	"strings"
)

// Kind identifies which obfuscation strategy, if any, applies to a response.
type Kind int

const (
	// KindOpaque marks content with no transformation strategy; it is always
	// passed through verbatim, even for hostile requests.
	KindOpaque Kind = iota
	// KindHTML routes to the HTML obfuscator.
	KindHTML
	// KindJSON routes to the JSON obfuscator.
	KindJSON
)

// String returns the lowercase kind name used in logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case KindHTML:
		return "html"
	case KindJSON:
		return "json"
	default:
		return "opaque"
	}
}

// DetectKind derives the content kind from the declared Content-Type header,
// ignoring charset and other parameters. Missing or unrecognized types route
// to KindOpaque: with no strategy available the safe default is the real
// content, never a corrupted or mismatched body.
func DetectKind(header http.Header) Kind {
	declared := header.Get("Content-Type")
	if declared == "" {
		return KindOpaque
	}

	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return KindOpaque
	}

	switch {
	case mediaType == "text/html":
		return KindHTML
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		return KindJSON
	default:
		return KindOpaque
	}
}
