package proxy

import (
	"io"
	"net/http"
	"strconv"
	"strings"
)

// staleOnTransform are response headers whose values describe the original
// byte representation; they are dropped when the body has been rewritten so
// recipients do not reject or mis-decode the transformed payload.
var staleOnTransform = []string{
	"Content-Encoding",
	"Content-Length",
	"Etag",
	"Last-Modified",
}

// writeTransformed emits a response whose body was replaced by an obfuscator:
// status passes through unchanged, size-dependent headers are recomputed and
// representation headers invalidated by the rewrite are stripped.
func writeTransformed(w http.ResponseWriter, resp *http.Response, body []byte) error {
	copyResponseHeaders(w.Header(), resp.Header)
	for _, name := range staleOnTransform {
		w.Header().Del(name)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))

	w.WriteHeader(resp.StatusCode)
	_, err := w.Write(body)
	return err
}

// writePassthrough streams the origin response to the client unchanged except
// for hop-by-hop header hygiene. body is the reader to stream; callers that
// already buffered a prefix pass a replayReader. Memory use stays bounded to
// io.Copy's transfer buffer regardless of body size, and a client or backend
// disconnect simply terminates the copy early.
func writePassthrough(w http.ResponseWriter, resp *http.Response, body io.Reader) error {
	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	_, err := io.Copy(newFlushingWriter(w), body)
	return err
}

// copyResponseHeaders copies HTTP response headers from source to destination,
// filtering hop-by-hop headers.
func copyResponseHeaders(dst, src http.Header) {
	connectionNamed := connectionHeaderTokens(src)
	for key, values := range src {
		if isHopByHopHeader(key) || connectionNamed[strings.ToLower(key)] {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// flushingWriter wraps an http.ResponseWriter to flush after every write so
// streamed passthrough bodies reach the client incrementally.
type flushingWriter struct {
	http.ResponseWriter
	flusher http.Flusher
}

func newFlushingWriter(w http.ResponseWriter) *flushingWriter {
	fw := &flushingWriter{ResponseWriter: w}
	if flusher, ok := w.(http.Flusher); ok {
		fw.flusher = flusher
	}
	return fw
}

func (w *flushingWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	if err == nil && w.flusher != nil {
		w.flusher.Flush()
	}
	return n, err
}
