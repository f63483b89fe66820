package proxy

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirageproxy/mirage/pkg/classify"
	"github.com/mirageproxy/mirage/pkg/obfuscate"
)

// staticSource serves one fixed classifier snapshot.
type staticSource struct {
	classifier *classify.Classifier
}

func (s staticSource) Current() *classify.Classifier { return s.classifier }

// stubObfuscator returns a fixed transformation result.
type stubObfuscator struct {
	out []byte
	err error
}

func (s stubObfuscator) Obfuscate([]byte) ([]byte, error) { return s.out, s.err }

const hostileUA = "GPTBot/1.0"

func hostileClassifier(t *testing.T) *classify.Classifier {
	t.Helper()
	signatures, err := classify.NewSignatureRule("User-Agent", []string{"GPTBot*"})
	require.NoError(t, err)
	return classify.New(signatures)
}

type pipelineConfig struct {
	html      Obfuscator
	json      Obfuscator
	maxBuffer int64
	timeout   time.Duration
	style     ErrorPageStyle
}

func newTestPipeline(t *testing.T, backendURL string, cfg pipelineConfig) *Pipeline {
	t.Helper()
	if cfg.maxBuffer == 0 {
		cfg.maxBuffer = 1 << 20
	}
	if cfg.timeout == 0 {
		cfg.timeout = 2 * time.Second
	}
	origin, err := NewOrigin(backendURL, cfg.timeout)
	require.NoError(t, err)

	return NewPipeline(PipelineOptions{
		Classifiers:    staticSource{classifier: hostileClassifier(t)},
		Origin:         origin,
		HTML:           cfg.html,
		JSON:           cfg.json,
		MaxBufferBytes: cfg.maxBuffer,
		ErrorStyle:     cfg.style,
	})
}

func serveOne(p *Pipeline, method, target, userAgent string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	return rec
}

func TestPipeline_PassthroughIsByteIdentical(t *testing.T) {
	const page = "<html><body><p>Genuine content</p></body></html>"
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Backend", "origin-1")
		w.Header().Set("Etag", `"v1"`)
		_, _ = w.Write([]byte(page))
	}))
	defer backend.Close()

	p := newTestPipeline(t, backend.URL, pipelineConfig{
		html: stubObfuscator{out: []byte("SHOULD NOT RUN")},
		json: stubObfuscator{out: []byte("SHOULD NOT RUN")},
	})

	rec := serveOne(p, "GET", "/page", "Mozilla/5.0 (X11; Linux x86_64)")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, page, rec.Body.String())
	assert.Equal(t, "origin-1", rec.Header().Get("X-Backend"))
	assert.Equal(t, `"v1"`, rec.Header().Get("Etag"))
}

func TestPipeline_PassthroughKeepsErrorStatus(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("<h1>origin broke</h1>"))
	}))
	defer backend.Close()

	p := newTestPipeline(t, backend.URL, pipelineConfig{html: stubObfuscator{out: []byte("X")}})

	rec := serveOne(p, "GET", "/", "Mozilla/5.0")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "<h1>origin broke</h1>", rec.Body.String())
}

func TestPipeline_HostileHTMLIsTransformed(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Etag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		_, _ = w.Write([]byte("<p>real content</p>"))
	}))
	defer backend.Close()

	p := newTestPipeline(t, backend.URL, pipelineConfig{
		html: stubObfuscator{out: []byte("<p>poisoned</p>")},
		json: stubObfuscator{out: []byte("WRONG STRATEGY")},
	})

	rec := serveOne(p, "GET", "/article", hostileUA)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<p>poisoned</p>", rec.Body.String())
	assert.Equal(t, "15", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Header().Get("Etag"), "validators are stale after transformation")
	assert.Empty(t, rec.Header().Get("Last-Modified"))
}

func TestPipeline_HostileJSONRoutesToJSONStrategy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"real":true}`))
	}))
	defer backend.Close()

	p := newTestPipeline(t, backend.URL, pipelineConfig{
		html: stubObfuscator{out: []byte("WRONG STRATEGY")},
		json: stubObfuscator{out: []byte(`{"fake":true}`)},
	})

	rec := serveOne(p, "GET", "/api/posts", hostileUA)
	assert.Equal(t, `{"fake":true}`, rec.Body.String())
}

func TestPipeline_HostileOpaquePassesThrough(t *testing.T) {
	payload := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer backend.Close()

	p := newTestPipeline(t, backend.URL, pipelineConfig{
		html: stubObfuscator{out: []byte("SHOULD NOT RUN")},
		json: stubObfuscator{out: []byte("SHOULD NOT RUN")},
	})

	rec := serveOne(p, "GET", "/logo.png", hostileUA)
	assert.Equal(t, payload, rec.Body.Bytes())
}

func TestPipeline_ObfuscationFailureFailsOpen(t *testing.T) {
	const broken = `{"trailing": garbage`
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(broken))
	}))
	defer backend.Close()

	p := newTestPipeline(t, backend.URL, pipelineConfig{
		html: stubObfuscator{out: []byte("X")},
		json: stubObfuscator{err: errors.New("parse failed")},
	})

	rec := serveOne(p, "GET", "/api", hostileUA)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, broken, rec.Body.String(), "fail open serves the original body")
}

func TestPipeline_OversizeBodyDegradesToPassthrough(t *testing.T) {
	big := strings.Repeat("a", 4096)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(big))
	}))
	defer backend.Close()

	p := newTestPipeline(t, backend.URL, pipelineConfig{
		html:      stubObfuscator{out: []byte("SHOULD NOT RUN")},
		maxBuffer: 1024,
	})

	rec := serveOne(p, "GET", "/huge", hostileUA)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, big, rec.Body.String(), "oversize bodies are served intact, not truncated")
}

func TestPipeline_UnreachableUpstreamIs502(t *testing.T) {
	// A closed server guarantees connection refused.
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close()

	p := newTestPipeline(t, backend.URL, pipelineConfig{html: stubObfuscator{out: []byte("X")}})

	rec := serveOne(p, "GET", "/", "Mozilla/5.0")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "502 Bad Gateway")
}

func TestPipeline_SlowUpstreamIs504(t *testing.T) {
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer backend.Close()
	defer close(release)

	p := newTestPipeline(t, backend.URL, pipelineConfig{
		html:    stubObfuscator{out: []byte("X")},
		timeout: 50 * time.Millisecond,
	})

	rec := serveOne(p, "GET", "/slow", "Mozilla/5.0")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestPipeline_NginxStyleGatewayError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close()

	p := newTestPipeline(t, backend.URL, pipelineConfig{
		html:  stubObfuscator{out: []byte("X")},
		style: ErrorPageNginx,
	})

	rec := serveOne(p, "GET", "/", "Mozilla/5.0")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "<center>nginx</center>")
}

// End to end with the real obfuscators: structure survives, content does not.
func TestPipeline_EndToEndHTMLObfuscation(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><h1>Launch Plans</h1><p>The rocket ships Tuesday.</p></body></html>`))
	}))
	defer backend.Close()

	filler := obfuscate.NewFiller(nil)
	p := newTestPipeline(t, backend.URL, pipelineConfig{
		html: obfuscate.NewHTML(filler, obfuscate.HTMLOptions{}),
		json: obfuscate.NewJSON(filler),
	})

	rec := serveOne(p, "GET", "/news", hostileUA)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "<h1>")
	assert.Contains(t, body, "<p>")
	for _, leak := range []string{"Launch", "Plans", "rocket", "Tuesday"} {
		assert.NotContains(t, body, leak)
	}

	// A genuine browser sees the original on the same pipeline.
	rec = serveOne(p, "GET", "/news", "Mozilla/5.0")
	assert.Contains(t, rec.Body.String(), "Launch Plans")
}
