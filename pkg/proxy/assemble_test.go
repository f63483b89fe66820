package proxy

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func originResponse(status int, header http.Header) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     header,
	}
}

func TestWriteTransformed_DropsStaleHeaders(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Content-Length", "9999")
	header.Set("Content-Encoding", "gzip")
	header.Set("Etag", `"abc123"`)
	header.Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
	header.Set("Cache-Control", "max-age=60")

	rec := httptest.NewRecorder()
	body := []byte("<p>rewritten</p>")
	require.NoError(t, writeTransformed(rec, originResponse(http.StatusOK, header), body))

	resp := rec.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, strconv.Itoa(len(body)), resp.Header.Get("Content-Length"))
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
	assert.Empty(t, resp.Header.Get("Etag"))
	assert.Empty(t, resp.Header.Get("Last-Modified"))
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "max-age=60", resp.Header.Get("Cache-Control"))
	assert.Equal(t, string(body), rec.Body.String())
}

func TestWriteTransformed_StatusPassesThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, writeTransformed(rec, originResponse(http.StatusNotFound, http.Header{}), []byte("gone")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWritePassthrough_PreservesHeadersAndBody(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "application/octet-stream")
	header.Set("Etag", `"keep-me"`)
	header.Add("Set-Cookie", "a=1")
	header.Add("Set-Cookie", "b=2")

	rec := httptest.NewRecorder()
	require.NoError(t, writePassthrough(rec, originResponse(http.StatusOK, header), strings.NewReader("raw bytes")))

	resp := rec.Result()
	assert.Equal(t, "raw bytes", rec.Body.String())
	assert.Equal(t, `"keep-me"`, resp.Header.Get("Etag"), "passthrough never invalidates validators")
	assert.Equal(t, []string{"a=1", "b=2"}, resp.Header.Values("Set-Cookie"))
}

func TestCopyResponseHeaders_FiltersHopByHop(t *testing.T) {
	src := http.Header{}
	src.Set("Content-Type", "text/html")
	src.Set("Connection", "keep-alive, X-Internal")
	src.Set("Keep-Alive", "timeout=5")
	src.Set("Transfer-Encoding", "chunked")
	src.Set("X-Internal", "secret")
	src.Set("X-Forwarded-Fine", "yes")

	dst := http.Header{}
	copyResponseHeaders(dst, src)

	assert.Equal(t, "text/html", dst.Get("Content-Type"))
	assert.Equal(t, "yes", dst.Get("X-Forwarded-Fine"))
	assert.Empty(t, dst.Get("Connection"))
	assert.Empty(t, dst.Get("Keep-Alive"))
	assert.Empty(t, dst.Get("Transfer-Encoding"))
	assert.Empty(t, dst.Get("X-Internal"), "Connection-named headers are hop-by-hop too")
}
