// Package proxy implements the request pipeline: classify the inbound
// request, fetch the origin response, route its body to an obfuscation
// strategy or pass it through, and reassemble the final response.
package proxy

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirageproxy/mirage/pkg/classify"
)

// ClassifierSource yields the classifier snapshot for a request. The file
// provider in pkg/classify implements it; tests substitute fixed classifiers.
type ClassifierSource interface {
	Current() *classify.Classifier
}

// Obfuscator is a single body transformation strategy. The filler algorithm
// behind it stays pluggable; the pipeline only relies on the fail-open
// contract: either transformed bytes or an error, never partial output.
type Obfuscator interface {
	Obfuscate(body []byte) ([]byte, error)
}

// Outcome labels for metrics and logs.
const (
	outcomePassthrough   = "passthrough"
	outcomeObfuscated    = "obfuscated"
	outcomeFallback      = "fallback"
	outcomeTooLarge      = "too_large"
	outcomeUpstreamError = "upstream_error"
)

// Pipeline orchestrates one request end to end. Each inbound request is
// handled independently; the pipeline holds no per-request state between
// calls, so instances are safe for concurrent use.
type Pipeline struct {
	classifiers ClassifierSource
	origin      *Origin
	html        Obfuscator
	json        Obfuscator
	maxBuffer   int64
	errorStyle  ErrorPageStyle
	metrics     *Metrics
	logger      *slog.Logger
}

// PipelineOptions wire the pipeline's collaborators.
type PipelineOptions struct {
	Classifiers ClassifierSource
	Origin      *Origin
	HTML        Obfuscator
	JSON        Obfuscator
	// MaxBufferBytes caps how much of a transformable body is buffered before
	// degrading to streaming passthrough.
	MaxBufferBytes int64
	ErrorStyle     ErrorPageStyle
	Metrics        *Metrics
	Logger         *slog.Logger
}

// NewPipeline constructs the request pipeline.
func NewPipeline(opts PipelineOptions) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.ErrorStyle == "" {
		opts.ErrorStyle = ErrorPagePlain
	}
	return &Pipeline{
		classifiers: opts.Classifiers,
		origin:      opts.Origin,
		html:        opts.HTML,
		json:        opts.JSON,
		maxBuffer:   opts.MaxBufferBytes,
		errorStyle:  opts.ErrorStyle,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
}

// ServeHTTP runs the sequential stage chain for one request.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	result := p.classifiers.Current().Classify(r)

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("mirage.decision", result.Decision.String()),
		attribute.String("mirage.reason", result.Reason),
	)

	ctx, cancel := context.WithTimeout(r.Context(), p.origin.Timeout())
	defer cancel()

	// Transformable bodies must arrive decompressed; passthrough keeps the
	// client's own encoding negotiation for byte-identical forwarding.
	stripAcceptEncoding := result.Decision == classify.Obfuscate

	fetchStart := time.Now()
	resp, err := p.origin.Fetch(ctx, r, stripAcceptEncoding)
	if err != nil {
		status := StatusForTransportError(err)
		p.metrics.RecordUpstreamDuration("error", time.Since(fetchStart).Seconds())
		p.metrics.RecordRequest(result.Decision.String(), KindOpaque.String(), outcomeUpstreamError)
		p.logger.Error("upstream fetch failed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
		writeGatewayError(w, status, p.errorStyle)
		return
	}
	defer resp.Body.Close()
	p.metrics.RecordUpstreamDuration("ok", time.Since(fetchStart).Seconds())

	kind := DetectKind(resp.Header)

	var outcome string
	if result.Decision == classify.Obfuscate && kind != KindOpaque {
		outcome = p.serveObfuscated(w, resp, kind)
	} else {
		outcome = outcomePassthrough
		if err := writePassthrough(w, resp, resp.Body); err != nil {
			// Client or backend disconnect mid-stream; nothing to recover.
			p.logger.Debug("passthrough stream ended early", "request_id", requestID, "error", err)
		}
	}

	span.SetAttributes(attribute.String("mirage.outcome", outcome))
	p.metrics.RecordRequest(result.Decision.String(), kind.String(), outcome)
	p.logger.Info("request completed",
		"request_id", requestID,
		"method", r.Method,
		"path", r.URL.RequestURI(),
		"status", resp.StatusCode,
		"decision", result.Decision.String(),
		"reason", result.Reason,
		"kind", kind.String(),
		"outcome", outcome,
		"user_agent", r.Header.Get("User-Agent"),
	)
}

// serveObfuscated buffers the body up to the configured ceiling, transforms
// it, and assembles the response. Both failure modes degrade to the original
// content: oversize bodies re-stream, parse failures fail open.
func (p *Pipeline) serveObfuscated(w http.ResponseWriter, resp *http.Response, kind Kind) string {
	buf, overflow, err := readCapped(resp.Body, p.maxBuffer)
	if err != nil {
		// The origin died mid-body before anything was written to the client.
		p.logger.Error("failed to buffer upstream body", "error", err)
		writeGatewayError(w, http.StatusBadGateway, p.errorStyle)
		return outcomeUpstreamError
	}
	p.metrics.RecordBufferedBytes(len(buf))

	if overflow {
		if err := writePassthrough(w, resp, replayReader(buf, resp.Body)); err != nil {
			p.logger.Debug("oversize passthrough stream ended early", "error", err)
		}
		return outcomeTooLarge
	}

	obfuscator := p.html
	if kind == KindJSON {
		obfuscator = p.json
	}

	transformed, err := obfuscator.Obfuscate(buf)
	if err != nil {
		// Fail open: a broken page is worse than an unpoisoned one.
		p.metrics.RecordObfuscationFailure(kind.String())
		p.logger.Warn("obfuscation failed, serving original body",
			"kind", kind.String(),
			"error", err,
		)
		if err := writePassthrough(w, resp, bytes.NewReader(buf)); err != nil {
			p.logger.Debug("fallback stream ended early", "error", err)
		}
		return outcomeFallback
	}

	if err := writeTransformed(w, resp, transformed); err != nil {
		p.logger.Debug("transformed response write ended early", "error", err)
	}
	return outcomeObfuscated
}
