// Package config provides configuration structures and loading logic for the proxy.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the proxy. It is loaded once at
// startup and treated as read-only afterwards; the only runtime-mutable piece
// is the signature list behind classify.FileProvider.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Obfuscation ObfuscationConfig `yaml:"obfuscation"`
	ErrorPages  ErrorPageConfig   `yaml:"error_pages"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP servers.
type ServerConfig struct {
	AdminAddress string `yaml:"admin_address"`
	DataAddress  string `yaml:"data_address"`
}

// UpstreamConfig describes the single backend origin requests are forwarded to.
type UpstreamConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutMS      int    `yaml:"timeout_ms"`
	MaxBufferBytes int64  `yaml:"max_buffer_bytes"`
}

// Timeout returns the per-request upstream deadline.
func (c *UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// ClassifierConfig holds the hostile-signature matching configuration.
type ClassifierConfig struct {
	// Header is the client-identifying header matched against Signatures.
	Header         string         `yaml:"header"`
	Signatures     []string       `yaml:"signatures"`
	SignaturesFile string         `yaml:"signatures_file"`
	Override       OverrideConfig `yaml:"override"`
}

// OverrideConfig names the query parameter that forces the obfuscation path.
type OverrideConfig struct {
	Param string `yaml:"param"`
	Value string `yaml:"value"`
}

// ObfuscationConfig tunes the HTML obfuscator.
type ObfuscationConfig struct {
	KeepTitle     bool         `yaml:"keep_title"`
	IgnoreNodeIDs []string     `yaml:"ignore_node_ids"`
	MetaTags      []string     `yaml:"meta_tags"`
	Mappers       []RuneMapper `yaml:"mappers"`
}

// RuneMapper maps a source unicode range to random runes from a target range.
// Boundaries are hex code points, e.g. "4e00".
type RuneMapper struct {
	SourceStart string `yaml:"source_start"`
	SourceEnd   string `yaml:"source_end"`
	TargetStart string `yaml:"target_start"`
	TargetEnd   string `yaml:"target_end"`
	Comment     string `yaml:"comment"`
}

// ErrorPageConfig selects the body style for gateway-level failure responses.
type ErrorPageConfig struct {
	Style string `yaml:"style"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	defaultAdminAddress   = ":19090"
	defaultDataAddress    = ":8080"
	defaultTimeoutMS      = 60000
	defaultMaxBufferBytes = 8 << 20
	defaultSignatureHdr   = "User-Agent"
)

// DefaultMetaTags are the meta entries whose content is obfuscated when the
// configuration does not name its own set.
var DefaultMetaTags = []string{"description", "keywords", "og:title", "og:description"}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			AdminAddress: defaultAdminAddress,
			DataAddress:  defaultDataAddress,
		},
		Upstream: UpstreamConfig{
			TimeoutMS:      defaultTimeoutMS,
			MaxBufferBytes: defaultMaxBufferBytes,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("MIRAGE_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}
	if val := os.Getenv("MIRAGE_DATA_ADDR"); val != "" {
		cfg.Server.DataAddress = val
	}

	if val := os.Getenv("MIRAGE_UPSTREAM_BASE_URL"); val != "" {
		cfg.Upstream.BaseURL = val
	}
	if val := os.Getenv("MIRAGE_UPSTREAM_TIMEOUT_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
			cfg.Upstream.TimeoutMS = ms
		}
	}
	if val := os.Getenv("MIRAGE_MAX_BUFFER_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 {
			cfg.Upstream.MaxBufferBytes = n
		}
	}

	if val := os.Getenv("MIRAGE_SIGNATURE_HEADER"); val != "" {
		cfg.Classifier.Header = val
	}
	if val := os.Getenv("MIRAGE_SIGNATURES"); val != "" {
		cfg.Classifier.Signatures = splitAndTrim(val)
	}
	if val := os.Getenv("MIRAGE_SIGNATURES_FILE"); val != "" {
		cfg.Classifier.SignaturesFile = val
	}
	if val := os.Getenv("MIRAGE_OVERRIDE_PARAM"); val != "" {
		cfg.Classifier.Override.Param = val
	}
	if val := os.Getenv("MIRAGE_OVERRIDE_VALUE"); val != "" {
		cfg.Classifier.Override.Value = val
	}

	if val := os.Getenv("MIRAGE_ERROR_PAGE_STYLE"); val != "" {
		cfg.ErrorPages.Style = val
	}

	if val := os.Getenv("MIRAGE_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("MIRAGE_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("MIRAGE_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate performs comprehensive validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("upstream configuration: %w", err)
	}

	if err := c.Classifier.Validate(); err != nil {
		return fmt.Errorf("classifier configuration: %w", err)
	}

	if err := c.Obfuscation.Validate(); err != nil {
		return fmt.Errorf("obfuscation configuration: %w", err)
	}

	if err := c.ErrorPages.Validate(); err != nil {
		return fmt.Errorf("error page configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.AdminAddress) == "" {
		c.AdminAddress = defaultAdminAddress
	}
	if strings.TrimSpace(c.DataAddress) == "" {
		c.DataAddress = defaultDataAddress
	}
	if c.AdminAddress == c.DataAddress {
		return fmt.Errorf("admin_address %q conflicts with data_address", c.AdminAddress)
	}
	return nil
}

// Validate checks the upstream base URL and normalizes limits.
func (c *UpstreamConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base_url is required")
	}

	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url %q: %w", c.BaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("base_url %q must use http or https", c.BaseURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("base_url %q is missing a host", c.BaseURL)
	}

	// The request path is appended verbatim, so a trailing slash would double up.
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if c.TimeoutMS <= 0 {
		c.TimeoutMS = defaultTimeoutMS
	}
	if c.MaxBufferBytes <= 0 {
		c.MaxBufferBytes = defaultMaxBufferBytes
	}
	return nil
}

// Validate normalizes the classifier configuration.
func (c *ClassifierConfig) Validate() error {
	if strings.TrimSpace(c.Header) == "" {
		c.Header = defaultSignatureHdr
	}
	for i, sig := range c.Signatures {
		if strings.TrimSpace(sig) == "" {
			return fmt.Errorf("signature %d is empty", i)
		}
	}
	if c.Override.Param != "" && c.Override.Value == "" {
		return fmt.Errorf("override.value is required when override.param is set")
	}
	return nil
}

// Validate checks the rune mappers and fills the default meta tag set.
func (c *ObfuscationConfig) Validate() error {
	if len(c.MetaTags) == 0 {
		c.MetaTags = append([]string(nil), DefaultMetaTags...)
	}
	for i, m := range c.Mappers {
		fields := []struct{ name, value string }{
			{"source_start", m.SourceStart},
			{"source_end", m.SourceEnd},
			{"target_start", m.TargetStart},
			{"target_end", m.TargetEnd},
		}
		for _, f := range fields {
			if _, err := strconv.ParseUint(f.value, 16, 32); err != nil {
				return fmt.Errorf("mapper %d: invalid %s %q: %w", i, f.name, f.value, err)
			}
		}
	}
	return nil
}

// Validate normalizes the error page style.
func (c *ErrorPageConfig) Validate() error {
	style := strings.TrimSpace(strings.ToLower(c.Style))
	switch style {
	case "", "plain":
		c.Style = "plain"
		return nil
	case "nginx":
		c.Style = "nginx"
		return nil
	default:
		return fmt.Errorf("invalid error page style %q, supported styles: plain, nginx", c.Style)
	}
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}
