package classify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileProvider serves the current classifier and, when a signatures file is
// configured, rebuilds it whenever the file changes. Updates replace the whole
// classifier atomically behind a read lock; per-request classification always
// sees one immutable snapshot.
type FileProvider struct {
	opts ProviderOptions

	mu      sync.RWMutex
	current *Classifier

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// ProviderOptions configure the provider's rule construction.
type ProviderOptions struct {
	// Header is the client-identifying header matched by signature rules.
	Header string
	// Signatures is the static pattern list from the main configuration.
	Signatures []string
	// SignaturesFile optionally points at a yaml pattern list that is merged
	// with Signatures and hot-reloaded on change. Empty disables watching.
	SignaturesFile string
	// OverrideParam and OverrideValue name the forced-obfuscation query hook.
	OverrideParam string
	OverrideValue string

	Logger *slog.Logger
}

// NewFileProvider compiles the initial classifier and starts watching the
// signatures file when one is configured. The caller owns Close.
func NewFileProvider(opts ProviderOptions) (*FileProvider, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	p := &FileProvider{opts: opts, logger: opts.Logger}

	classifier, err := p.build()
	if err != nil {
		return nil, err
	}
	p.current = classifier

	if opts.SignaturesFile == "" {
		return p, nil
	}

	absPath, err := filepath.Abs(opts.SignaturesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve signatures file path: %w", err)
	}
	p.opts.SignaturesFile = absPath

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch signatures directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.watcher = watcher
	p.cancel = cancel
	go p.watchLoop(ctx)

	return p, nil
}

// Current returns the classifier snapshot for this request.
func (p *FileProvider) Current() *Classifier {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Close stops the watcher goroutine, if any.
func (p *FileProvider) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}

func (p *FileProvider) build() (*Classifier, error) {
	patterns := append([]string(nil), p.opts.Signatures...)

	if p.opts.SignaturesFile != "" {
		filePatterns, err := loadSignatureFile(p.opts.SignaturesFile)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
	}

	signatures, err := NewSignatureRule(p.opts.Header, patterns)
	if err != nil {
		return nil, err
	}

	rules := []Rule{
		OverrideRule{Param: p.opts.OverrideParam, Value: p.opts.OverrideValue},
		signatures,
	}
	return New(rules...), nil
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	const debounceDuration = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.opts.SignaturesFile {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, p.reload)
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("signatures watcher error", "error", err)
		}
	}
}

// reload rebuilds the classifier and swaps it in; a broken file keeps the
// previous snapshot serving.
func (p *FileProvider) reload() {
	classifier, err := p.build()
	if err != nil {
		p.logger.Error("signatures reload failed, keeping previous rule set",
			"path", p.opts.SignaturesFile,
			"error", err,
		)
		return
	}

	p.mu.Lock()
	p.current = classifier
	p.mu.Unlock()

	p.logger.Info("signatures reloaded", "path", p.opts.SignaturesFile)
}

// loadSignatureFile reads a yaml pattern list. Both a bare list and a mapping
// with a `signatures` key are accepted.
func loadSignatureFile(path string) ([]string, error) {
	// #nosec G304 -- File path is configured at startup
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signatures file %s: %w", path, err)
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Signatures []string `yaml:"signatures"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse signatures file %s: %w", path, err)
	}
	return wrapped.Signatures, nil
}
