// Package page loads a Storybook page in a script-executing sandbox and
// hands its global scope to the story extractor.
//
// The sandbox itself is a Runtime driver (RodRuntime drives headless
// Chrome). Loader adds the load timeout, diagnostics reporting and the
// fail-fast policy on top of any driver.
package page

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrPageLoadTimeout is returned when the load signal does not fire in time.
var ErrPageLoadTimeout = errors.New("page: load timed out")

// ErrPageDiagnostics matches every *DiagnosticsError.
var ErrPageDiagnostics = errors.New("page: storybook reported errors")

// DiagnosticsError aborts a load in fail-fast mode.
type DiagnosticsError struct {
	Diagnostics Diagnostics
}

func (e *DiagnosticsError) Error() string {
	return fmt.Sprintf("page: storybook reported errors (%d errors, %d warnings)",
		len(e.Diagnostics.Errors), len(e.Diagnostics.Warnings))
}

func (e *DiagnosticsError) Is(target error) bool { return target == ErrPageDiagnostics }

// Options configures one load.
type Options struct {
	// IgnoreSSLErrors accepts invalid certificates for the page and its
	// sub-resources.
	IgnoreSSLErrors bool
	// FailFast turns any collected diagnostic into an error.
	FailFast bool
	// LoadTimeout bounds the wait for the load signal. Default: 60s.
	LoadTimeout time.Duration
	// UserAgent overrides the browser user agent. Default: "storylink".
	UserAgent string
}

// Diagnostics are the problems a page reported while loading, in emission
// order. Errors holds console errors and uncaught exceptions.
type Diagnostics struct {
	Errors   []string
	Warnings []string
}

// Empty reports whether nothing was collected.
func (d Diagnostics) Empty() bool { return len(d.Errors) == 0 && len(d.Warnings) == 0 }

// Session is one open page inside a Runtime.
type Session interface {
	// WaitLoad blocks until the page's load signal fires or ctx ends.
	WaitLoad(ctx context.Context) error
	// Diagnostics returns what the page reported so far.
	Diagnostics() Diagnostics
	// Eval runs a JS function expression in the page and returns its
	// result, which must be a JSON string, as raw bytes.
	Eval(ctx context.Context, js string) ([]byte, error)
	Close() error
}

// Runtime opens pages.
type Runtime interface {
	Open(ctx context.Context, url string, opts Options) (Session, error)
	Close() error
}

// Loader loads pages through a Runtime.
type Loader struct {
	rt     Runtime
	logger *slog.Logger
}

// NewLoader creates a Loader. A nil logger means slog.Default().
func NewLoader(rt Runtime, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{rt: rt, logger: logger}
}

// Load opens url, waits for it to finish loading and reports its
// diagnostics. The returned Handle must be closed by the caller.
func (l *Loader) Load(ctx context.Context, url string, opts Options) (*Handle, error) {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 60 * time.Second
	}

	loadCtx, cancel := context.WithTimeout(ctx, opts.LoadTimeout)
	defer cancel()

	sess, err := l.rt.Open(loadCtx, url, opts)
	if err != nil {
		if errors.Is(loadCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s: %s", ErrPageLoadTimeout, opts.LoadTimeout, url)
		}
		return nil, fmt.Errorf("page: open %s: %w", url, err)
	}

	if err := sess.WaitLoad(loadCtx); err != nil {
		sess.Close()
		if errors.Is(loadCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s: %s", ErrPageLoadTimeout, opts.LoadTimeout, url)
		}
		return nil, fmt.Errorf("page: wait load %s: %w", url, err)
	}

	diag := sess.Diagnostics()
	if !diag.Empty() {
		l.logger.Warn("page: the following problems were reported from your storybook",
			"url", url, "errors", len(diag.Errors), "warnings", len(diag.Warnings))
		l.logger.Info(Report(diag))

		if opts.FailFast {
			l.logger.Info("page: fast fail is enabled, aborting")
			sess.Close()
			return nil, &DiagnosticsError{Diagnostics: diag}
		}
		l.logger.Warn("page: this may lead to some stories not working right or not getting detected; continuing anyway")
	}

	return &Handle{sess: sess, URL: url, Diagnostics: diag}, nil
}

// Handle is a loaded page. Eval exposes the page's global scope.
type Handle struct {
	URL         string
	Diagnostics Diagnostics

	sess Session
	once sync.Once
	err  error
}

// Eval runs js in the page. See Session.Eval.
func (h *Handle) Eval(ctx context.Context, js string) ([]byte, error) {
	return h.sess.Eval(ctx, js)
}

// Close releases the page. Only the first call has an effect.
func (h *Handle) Close() error {
	h.once.Do(func() { h.err = h.sess.Close() })
	return h.err
}

const separator = "========================="

// Report renders diagnostics as "Errors:" and "Warnings:" blocks, each
// entry followed by a separator line.
func Report(d Diagnostics) string {
	var b strings.Builder
	block := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(title + ":\n" + separator + "\n")
		for _, it := range items {
			b.WriteString(it + "\n" + separator + "\n")
		}
	}
	block("Errors", d.Errors)
	block("Warnings", d.Warnings)
	return b.String()
}
