package page

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/storylink/idgen"
)

//go:embed polyfill.js
var polyfills string

// RodConfig configures the headless Chrome runtime.
type RodConfig struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty = launch a local headless Chrome.
	RemoteURL string

	// Stealth opens pages through go-rod/stealth.
	Stealth bool

	// BlockResources lists resource types not worth downloading for
	// discovery (images, fonts, media, stylesheets).
	BlockResources []string

	Logger *slog.Logger
}

func (c *RodConfig) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RodRuntime is a Runtime backed by Chrome through go-rod. The browser is
// started on the first Open and shut down by Close.
type RodRuntime struct {
	cfg     RodConfig
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewRodRuntime creates a RodRuntime. Chrome is not started yet.
func NewRodRuntime(cfg RodConfig) *RodRuntime {
	cfg.defaults()
	return &RodRuntime{cfg: cfg}
}

func (r *RodRuntime) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("page: runtime is closed")
	}
	if r.browser != nil {
		return r.browser, nil
	}

	log := r.cfg.Logger
	var wsURL string
	if r.cfg.RemoteURL != "" {
		wsURL = r.cfg.RemoteURL
		log.Info("page: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("page: launch chrome: %w", err)
		}
		wsURL = u
		r.lnch = l
		log.Debug("page: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		r.cleanupLocked()
		return nil, fmt.Errorf("page: connect chrome: %w", err)
	}
	r.browser = b
	return b, nil
}

// Open creates a tab, installs the polyfills and the diagnostics listeners,
// then navigates to url.
func (r *RodRuntime) Open(ctx context.Context, url string, opts Options) (Session, error) {
	b, err := r.ensureBrowser()
	if err != nil {
		return nil, err
	}
	log := r.cfg.Logger.With("session", idgen.SessionID())

	if err := b.IgnoreCertErrors(opts.IgnoreSSLErrors); err != nil {
		log.Warn("page: ignore cert errors failed", "error", err)
	}

	var p *rod.Page
	if r.cfg.Stealth {
		p, err = stealth.Page(b)
	} else {
		p, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("page: create tab: %w", err)
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = "storylink"
	}
	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
		log.Warn("page: set user agent failed", "error", err)
	}

	if _, err := p.EvalOnNewDocument(polyfills); err != nil {
		p.Close()
		return nil, fmt.Errorf("page: install polyfills: %w", err)
	}

	s := &rodSession{page: p, logger: log}
	evCtx, stop := context.WithCancel(context.Background())
	s.stopEvents = stop
	wait := p.Context(evCtx).EachEvent(
		func(e *proto.RuntimeConsoleAPICalled) {
			switch e.Type {
			case proto.RuntimeConsoleAPICalledTypeError, proto.RuntimeConsoleAPICalledTypeAssert:
				s.addError(consoleText(e.Args))
			case proto.RuntimeConsoleAPICalledTypeWarning:
				s.addWarning(consoleText(e.Args))
			}
		},
		func(e *proto.RuntimeExceptionThrown) {
			s.addError(exceptionText(e.ExceptionDetails))
		},
	)
	go wait()

	if len(r.cfg.BlockResources) > 0 {
		router, err := applyResourceBlocking(p, r.cfg.BlockResources)
		if err != nil {
			log.Warn("page: resource blocking failed", "error", err)
		} else {
			s.router = router
		}
	}

	if err := p.Context(ctx).Navigate(url); err != nil {
		s.Close()
		return nil, fmt.Errorf("page: navigate %s: %w", url, err)
	}
	log.Debug("page: navigated", "url", url)
	return s, nil
}

// Close shuts Chrome down. Further Opens fail.
func (r *RodRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cleanupLocked()
	return nil
}

func (r *RodRuntime) cleanupLocked() {
	if r.browser != nil {
		if err := r.browser.Close(); err != nil {
			r.cfg.Logger.Debug("page: close browser", "error", err)
		}
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Cleanup()
		r.lnch = nil
	}
}

type rodSession struct {
	page       *rod.Page
	router     *rod.HijackRouter
	stopEvents context.CancelFunc
	logger     *slog.Logger

	mu   sync.Mutex
	diag Diagnostics
	once sync.Once
}

func (s *rodSession) addError(msg string) {
	s.mu.Lock()
	s.diag.Errors = append(s.diag.Errors, msg)
	s.mu.Unlock()
}

func (s *rodSession) addWarning(msg string) {
	s.mu.Lock()
	s.diag.Warnings = append(s.diag.Warnings, msg)
	s.mu.Unlock()
}

func (s *rodSession) WaitLoad(ctx context.Context) error {
	return s.page.Context(ctx).WaitLoad()
}

func (s *rodSession) Diagnostics() Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Diagnostics{
		Errors:   append([]string(nil), s.diag.Errors...),
		Warnings: append([]string(nil), s.diag.Warnings...),
	}
}

func (s *rodSession) Eval(ctx context.Context, js string) ([]byte, error) {
	res, err := s.page.Context(ctx).Eval(js)
	if err != nil {
		return nil, fmt.Errorf("page: eval: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

func (s *rodSession) Close() error {
	var err error
	s.once.Do(func() {
		s.stopEvents()
		if s.router != nil {
			if rerr := s.router.Stop(); rerr != nil {
				s.logger.Debug("page: stop request router", "error", rerr)
			}
		}
		err = s.page.Close()
	})
	return err
}

func consoleText(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, remoteText(a))
	}
	return strings.Join(parts, " ")
}

func exceptionText(d *proto.RuntimeExceptionDetails) string {
	if d == nil {
		return "uncaught exception"
	}
	if d.Exception != nil && d.Exception.Description != "" {
		return d.Exception.Description
	}
	return d.Text
}

func remoteText(o *proto.RuntimeRemoteObject) string {
	if o == nil {
		return ""
	}
	if o.Type == proto.RuntimeRemoteObjectTypeString {
		return o.Value.Str()
	}
	if o.Description != "" {
		return o.Description
	}
	return o.Value.String()
}
