// Package storybook links design components to the Storybook stories that
// render them.
//
// A Plugin discovers the stories of a running (or launched) Storybook
// instance once, in Init, then answers Process and Supports queries from
// that cache. Discovery failures degrade to zero stories unless fail-fast is
// configured; author-declared selectors still produce links without
// discovery.
package storybook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hazyhaar/storylink/idgen"
	"github.com/hazyhaar/storylink/kit"
	"github.com/hazyhaar/storylink/launch"
	"github.com/hazyhaar/storylink/probe"
	"github.com/hazyhaar/storylink/storybook/internal/extract"
	"github.com/hazyhaar/storylink/storybook/internal/page"
)

const iframePath = "iframe.html"

// Hints appended to ErrStorybookUnreachable.
const (
	hintStarted  = "Make sure you've started it and it is accessible."
	hintLaunched = "Make sure url parameter targets the instance started by startScript or command."
)

// Process is a launched Storybook server.
type Process interface {
	Kill() error
}

// Launcher starts a Storybook server and waits until it serves.
// A nil Process with a nil error means nothing had to be started.
type Launcher interface {
	Launch(ctx context.Context, d launch.Descriptor) (Process, error)
}

// Prober reports whether a URL is serving.
type Prober = launch.Prober

// inspector is a Prober that also reports what answered. *probe.Prober
// implements it.
type inspector interface {
	Inspect(ctx context.Context, url string) probe.Result
}

type processLauncher struct {
	l *launch.Launcher
}

func (p processLauncher) Launch(ctx context.Context, d launch.Descriptor) (Process, error) {
	proc, err := p.l.Launch(ctx, d)
	if proc == nil {
		return nil, err
	}
	return proc, err
}

type state int

const (
	stateUninitialized state = iota
	stateInitializing
	stateReady
	stateFailed
)

// Plugin is the Storybook link plugin.
type Plugin struct {
	cfg    Config
	logger *slog.Logger

	prober     Prober
	launcher   Launcher
	runtime    page.Runtime
	ownRuntime bool
	runID      idgen.Generator

	sourceURL string
	targetURL string

	mu      sync.RWMutex
	state   state
	stories []Story
	run     string
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithProber replaces the HTTP readiness prober.
func WithProber(p Prober) Option {
	return func(pl *Plugin) { pl.prober = p }
}

// WithLauncher replaces the process launcher.
func WithLauncher(l Launcher) Option {
	return func(pl *Plugin) { pl.launcher = l }
}

// WithRuntime replaces the headless Chrome page runtime. The caller keeps
// ownership of rt.
func WithRuntime(rt page.Runtime) Option {
	return func(pl *Plugin) { pl.runtime = rt }
}

// WithRunID replaces the discovery run ID generator.
func WithRunID(gen idgen.Generator) Option {
	return func(pl *Plugin) { pl.runID = gen }
}

// New creates a Plugin. Defaults are applied to a copy of cfg; validation
// happens in Init. A nil logger means slog.Default().
func New(cfg Config, logger *slog.Logger, opts ...Option) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ApplyDefaults()

	p := &Plugin{
		cfg:    cfg,
		logger: logger,
		runID:  idgen.RunID,
	}
	for _, o := range opts {
		o(p)
	}

	if p.prober == nil {
		policy := probe.PolicyReachable
		if cfg.Probe.RequireOK {
			policy = probe.PolicyStatusOK
		}
		p.prober = probe.New(
			probe.WithInsecureTLS(cfg.IgnoreSSLErrors || !cfg.Probe.StrictTLS),
			probe.WithPolicy(policy),
			probe.WithLogger(logger),
		)
	}
	if p.launcher == nil {
		p.launcher = processLauncher{l: launch.New(p.prober, launch.Config{
			PollInterval:   cfg.Launch.PollInterval,
			Timeout:        cfg.Launch.Timeout,
			NoticeInterval: cfg.Launch.NoticeInterval,
			Logger:         logger,
		})}
	}
	if p.runtime == nil {
		p.runtime = page.NewRodRuntime(page.RodConfig{
			RemoteURL:      cfg.Browser.Remote,
			Stealth:        cfg.Browser.Stealth,
			BlockResources: cfg.Browser.BlockResources,
			Logger:         logger,
		})
		p.ownRuntime = true
	}

	p.sourceURL = SourceURL(cfg.URL)
	p.targetURL = cfg.TargetURL
	if p.targetURL == "" {
		p.targetURL = cfg.URL
	}
	return p
}

// SourceURL is the page stories are read from: url itself when it already
// points at iframe.html, else url/iframe.html.
func SourceURL(url string) string {
	if strings.HasSuffix(url, iframePath) {
		return url
	}
	return strings.TrimRight(url, "/") + "/" + iframePath
}

// TargetURL is the base of the produced links.
func (p *Plugin) TargetURL() string { return p.targetURL }

// Init discovers the stories of the configured Storybook instance. It may
// be called once; later calls return ErrAlreadyInitialized.
func (p *Plugin) Init(ctx context.Context) error {
	p.mu.Lock()
	if p.state != stateUninitialized {
		p.mu.Unlock()
		return ErrAlreadyInitialized
	}
	p.state = stateInitializing
	p.mu.Unlock()

	stories, err := p.discover(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = stateFailed
		return err
	}
	p.stories = stories
	p.state = stateReady
	return nil
}

func (p *Plugin) discover(ctx context.Context) ([]Story, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("storybook: init: %w", err)
	}

	runID := p.runID()
	p.mu.Lock()
	p.run = runID
	p.mu.Unlock()
	ctx = kit.WithRunID(ctx, runID)
	log := p.logger.With("run_id", runID)

	if p.ownRuntime {
		defer func() {
			if err := p.runtime.Close(); err != nil {
				log.Debug("storybook: close page runtime", "error", err)
			}
		}()
	}

	if !p.cfg.ShouldFetchStories() {
		log.Info("storybook: fetching stories from Storybook instance is disabled")
		return nil, nil
	}

	var stories []Story
	if p.cfg.StartScript == "" && p.cfg.Command == "" {
		if err := p.checkStorybook(ctx, log, hintStarted); err != nil {
			return nil, err
		}
		var err error
		if stories, err = p.loadStories(ctx, log); err != nil {
			if err = p.loadFailed(log, err); err != nil {
				return nil, err
			}
		}
	} else {
		proc, err := p.launcher.Launch(ctx, launch.Descriptor{
			Script:  p.cfg.StartScript,
			Command: p.cfg.Command,
			Args:    []string{"--ci"},
			URL:     p.sourceURL,
		})
		if err != nil {
			return nil, fmt.Errorf("storybook: start: %w", err)
		}
		defer func() {
			if proc == nil {
				return
			}
			if err := proc.Kill(); err != nil {
				log.Warn("storybook: stop launched server", "error", err)
			}
		}()

		if err := p.checkStorybook(ctx, log, hintLaunched); err != nil {
			return nil, err
		}
		if stories, err = p.loadStories(ctx, log); err != nil {
			if err = p.loadFailed(log, err); err != nil {
				return nil, err
			}
		}
	}

	if len(stories) > 0 {
		log.Info(fmt.Sprintf("storybook: loaded %d stories from Storybook", len(stories)),
			"count", len(stories))
	}
	return stories, nil
}

func (p *Plugin) checkStorybook(ctx context.Context, log *slog.Logger, hint string) error {
	var (
		ready bool
		title string
	)
	if in, ok := p.prober.(inspector); ok {
		res := in.Inspect(ctx, p.sourceURL)
		ready, title = res.Ready, res.Title
	} else {
		ready = p.prober.Ready(ctx, p.sourceURL)
	}
	if !ready {
		return fmt.Errorf("%w at %s: %s", ErrStorybookUnreachable, p.sourceURL, hint)
	}
	log.Info("storybook: detected Storybook", "url", p.sourceURL, "title", title)
	return nil
}

func (p *Plugin) loadStories(ctx context.Context, log *slog.Logger) ([]Story, error) {
	loader := page.NewLoader(p.runtime, log)
	h, err := loader.Load(ctx, p.sourceURL, page.Options{
		IgnoreSSLErrors: p.cfg.IgnoreSSLErrors,
		FailFast:        p.cfg.FailFastOnErrors,
		LoadTimeout:     p.cfg.Page.LoadTimeout,
	})
	if err != nil {
		return nil, err
	}
	defer h.Close()

	return extract.Extract(ctx, h)
}

// loadFailed logs a discovery failure and decides whether it is fatal.
func (p *Plugin) loadFailed(log *slog.Logger, err error) error {
	log.Debug("storybook: story load failed", "error", err)
	log.Info("storybook: could not load stories from Storybook")
	if !p.cfg.FailFastOnErrors {
		return nil
	}
	log.Debug("storybook: fast fail is enabled, aborting")
	return fmt.Errorf("%w: %w", ErrStoryLoad, err)
}

// Process returns the links of the component described by q: discovered
// matches first, then the stories its selector declares. Links are not
// de-duplicated.
func (p *Plugin) Process(ctx context.Context, q ComponentQuery) (ComponentData, error) {
	if err := ctx.Err(); err != nil {
		return ComponentData{}, err
	}
	p.mu.RLock()
	st, stories := p.state, p.stories
	p.mu.RUnlock()
	if st != stateReady {
		return ComponentData{}, ErrNotReady
	}

	var refs []StoryRef
	for _, s := range Match(stories, q.Path) {
		refs = append(refs, RefOf(s))
	}
	refs = append(refs, SelectStatic(stories, q.Storybook, p.cfg.UseDocsPage)...)

	opts := LinkOptions{Format: p.cfg.Format, UseDocsPage: p.cfg.UseDocsPage}
	links := make([]Link, 0, len(refs))
	for _, r := range refs {
		u, err := BuildURL(p.targetURL, r, opts)
		if err != nil {
			p.logger.Warn("storybook: skipping link", "path", q.Path, "kind", r.Kind, "name", r.Name, "error", err)
			continue
		}
		links = append(links, Link{Type: LinkTypeStorybook, URL: u})
	}
	return ComponentData{Links: links}, nil
}

// Supports reports whether the plugin may produce links for q: any story
// was discovered, or q declares a selector.
func (p *Plugin) Supports(q ComponentQuery) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.stories) > 0 || q.Storybook != nil
}

// Stories returns a copy of the discovered stories.
func (p *Plugin) Stories() []Story {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Story(nil), p.stories...)
}

// withRun tags ctx with the discovery run that filled the cache.
func (p *Plugin) withRun(ctx context.Context) context.Context {
	p.mu.RLock()
	run := p.run
	p.mu.RUnlock()
	if run == "" {
		return ctx
	}
	return kit.WithRunID(ctx, run)
}

// Ready reports whether Init completed successfully.
func (p *Plugin) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == stateReady
}
