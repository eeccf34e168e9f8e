// Package probe answers one question: is a Storybook endpoint serving yet?
//
// A probe is a single HTTP GET. Transport, TLS and status failures are folded
// into a "not ready" answer and never returned as errors; callers that need
// to wait loop on Ready themselves.
package probe

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// maxBody caps how much of a response is read when sniffing the title.
const maxBody = 1 << 20

// Policy decides which responses count as ready.
type Policy int

const (
	// PolicyReachable accepts any completed response, whatever its status.
	PolicyReachable Policy = iota
	// PolicyStatusOK accepts only 2xx responses.
	PolicyStatusOK
)

// Result is the detailed outcome of one probe.
type Result struct {
	Ready      bool
	StatusCode int
	Title      string
	// Err is the transport failure, if any. Informational only.
	Err error
}

// Prober performs readiness checks.
type Prober struct {
	client   *http.Client
	insecure *http.Client
	policy   Policy
	ua       string
	logger   *slog.Logger

	insecureTLS bool
}

// Option configures a Prober.
type Option func(*Prober)

// WithClient sets the HTTP client used for plain and verified TLS requests.
func WithClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// WithInsecureTLS relaxes certificate validation for https URLs, for
// self-signed development servers.
func WithInsecureTLS(on bool) Option {
	return func(p *Prober) { p.insecureTLS = on }
}

// WithPolicy sets the readiness policy. Default: PolicyReachable.
func WithPolicy(pol Policy) Option {
	return func(p *Prober) { p.policy = pol }
}

// WithTimeout sets the per-request timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		p.client.Timeout = d
		p.insecure.Timeout = d
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) { p.logger = l }
}

// New creates a Prober with sensible defaults.
func New(opts ...Option) *Prober {
	p := &Prober{
		client: &http.Client{Timeout: 10 * time.Second},
		insecure: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in for self-signed dev servers
			},
		},
		ua:     "storylink",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Ready reports whether url is serving according to the prober's policy.
func (p *Prober) Ready(ctx context.Context, url string) bool {
	return p.do(ctx, url, false).Ready
}

// Inspect probes url like Ready and additionally extracts the HTML title of
// the response, when there is one.
func (p *Prober) Inspect(ctx context.Context, url string) Result {
	return p.do(ctx, url, true)
}

func (p *Prober) do(ctx context.Context, url string, sniff bool) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.logger.Debug("probe: new request", "url", url, "error", err)
		return Result{Err: err}
	}
	req.Header.Set("User-Agent", p.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	client := p.client
	if p.insecureTLS && strings.HasPrefix(url, "https:") {
		client = p.insecure
	}

	resp, err := client.Do(req)
	if err != nil {
		p.logger.Debug("probe: not ready", "url", url, "error", err)
		return Result{Err: err}
	}
	defer resp.Body.Close()

	res := Result{StatusCode: resp.StatusCode}
	switch p.policy {
	case PolicyStatusOK:
		res.Ready = resp.StatusCode >= 200 && resp.StatusCode < 300
	default:
		res.Ready = true
	}

	if sniff && strings.Contains(resp.Header.Get("Content-Type"), "html") {
		res.Title = Title(io.LimitReader(resp.Body, maxBody))
	} else {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	}

	p.logger.Debug("probe: response", "url", url, "status", resp.StatusCode, "ready", res.Ready)
	return res
}

// Title returns the trimmed text of the first <title> element in r, or "".
func Title(r io.Reader) string {
	z := html.NewTokenizer(r)
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			inTitle = string(name) == "title"
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(z.Text()))
			}
		case html.EndTagToken:
			inTitle = false
		}
	}
}
