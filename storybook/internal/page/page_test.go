package page

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type fakeSession struct {
	waitDelay time.Duration
	diag      Diagnostics
	evalOut   string
	closes    int
}

func (s *fakeSession) WaitLoad(ctx context.Context) error {
	select {
	case <-time.After(s.waitDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSession) Diagnostics() Diagnostics { return s.diag }

func (s *fakeSession) Eval(ctx context.Context, js string) ([]byte, error) {
	return []byte(s.evalOut), nil
}

func (s *fakeSession) Close() error {
	s.closes++
	return nil
}

type fakeRuntime struct {
	sess    *fakeSession
	openErr error
	gotURL  string
	gotOpts Options
}

func (r *fakeRuntime) Open(ctx context.Context, url string, opts Options) (Session, error) {
	r.gotURL = url
	r.gotOpts = opts
	if r.openErr != nil {
		return nil, r.openErr
	}
	return r.sess, nil
}

func (r *fakeRuntime) Close() error { return nil }

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLoad_Clean(t *testing.T) {
	sess := &fakeSession{evalOut: `{"ok":true}`}
	rt := &fakeRuntime{sess: sess}
	var buf bytes.Buffer
	l := NewLoader(rt, testLogger(&buf))

	h, err := l.Load(context.Background(), "http://sb/iframe.html", Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rt.gotURL != "http://sb/iframe.html" {
		t.Fatalf("opened %q", rt.gotURL)
	}
	if rt.gotOpts.LoadTimeout != 60*time.Second {
		t.Fatalf("default timeout = %s", rt.gotOpts.LoadTimeout)
	}
	out, err := h.Eval(context.Background(), "() => 1")
	if err != nil || string(out) != `{"ok":true}` {
		t.Fatalf("eval = %q, %v", out, err)
	}
	if strings.Contains(buf.String(), "problems were reported") {
		t.Fatalf("unexpected diagnostics log: %s", buf.String())
	}

	h.Close()
	h.Close()
	if sess.closes != 1 {
		t.Fatalf("closes = %d, want 1", sess.closes)
	}
}

func TestLoad_Timeout(t *testing.T) {
	sess := &fakeSession{waitDelay: time.Second}
	l := NewLoader(&fakeRuntime{sess: sess}, testLogger(&bytes.Buffer{}))

	_, err := l.Load(context.Background(), "http://sb/iframe.html", Options{LoadTimeout: 20 * time.Millisecond})
	if !errors.Is(err, ErrPageLoadTimeout) {
		t.Fatalf("err = %v, want ErrPageLoadTimeout", err)
	}
	if sess.closes != 1 {
		t.Fatalf("session not closed after timeout")
	}
}

func TestLoad_CallerCancelIsNotTimeout(t *testing.T) {
	sess := &fakeSession{waitDelay: time.Second}
	l := NewLoader(&fakeRuntime{sess: sess}, testLogger(&bytes.Buffer{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Load(ctx, "http://sb/iframe.html", Options{})
	if errors.Is(err, ErrPageLoadTimeout) {
		t.Fatal("cancellation reported as load timeout")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestLoad_OpenError(t *testing.T) {
	boom := errors.New("boom")
	l := NewLoader(&fakeRuntime{openErr: boom}, testLogger(&bytes.Buffer{}))

	_, err := l.Load(context.Background(), "http://sb/iframe.html", Options{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
}

func TestLoad_DiagnosticsContinue(t *testing.T) {
	sess := &fakeSession{diag: Diagnostics{Errors: []string{"TypeError: x is undefined"}}}
	var buf bytes.Buffer
	l := NewLoader(&fakeRuntime{sess: sess}, testLogger(&buf))

	h, err := l.Load(context.Background(), "http://sb/iframe.html", Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer h.Close()
	if len(h.Diagnostics.Errors) != 1 {
		t.Fatalf("diagnostics = %+v", h.Diagnostics)
	}
	out := buf.String()
	if !strings.Contains(out, "problems were reported") || !strings.Contains(out, "continuing anyway") {
		t.Fatalf("missing diagnostics log: %s", out)
	}
}

func TestLoad_DiagnosticsFailFast(t *testing.T) {
	sess := &fakeSession{diag: Diagnostics{Warnings: []string{"deprecated"}}}
	var buf bytes.Buffer
	l := NewLoader(&fakeRuntime{sess: sess}, testLogger(&buf))

	_, err := l.Load(context.Background(), "http://sb/iframe.html", Options{FailFast: true})
	if !errors.Is(err, ErrPageDiagnostics) {
		t.Fatalf("err = %v, want ErrPageDiagnostics", err)
	}
	var de *DiagnosticsError
	if !errors.As(err, &de) || de.Diagnostics.Warnings[0] != "deprecated" {
		t.Fatalf("err = %#v", err)
	}
	if sess.closes != 1 {
		t.Fatal("session not closed on fail-fast")
	}
	if !strings.Contains(buf.String(), "fast fail is enabled") {
		t.Fatalf("missing fail-fast log: %s", buf.String())
	}
}

func TestReport(t *testing.T) {
	got := Report(Diagnostics{
		Errors:   []string{"e1", "e2"},
		Warnings: []string{"w1"},
	})
	want := "Errors:\n" + separator + "\n" +
		"e1\n" + separator + "\n" +
		"e2\n" + separator + "\n" +
		"\n" +
		"Warnings:\n" + separator + "\n" +
		"w1\n" + separator + "\n"
	if got != want {
		t.Fatalf("Report:\n%s\nwant:\n%s", got, want)
	}

	if Report(Diagnostics{}) != "" {
		t.Fatal("empty diagnostics should render nothing")
	}
	if got := Report(Diagnostics{Warnings: []string{"w"}}); !strings.HasPrefix(got, "Warnings:") {
		t.Fatalf("warnings-only report = %q", got)
	}
}

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true}
	cases := map[string]bool{
		"Image":      true,
		"Font":       true,
		"Stylesheet": false,
		"Script":     false,
		"Document":   false,
	}
	for typ, want := range cases {
		if got := shouldBlock(set, typ); got != want {
			t.Errorf("shouldBlock(%q) = %v, want %v", typ, got, want)
		}
	}
}
