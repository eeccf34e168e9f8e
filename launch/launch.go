// Package launch starts the process that serves a Storybook instance (a
// package script or a raw shell command) and blocks until its URL answers.
//
// The launcher never terminates what it started: the returned Process is
// owned by the caller.
package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// ErrInvalidDescriptor is returned when neither a script nor a command is set.
var ErrInvalidDescriptor = errors.New("launch: script name or command is required")

// ErrLaunchTimeout matches every *TimeoutError.
var ErrLaunchTimeout = errors.New("launch: server did not become ready")

// TimeoutError reports a launch that never became ready, either because the
// wait bound elapsed or because the child exited first.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
	Exited  bool
	Output  string
}

func (e *TimeoutError) Error() string {
	if e.Exited {
		return fmt.Sprintf("launch: script failed to start: %s", e.Output)
	}
	return fmt.Sprintf("launch: no server responding at %s within %s", e.URL, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrLaunchTimeout }

// Prober reports whether a URL is serving. *probe.Prober satisfies it.
type Prober interface {
	Ready(ctx context.Context, url string) bool
}

// Descriptor describes what to start. Exactly one of Script or Command is
// expected; Script wins when both are set.
type Descriptor struct {
	// Script is a package.json script run through the package manager.
	Script string
	// Command is a raw shell command line.
	Command string
	// Args are passed after "--" to a script. A command runs as written.
	Args []string
	// URL is polled until ready. Empty = do not wait.
	URL string
	// InheritStdio connects the child to the caller's stdio instead of
	// capturing its output.
	InheritStdio bool
	// Dir is the working directory. Empty = current directory.
	Dir string
}

// Config tunes the wait loop.
type Config struct {
	// PollInterval between readiness checks. Default: 1s.
	PollInterval time.Duration
	// Timeout bounds the whole wait. Default: 5m.
	Timeout time.Duration
	// NoticeInterval between "still waiting" log lines. Default: 30s.
	NoticeInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.NoticeInterval <= 0 {
		c.NoticeInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Launcher starts Storybook processes.
type Launcher struct {
	cfg    Config
	prober Prober

	// start is exec.Cmd.Start; swapped in tests.
	start func(*exec.Cmd) error
}

// New creates a Launcher that waits on prober.
func New(prober Prober, cfg Config) *Launcher {
	cfg.defaults()
	return &Launcher{
		cfg:    cfg,
		prober: prober,
		start:  (*exec.Cmd).Start,
	}
}

// Process is a started child process.
type Process struct {
	cmd    *exec.Cmd
	out    *outputBuffer
	done   chan struct{}
	err    error
	killMu sync.Mutex
}

// Pid returns the OS process ID.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Output returns what the process wrote so far (empty with InheritStdio).
func (p *Process) Output() string { return p.out.String() }

// Wait blocks until the process exits and returns its exit error.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// Kill terminates the process and waits for it to exit. Safe to call more
// than once and on a process that already exited.
func (p *Process) Kill() error {
	p.killMu.Lock()
	defer p.killMu.Unlock()

	select {
	case <-p.done:
		return nil
	default:
	}
	if p.cmd.Process != nil {
		if err := killProcessGroup(p.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("launch: kill: %w", err)
		}
	}
	// A killed child exits with a signal error.
	_ = p.Wait()
	return nil
}

// Launch starts the process described by d and waits until d.URL is ready.
// A process that never becomes ready is killed before the error is returned.
//
// When d.Script is set and d.URL already answers, nothing is started and
// (nil, nil) is returned: the running server is assumed to be the one the
// script would start.
func (l *Launcher) Launch(ctx context.Context, d Descriptor) (*Process, error) {
	log := l.cfg.Logger

	if d.Script == "" && d.Command == "" {
		return nil, ErrInvalidDescriptor
	}

	if d.Script != "" && d.URL != "" && l.prober.Ready(ctx, d.URL) {
		log.Info("launch: server already running, not starting script", "url", d.URL, "script", d.Script)
		return nil, nil
	}

	cmd := l.command(d)
	out := &outputBuffer{}
	if d.InheritStdio {
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	} else {
		cmd.Stdout, cmd.Stderr = out, out
	}

	if err := l.start(cmd); err != nil {
		return nil, fmt.Errorf("launch: start %s: %w", cmd.Path, err)
	}
	proc := &Process{cmd: cmd, out: out, done: make(chan struct{})}
	go func() {
		proc.err = cmd.Wait()
		close(proc.done)
	}()
	log.Info("launch: started", "cmd", strings.Join(cmd.Args, " "), "pid", proc.Pid())

	if d.URL == "" {
		return proc, nil
	}
	if err := l.wait(ctx, proc, d.URL); err != nil {
		if kerr := proc.Kill(); kerr != nil {
			log.Warn("launch: kill after failed start", "pid", proc.Pid(), "error", kerr)
		}
		return nil, err
	}
	return proc, nil
}

// wait polls url until it is ready, the child exits, ctx ends or the
// timeout elapses.
func (l *Launcher) wait(ctx context.Context, proc *Process, url string) error {
	log := l.cfg.Logger
	started := time.Now()

	deadline := time.NewTimer(l.cfg.Timeout)
	defer deadline.Stop()
	poll := time.NewTicker(l.cfg.PollInterval)
	defer poll.Stop()
	notice := time.NewTicker(l.cfg.NoticeInterval)
	defer notice.Stop()

	for {
		if l.prober.Ready(ctx, url) {
			log.Info("launch: server ready", "url", url, "after", time.Since(started).Round(time.Millisecond))
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("launch: wait for %s: %w", url, ctx.Err())
		case <-deadline.C:
			return &TimeoutError{URL: url, Timeout: l.cfg.Timeout, Output: proc.Output()}
		case <-proc.done:
			// One last look: the server may have daemonised.
			if l.prober.Ready(ctx, url) {
				return nil
			}
			return &TimeoutError{URL: url, Timeout: l.cfg.Timeout, Exited: true, Output: proc.Output()}
		case <-notice.C:
			log.Info("launch: still waiting for server", "url", url, "elapsed", time.Since(started).Round(time.Second))
		case <-poll.C:
		}
	}
}

func (l *Launcher) command(d Descriptor) *exec.Cmd {
	var cmd *exec.Cmd
	if d.Script != "" {
		bin, pre := packageManager(os.Getenv("npm_execpath"))
		args := append(pre, "run", d.Script, "--")
		args = append(args, d.Args...)
		cmd = exec.Command(bin, args...)
	} else {
		if runtime.GOOS == "windows" {
			cmd = exec.Command("cmd", "/C", d.Command)
		} else {
			cmd = exec.Command("sh", "-c", d.Command)
		}
	}
	cmd.Dir = d.Dir
	cmd.Env = Environ(os.Environ())
	cmd.WaitDelay = time.Second
	setProcessGroup(cmd)
	return cmd
}

// packageManager resolves how to invoke "<pm> run". npmExecPath is the value
// of npm_execpath: a JS entry point is run through node, any other path is
// executed directly, and an empty value falls back to npm.
func packageManager(npmExecPath string) (bin string, pre []string) {
	switch strings.ToLower(filepath.Ext(npmExecPath)) {
	case ".js", ".mjs", ".cjs":
		return "node", []string{npmExecPath}
	}
	if npmExecPath != "" {
		return npmExecPath, nil
	}
	return "npm", nil
}

// Environ returns base with NODE_ENV=development and BROWSER=none, replacing
// any existing values.
func Environ(base []string) []string {
	env := make([]string, 0, len(base)+2)
	for _, kv := range base {
		if strings.HasPrefix(kv, "NODE_ENV=") || strings.HasPrefix(kv, "BROWSER=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "NODE_ENV=development", "BROWSER=none")
}

// maxOutput caps captured child output; older bytes are dropped.
const maxOutput = 64 << 10

type outputBuffer struct {
	mu  sync.Mutex
	buf []byte
}

var _ io.Writer = (*outputBuffer)(nil)

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - maxOutput; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
