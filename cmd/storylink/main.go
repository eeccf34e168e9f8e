// Command storylink links design components to Storybook stories.
//
// Usage:
//
//	storylink -config storylink.yaml                # print links, one JSON line per component
//	storylink -config storylink.yaml -serve :8080   # serve the HTTP bridge
//	storylink -config storylink.yaml -mcp           # serve MCP over stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/storylink/storybook"
)

var version = "dev"

// Environment overrides, applied after the config file.
const (
	envURL       = "STORYLINK_URL"
	envTargetURL = "STORYLINK_TARGET_URL"
	envLogLevel  = "STORYLINK_LOG_LEVEL"
)

func main() {
	configPath := flag.String("config", "", "path to storylink.yaml config file")
	serveAddr := flag.String("serve", "", "serve the HTTP bridge on this address after discovery")
	serveMCP := flag.Bool("mcp", false, "serve MCP over stdio after discovery")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default info)")
	envFile := flag.String("env-file", "", "optional .env file loaded before STORYLINK_* overrides")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "storylink: load env file: %v\n", err)
			os.Exit(1)
		}
	}
	if *logLevel == "" {
		*logLevel = os.Getenv(envLogLevel)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: storylink -config <file> [-serve <addr> | -mcp]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := runOptions{configPath: *configPath, serveAddr: *serveAddr, mcp: *serveMCP}
	if err := run(ctx, logger, opts, os.Stdout); err != nil {
		logger.Error("storylink: fatal", "error", err)
		os.Exit(1)
	}
}

type runOptions struct {
	configPath string
	serveAddr  string
	mcp        bool
}

func run(ctx context.Context, logger *slog.Logger, opts runOptions, stdout io.Writer) error {
	if opts.serveAddr != "" && opts.mcp {
		return errors.New("-serve and -mcp are mutually exclusive")
	}

	cfg, err := storybook.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyEnv(cfg)

	p := storybook.New(*cfg, logger)
	if err := p.Init(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	switch {
	case opts.serveAddr != "":
		return serveHTTP(ctx, logger, p, opts.serveAddr)
	case opts.mcp:
		return serveStdioMCP(ctx, p)
	default:
		return printLinks(ctx, p, storybook.Queries(cfg), stdout)
	}
}

// applyEnv overrides config values from STORYLINK_* variables.
func applyEnv(cfg *storybook.Config) {
	if v := os.Getenv(envURL); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv(envTargetURL); v != "" {
		cfg.TargetURL = v
	}
}

type componentLine struct {
	Path      string           `json:"path"`
	Supported bool             `json:"supported"`
	Links     []storybook.Link `json:"links"`
}

func printLinks(ctx context.Context, p *storybook.Plugin, queries []storybook.ComponentQuery, w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, q := range queries {
		line := componentLine{Path: q.Path, Supported: p.Supports(q), Links: []storybook.Link{}}
		if line.Supported {
			data, err := p.Process(ctx, q)
			if err != nil {
				return fmt.Errorf("process %s: %w", q.Path, err)
			}
			line.Links = data.Links
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

func serveHTTP(ctx context.Context, logger *slog.Logger, p *storybook.Plugin, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           p.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("storylink: http bridge listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("storylink: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func serveStdioMCP(ctx context.Context, p *storybook.Plugin) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "storylink", Version: version}, nil)
	p.RegisterMCP(srv)
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
