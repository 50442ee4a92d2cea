// Command domplay replays a domrec frame stream into a live browser tab.
//
// Usage:
//
//	domplay -in session.drec
//	gzip -dc session.drec.gz | domplay
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hazyhaar/domrec/domtab"
	"github.com/hazyhaar/domrec/idgen"
	"github.com/hazyhaar/domrec/player"
	"github.com/hazyhaar/domrec/store"
)

func main() {
	in := flag.String("in", "", "input frame stream file (default: stdin)")
	storeURL := flag.String("store", "", "read the session from a SQLite store instead, e.g. sqlite://sessions.db")
	session := flag.String("session", "", "session id to read from -store (required with -store)")
	configPath := flag.String("config", "", "YAML config file (player.Config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))

	if *storeURL != "" && *session == "" {
		fmt.Fprintln(os.Stderr, "usage: domplay -store sqlite://path -session <id>")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *in, *storeURL, *session); err != nil {
		logger.Error("domplay: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, inPath, storeURL, session string) error {
	src, closeSrc, err := openSource(ctx, inPath, storeURL, session)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer closeSrc()

	cfg := player.Config{
		Browser: domtab.Config{
			MemoryLimit:     1 << 30,
			RecycleInterval: 4 * time.Hour,
		},
	}
	if configPath != "" {
		fileCfg, err := player.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = *fileCfg
	}
	if cfg.PageID == "" {
		cfg.PageID = idgen.New()
	}
	cfg.Logger = logger
	cfg.Browser.Logger = logger

	p := player.New(cfg)
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer p.Stop()

	if err := p.Play(ctx, src); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	logger.Info("domplay: playback finished, holding tab open until interrupted")
	<-ctx.Done()
	return nil
}

func openSource(ctx context.Context, path, storeURL, session string) (io.Reader, func(), error) {
	if storeURL != "" {
		dbPath := strings.TrimPrefix(storeURL, "sqlite://")
		s, err := store.Open(dbPath)
		if err != nil {
			return nil, nil, err
		}
		r, err := s.Reader(ctx, session)
		if err != nil {
			s.Close()
			return nil, nil, err
		}
		return r, func() { s.Close() }, nil
	}
	if path == "" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func parseLevel(s string) slog.Level {
	switch s {
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
