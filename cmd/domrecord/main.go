// Command domrecord records one page's DOM into a domrec frame stream.
//
// Usage:
//
//	domrecord -url https://example.com -out session.drec
//	domrecord -url https://example.com | gzip > session.drec.gz
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
	"github.com/hazyhaar/domrec/recorder"
	"github.com/hazyhaar/domrec/store"
)

func main() {
	pageURL := flag.String("url", "", "page to record (required unless set in -config)")
	out := flag.String("out", "", "output file for the frame stream (default: stdout)")
	storeURL := flag.String("store", "", "also persist the session to a SQLite store, e.g. sqlite://sessions.db")
	stealth := flag.String("stealth", "auto", "stealth level: http, headless, headful, or auto")
	concurrency := flag.Int("concurrency", 6, "max concurrent out-of-band asset fetches")
	crossOrigin := flag.Bool("cross-origin-inline", false, "inline cross-origin assets instead of leaving them by reference")
	configPath := flag.String("config", "", "YAML config file (recorder.Config); when set, its values replace -stealth, -concurrency and -cross-origin-inline, and -url still overrides its page URL")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *pageURL, *out, *storeURL, *stealth, *concurrency, *crossOrigin); err != nil {
		logger.Error("domrecord: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, pageURL, outPath, storeURL, stealth string, concurrency int, crossOrigin bool) error {
	cfg := recorder.Config{
		StealthLevel:      stealth,
		Concurrency:       concurrency,
		CrossOriginInline: crossOrigin,
		Browser: domtab.Config{
			MemoryLimit:      1 << 30,
			RecycleInterval:  4 * time.Hour,
			ResourceBlocking: []string{"images", "fonts", "media"},
		},
	}
	if configPath != "" {
		fileCfg, err := recorder.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = *fileCfg
	}
	if pageURL != "" {
		cfg.PageURL = pageURL
	}
	if cfg.PageURL == "" {
		return fmt.Errorf("usage: domrecord -url <url> [-out <file>] [-store sqlite://path] [-config <file>]")
	}
	if cfg.PageID == "" {
		cfg.PageID = idgen.New()
	}
	cfg.Logger = logger
	cfg.Browser.Logger = logger

	sink, closeSink, err := openSink(outPath)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer closeSink()

	writer, closeStore, err := attachStore(storeURL, sink, cfg.PageID)
	if err != nil {
		return fmt.Errorf("attach store: %w", err)
	}
	defer closeStore()

	rec := recorder.New(cfg, writer)
	if err := rec.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer rec.Stop()

	logger.Info("domrecord: recording", "pageId", cfg.PageID, "url", cfg.PageURL)
	<-ctx.Done()
	return nil
}

func openSink(path string) (*os.File, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// attachStore tees the recorder's output into a SQLite store alongside
// primary when storeURL is set (sqlite://path), keyed by pageID so the
// same database can later be queried for other sessions.
func attachStore(storeURL string, primary io.Writer, pageID string) (io.Writer, func(), error) {
	if storeURL == "" {
		return primary, func() {}, nil
	}
	path := strings.TrimPrefix(storeURL, "sqlite://")
	s, err := store.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return io.MultiWriter(primary, s.Writer(pageID)), func() { s.Close() }, nil
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
