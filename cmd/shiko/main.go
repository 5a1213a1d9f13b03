// Command shiko serves the Tree-of-Thought controller over MCP, on stdio by
// default or streamable HTTP when SHIKO_TRANSPORT=http.
//
//	shiko                        serve
//	shiko verify-ledger <path>   recompute the ledger hash chain and exit
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ashita-ai/shiko"
	"github.com/ashita-ai/shiko/internal/ledger"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	// stdout carries the stdio MCP transport, so logs always go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("SHIKO_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case len(args) == 0:
		err = serve(ctx, logger)
	case args[0] == "verify-ledger":
		err = verifyLedger(ctx, args[1:], os.Stdout, logger)
	default:
		err = fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, logger *slog.Logger) error {
	app, err := shiko.New(ctx,
		shiko.WithLogger(logger),
		shiko.WithVersion(version),
	)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

func verifyLedger(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	if len(args) != 1 {
		return errors.New("usage: shiko verify-ledger <path>")
	}
	if _, err := os.Stat(args[0]); err != nil {
		return fmt.Errorf("ledger file: %w", err)
	}
	l, err := ledger.Open(ctx, args[0], logger)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	n, err := l.Verify(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "ok: %d finalized runs verified\n", n)
	return err
}

// parseLevel maps SHIKO_LOG_LEVEL to a slog level. Unknown values mean info.
func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
