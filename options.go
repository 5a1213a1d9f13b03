package shiko

import (
	"io"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported: callers use the With* functions.
type resolvedOptions struct {
	port       int
	transport  string
	ledgerPath string
	logger     *slog.Logger
	version    string
	hooks      []FinalizeHook
	stdin      io.Reader
	stdout     io.Writer
}

// WithPort overrides the TCP port from config (SHIKO_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithTransport overrides the transport from config (SHIKO_TRANSPORT env
// var): "stdio" or "http".
func WithTransport(transport string) Option {
	return func(o *resolvedOptions) { o.transport = transport }
}

// WithLedgerPath overrides the ledger file from config (SHIKO_LEDGER_PATH).
func WithLedgerPath(path string) Option {
	return func(o *resolvedOptions) { o.ledgerPath = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported by MCP initialize, the
// health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithFinalizeHook registers a hook called after each best-path extraction.
// May be called multiple times; hooks run concurrently.
func WithFinalizeHook(h FinalizeHook) Option {
	return func(o *resolvedOptions) {
		if h != nil {
			o.hooks = append(o.hooks, h)
		}
	}
}

// WithStdio replaces os.Stdin and os.Stdout for the stdio transport.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(o *resolvedOptions) {
		o.stdin = in
		o.stdout = out
	}
}
