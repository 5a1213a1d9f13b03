// Package shiko is the public API for embedding the shiko Tree-of-Thought
// server.
//
// Consumers import this package to run the server in-process or to observe
// finalized runs without forking it:
//
//	app, err := shiko.New(ctx,
//	    shiko.WithVersion(version),
//	    shiko.WithLogger(logger),
//	    shiko.WithFinalizeHook(myHook{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: shiko (root) imports
// internal/*, but internal/* never imports shiko (root). Public types are
// standalone structs; conversion helpers live here because this is the only
// file that sees both sides of the boundary.
package shiko

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/shiko/internal/auth"
	"github.com/ashita-ai/shiko/internal/config"
	"github.com/ashita-ai/shiko/internal/enforcement"
	"github.com/ashita-ai/shiko/internal/ledger"
	"github.com/ashita-ai/shiko/internal/mcp"
	"github.com/ashita-ai/shiko/internal/ratelimit"
	"github.com/ashita-ai/shiko/internal/server"
	"github.com/ashita-ai/shiko/internal/service/tree"
	"github.com/ashita-ai/shiko/internal/storage"
	"github.com/ashita-ai/shiko/internal/telemetry"
)

// App is the shiko server lifecycle. Construct with New(), run with Run().
// App has no public fields: use New() options to configure it.
type App struct {
	cfg          config.Config
	tree         *tree.Controller
	mcp          *mcp.Server
	srv          *server.Server    // nil for the stdio transport
	limiter      ratelimit.Limiter // nil for the stdio transport
	ledger       *ledger.Ledger    // nil when SHIKO_LEDGER_PATH is unset
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
	stdin        io.Reader
	stdout       io.Writer

	shutdownOnce sync.Once
	shutdownErr  error
}

// New initialises the server. It loads configuration, opens the optional
// ledger, wires the controller into the MCP server and, for the HTTP
// transport, the HTTP server. It does NOT accept connections: call Run().
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.transport != "" {
		cfg.Transport = o.transport
	}
	if o.ledgerPath != "" {
		cfg.LedgerPath = o.ledgerPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("shiko starting", "version", version, "transport", cfg.Transport)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a := &App{
		cfg:          cfg,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
		stdin:        o.stdin,
		stdout:       o.stdout,
	}
	if a.stdin == nil {
		a.stdin = os.Stdin
	}
	if a.stdout == nil {
		a.stdout = os.Stdout
	}

	if err := a.wire(ctx, o.hooks); err != nil {
		a.release()
		return nil, err
	}
	return a, nil
}

// wire builds every component after config and telemetry are ready. On error
// the caller releases whatever was already opened.
func (a *App) wire(ctx context.Context, hooks []FinalizeHook) error {
	presets, err := loadPresets(a.cfg.PresetsFile)
	if err != nil {
		return err
	}
	if a.cfg.PresetsFile != "" {
		a.logger.Info("presets loaded", "file", a.cfg.PresetsFile, "levels", presets.Levels())
	}

	var treeOpts []tree.Option
	if a.cfg.LedgerPath != "" {
		a.ledger, err = ledger.Open(ctx, a.cfg.LedgerPath, a.logger)
		if err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
		treeOpts = append(treeOpts, tree.WithFinalizeHook(a.ledger))
	} else {
		a.logger.Info("ledger: disabled (no SHIKO_LEDGER_PATH)")
	}
	for _, h := range hooks {
		treeOpts = append(treeOpts, tree.WithFinalizeHook(&finalizeHookAdapter{hook: h}))
	}

	a.tree = tree.New(storage.NewMemoryStore(), presets, a.logger, treeOpts...)
	a.mcp = mcp.New(a.tree, a.logger, a.version, a.cfg.FrontierNudgeWindow)

	if a.cfg.Transport != config.TransportHTTP {
		return nil
	}

	var jwtMgr *auth.JWTManager
	if a.cfg.AuthEnabled {
		jwtMgr, err = auth.NewJWTManager(a.cfg.JWTPrivateKeyPath, a.cfg.JWTPublicKeyPath, a.cfg.JWTExpiration)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		a.logger.Info("auth: enabled", "token_ttl", a.cfg.JWTExpiration)
	} else {
		a.logger.Warn("auth: disabled, /mcp is open to any caller that can reach the port")
	}

	if a.cfg.RateLimitEnabled {
		a.limiter = ratelimit.NewMemoryLimiter(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst)
		a.logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", a.cfg.RateLimitRPS, "burst", a.cfg.RateLimitBurst)
	} else {
		a.limiter = ratelimit.NoopLimiter{}
		a.logger.Info("rate limiting: disabled")
	}

	cfg := server.ServerConfig{
		Tree:                a.tree,
		MCPServer:           a.mcp.MCPServer(),
		Logger:              a.logger,
		JWTMgr:              jwtMgr,
		APIKeyHash:          a.cfg.APIKeyHash,
		Limiter:             a.limiter,
		Port:                a.cfg.Port,
		ReadTimeout:         a.cfg.ReadTimeout,
		WriteTimeout:        a.cfg.WriteTimeout,
		Version:             a.version,
		MaxRequestBodyBytes: a.cfg.MaxRequestBodyBytes,
	}
	if a.ledger != nil {
		cfg.Ledger = a.ledger
	}
	a.srv = server.New(cfg)
	return nil
}

// Run serves the configured transport until ctx is cancelled, the stdio
// client disconnects, or a fatal server error occurs. On return, Shutdown
// has been called: callers should not call it separately.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	switch a.cfg.Transport {
	case config.TransportHTTP:
		g.Go(func() error {
			if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			httpCtx, cancel := contextWithOptionalTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
			defer cancel()
			if err := a.srv.Shutdown(httpCtx); err != nil {
				return fmt.Errorf("http shutdown: %w", err)
			}
			return nil
		})
	default:
		g.Go(func() error {
			stdio := mcpserver.NewStdioServer(a.mcp.MCPServer())
			stdio.SetErrorLogger(slog.NewLogLogger(a.logger.Handler(), slog.LevelError))
			a.logger.Info("stdio server listening")
			err := stdio.Listen(gctx, a.stdin, a.stdout)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
				return fmt.Errorf("stdio server: %w", err)
			}
			return nil
		})
	}

	runErr := g.Wait()
	return errors.Join(runErr, a.Shutdown(context.WithoutCancel(ctx)))
}

// Shutdown waits for in-flight finalize hooks, then releases the ledger,
// the rate limiter and telemetry. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.logger.Info("shiko shutting down")

		hookCtx, cancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
		if err := a.tree.WaitHooks(hookCtx); err != nil {
			a.logger.Warn("finalize hooks did not drain before timeout",
				"error", err, "configured_timeout", a.cfg.ShutdownTimeout)
		}
		cancel()

		a.shutdownErr = a.release()
		a.logger.Info("shiko stopped")
	})
	return a.shutdownErr
}

// release closes every optional component that has been opened.
func (a *App) release() error {
	var errs []error
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ledger: %w", err))
		}
	}
	if a.limiter != nil {
		if err := a.limiter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close limiter: %w", err))
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// loadPresets reads the override table when path is set. A nil return means
// the built-in table.
func loadPresets(path string) (enforcement.Presets, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("presets: %w", err)
	}
	defer func() { _ = f.Close() }()

	table, err := enforcement.LoadTable(f)
	if err != nil {
		return nil, fmt.Errorf("presets %s: %w", path, err)
	}
	return table, nil
}

// finalizeHookAdapter bridges the public FinalizeHook to the controller's.
type finalizeHookAdapter struct {
	hook FinalizeHook
}

func (a *finalizeHookAdapter) OnRunFinalized(ctx context.Context, fr tree.FinalizedRun) error {
	return a.hook.OnRunFinalized(ctx, toPublicFinalizedRun(fr))
}

func toPublicFinalizedRun(fr tree.FinalizedRun) FinalizedRun {
	chain := make([]PathStep, len(fr.Path.Chain))
	for i, s := range fr.Path.Chain {
		chain[i] = PathStep{
			NodeID:  s.NodeID,
			Depth:   s.Depth,
			Thought: s.Thought,
			Score:   s.Score,
		}
	}
	return FinalizedRun{
		RunID:            fr.RunID,
		TaskPrompt:       fr.TaskPrompt,
		Mode:             string(fr.Mode),
		ExplorationLevel: fr.Level,
		NodeBudget:       fr.NodeBudget,
		NodesExplored:    fr.Path.NodesExplored,
		Iterations:       fr.Iterations,
		FinalAnswer:      fr.Path.FinalAnswer,
		Confidence:       fr.Path.Confidence,
		IsTerminal:       fr.Path.IsTerminal,
		Chain:            chain,
		ValidationIssues: fr.Path.ValidationIssues,
		FinalizedAt:      fr.FinalizedAt,
	}
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
