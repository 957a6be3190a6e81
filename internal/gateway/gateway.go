// ABOUTME: Gateway lifecycle: wires store, registry, model, tools, and
// ABOUTME: orchestrator together and runs the HTTP server until shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/stillwater-labs/steward/internal/agent"
	"github.com/stillwater-labs/steward/internal/config"
	"github.com/stillwater-labs/steward/internal/model"
	"github.com/stillwater-labs/steward/internal/orchestrator"
	"github.com/stillwater-labs/steward/internal/store"
	"github.com/stillwater-labs/steward/internal/team"
	"github.com/stillwater-labs/steward/internal/tools"
)

// shutdownTimeout bounds graceful shutdown after the run context ends.
const shutdownTimeout = 10 * time.Second

// Gateway is the steward-gateway process: HTTP server plus the components
// behind it.
type Gateway struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	registry *team.Registry
	client   model.Client
	orch     *orchestrator.Orchestrator

	mux        *http.ServeMux
	httpServer *http.Server
}

// New builds a gateway from configuration: opens the SQLite store, loads the
// team registry, selects the model backend, and wires the orchestrator.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	registry, err := team.LoadFile(cfg.Teams.Path)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading team registry: %w", err)
	}

	client, err := buildModelClient(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	var dialer tools.Dialer
	if cfg.Tools.Endpoint != "" {
		dialer = &tools.MCPDialer{
			Endpoint:      cfg.Tools.Endpoint,
			InvokeTimeout: cfg.Tools.InvokeTimeout,
		}
	}

	orch := orchestrator.New(st, registry, client, dialer, orchestrator.Config{
		AttachDebounce: cfg.Plans.AttachDebounce,
		StepTimeout:    cfg.Plans.StepTimeout,
		Agent: agent.Options{
			MaxToolTurns: cfg.Plans.MaxToolTurns,
			MaxRetries:   cfg.Tools.MaxRetries,
			RetryBackoff: cfg.Tools.RetryBackoff,
		},
	})

	return newGateway(cfg, logger, st, registry, client, orch), nil
}

// newGateway finishes construction from already-built components. Tests use
// this directly with in-memory collaborators.
func newGateway(cfg *config.Config, logger *slog.Logger, st store.Store, registry *team.Registry, client model.Client, orch *orchestrator.Orchestrator) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		logger:   logger.With("component", "gateway"),
		store:    st,
		registry: registry,
		client:   client,
		orch:     orch,
		mux:      http.NewServeMux(),
	}

	g.mux.HandleFunc("/health", g.handleHealth)
	g.mux.HandleFunc("/health/ready", g.handleReady)
	g.mux.HandleFunc("/api/teams", g.handleListTeams)
	g.mux.HandleFunc("/api/plans", g.handlePlans)
	g.mux.HandleFunc("/api/plans/", g.handlePlanRoutes)

	g.httpServer = &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: g.mux,
	}
	return g
}

// buildModelClient selects the model backend from config.
func buildModelClient(cfg *config.Config) (model.Client, error) {
	switch cfg.Model.Provider {
	case "gemini":
		return model.NewGeminiClient(context.Background(), cfg.Model.APIKey, cfg.Model.Model)
	case "scripted":
		c := model.NewScriptedClient()
		c.SetFallback("1. [assistant] acknowledge the goal\n")
		return c, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}

// Handler returns the gateway's HTTP handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// Run serves HTTP until ctx is cancelled or the server fails, then shuts
// down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.orch.RecoverStalePlans(ctx); err != nil {
		g.logger.Error("startup recovery failed", "error", err)
	}

	ln, err := net.Listen("tcp", g.cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.cfg.Server.HTTPAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if serveErr := g.httpServer.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	g.logger.Info("gateway listening", "http_addr", ln.Addr().String())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		g.logger.Error("http server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := g.Shutdown(shutdownCtx); err != nil {
		if runErr != nil {
			return runErr
		}
		return err
	}
	return runErr
}

// appendCloseError collects labelled close errors.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown drains HTTP, tears down live plan runs, and closes the model
// client and store, in that order.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "orchestrator close", g.orch.Close(ctx))
	errs = appendCloseError(errs, "model close", g.client.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())
	return errors.Join(errs...)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	// Ready means the store answers; the model backend is checked lazily.
	if _, err := g.orch.ListPlans(r.Context(), 1); err != nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ready")
}
