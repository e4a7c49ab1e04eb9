package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"grimm.is/npfkit/internal/brand"
	"grimm.is/npfkit/internal/ctlplane"
	"grimm.is/npfkit/internal/dict"
	"grimm.is/npfkit/internal/engine"
	"grimm.is/npfkit/internal/firewall"
	"grimm.is/npfkit/internal/health"
	"grimm.is/npfkit/internal/i18n"
	"grimm.is/npfkit/internal/logging"
	"grimm.is/npfkit/internal/metrics"
	"grimm.is/npfkit/internal/npf"
	"grimm.is/npfkit/internal/state"
)

// ServeOptions configures the engine daemon.
type ServeOptions struct {
	Socket      string
	StatePath   string
	MetricsAddr string
	// NFTable mirrors loaded tables into nftables sets of this table
	// when set.
	NFTable     string
	RequireRoot bool
	LogLevel    string
	JSONLog     bool
}

// DefaultServeOptions returns the options used when no flags are given.
func DefaultServeOptions() ServeOptions {
	return ServeOptions{
		Socket:      brand.GetSocketPath(),
		StatePath:   brand.GetStatePath(),
		RequireRoot: true,
		LogLevel:    "info",
	}
}

// RunServe runs the engine until SIGINT or SIGTERM.
func RunServe(opts ServeOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(opts.LogLevel)
	logCfg.JSON = opts.JSONLog
	logging.SetDefault(logging.New(logCfg))
	logger := logging.WithComponent("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(opts.StatePath), 0o750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	store, err := state.NewSQLiteStore(state.DefaultOptions(opts.StatePath))
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	reg := metrics.Get()
	engOpts := engine.Options{
		Store:   store,
		Metrics: reg,
		Logger:  logging.WithComponent("engine"),
	}
	if opts.NFTable != "" {
		sets, err := firewall.Open(opts.NFTable)
		if err != nil {
			return fmt.Errorf("failed to open nftables: %w", err)
		}
		engOpts.Tables = sets
	}
	eng := engine.New(engOpts)
	if err := eng.Restore(ctx); err != nil {
		logger.Warn("failed to restore previous configuration", "error", err)
	}

	srv := ctlplane.NewServer(eng)
	srv.SetMetrics(reg)
	srv.RequireRoot(opts.RequireRoot)
	if err := srv.Start(opts.Socket); err != nil {
		return err
	}
	defer srv.Stop()

	var httpSrv *http.Server
	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		mux.Handle("/status", i18n.Middleware(statusHandler(eng)))
		checker := health.NewChecker(nil)
		checker.Register("engine", health.BackendCheck(eng))
		checker.Register("store", health.StoreCheck(store))
		if opts.NFTable != "" {
			checker.Register("nftables", health.NftablesCheck(opts.NFTable))
		}
		mux.Handle("/healthz", checker.Handler())
		mux.Handle("/livez", health.LivenessHandler())
		mux.Handle("/readyz", checker.ReadinessHandler())
		httpSrv = &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
		logger.Info("metrics listening", "addr", opts.MetricsAddr)
	}

	logger.Info("engine ready", "socket", opts.Socket, "state", opts.StatePath)
	<-ctx.Done()
	logger.Info("shutting down")

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// statusHandler reports the size of the live configuration in the
// language of the request.
func statusHandler(b ctlplane.Backend) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := b.Handle(r.Context(), ctlplane.CmdSave, dict.NewMap())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		cfg, err := npf.FromMap(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		rules, err := countRules(cfg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		i18n.GetPrinter(r.Context()).Fprintf(w, i18n.MsgStatus, rules, count(cfg.NATs()), count(cfg.Tables()))
	})
}
