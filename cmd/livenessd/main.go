package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/verilive/livenessd/internal/dotenv"
	"github.com/verilive/livenessd/internal/version"
	"github.com/verilive/livenessd/pkg/core/liveness"
	"github.com/verilive/livenessd/pkg/core/media"
	"github.com/verilive/livenessd/pkg/core/results"
	"github.com/verilive/livenessd/pkg/core/scoring"
	"github.com/verilive/livenessd/pkg/core/stream"
	"github.com/verilive/livenessd/pkg/gateway/config"
	"github.com/verilive/livenessd/pkg/gateway/lifecycle"
	gatewayserver "github.com/verilive/livenessd/pkg/gateway/server"
)

type serveDeps struct {
	loadConfig   func() (config.Config, error)
	newServer    func(config.Config, *slog.Logger) *gatewayserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServeDeps() serveDeps {
	return serveDeps{
		loadConfig:   config.LoadFromEnv,
		newServer:    buildServer,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) },
		signalStop:   signal.Stop,
	}
}

// buildServer wires the full object graph: result store, scoring client,
// stream dialer, orchestrator, and the HTTP gateway on top.
func buildServer(cfg config.Config, logger *slog.Logger) *gatewayserver.Server {
	store := results.NewStore()
	scorer := scoring.NewClient(cfg.ScoringAPIKey, cfg.ScoringBaseURL, nil)
	dialer := stream.NewDialer(stream.Credentials{
		ClientID:     cfg.ZoomClientID,
		ClientSecret: cfg.ZoomClientSecret,
	}, logger)

	orch := liveness.NewOrchestrator(liveness.OrchestratorConfig{
		MaxSessions: cfg.MaxSessions,
		Pipeline: liveness.PipelineConfig{
			AccumulationWindow: cfg.AccumulationWindow,
			InactivityTimeout:  cfg.InactivityTimeout,
			OverallTimeout:     cfg.OverallTimeout,
			PollInterval:       cfg.PollInterval,
			RequiredFrames:     cfg.RequiredFrames,
			CropSize:           cfg.CropSize,
			SharpnessThreshold: cfg.SharpnessThreshold,
		},
		Dialer: dialer,
		Scorer: scorer,
		NewScorer: func(credential string) liveness.Scorer {
			return scoring.NewClient(credential, cfg.ScoringBaseURL, nil)
		},
		Decoder: media.NewBatchDecoder(),
		Store:   store,
		Logger:  logger,
	})

	return gatewayserver.New(cfg, orch, &lifecycle.Lifecycle{}, logger)
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runServe(ctx context.Context, logger *slog.Logger, deps serveDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newServer == nil {
		return errors.New("missing newServer dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw := deps.newServer(cfg, logger)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting livenessd", "addr", cfg.Addr, "auth_mode", cfg.AuthMode, "max_sessions", cfg.MaxSessions)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer closeCancel()
	gw.CloseSessions(closeCtx)

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("livenessd stopped")
	return nil
}

func newRootCmd(stderr io.Writer, deps serveDeps) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "livenessd",
		Short:         "Video-call participant liveness verification service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver and control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(stderr, nil))
			return runServe(cmd.Context(), logger, deps)
		},
	}
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	})

	return rootCmd
}

func runMain(ctx context.Context, stderr io.Writer, args []string, deps serveDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "livenessd: %v\n", err)
		return 1
	}

	rootCmd := newRootCmd(stderr, deps)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "livenessd: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, os.Args[1:], defaultServeDeps()))
}
