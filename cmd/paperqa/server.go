package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/paperqa/internal/api"
	"github.com/kalambet/paperqa/internal/config"
	"github.com/kalambet/paperqa/internal/engine"
	"github.com/kalambet/paperqa/internal/jobs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, job execution and the expiry sweeper (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		skipCheck, _ := cmd.Flags().GetBool("skip-model-check")
		noWorker, _ := cmd.Flags().GetBool("no-worker")
		return runServer(skipCheck, noWorker)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Execute jobs published on NATS by a serve process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired jobs once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.jobs.SweepExpired(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("Deleted %d expired job(s)", n)
		return nil
	},
}

func init() {
	serveCmd.Flags().Bool("skip-model-check", false, "do not check or pull Ollama models on startup")
	serveCmd.Flags().Bool("no-worker", false, "with the nats dispatcher, publish jobs without executing them here")
}

func runServer(skipModelCheck, noWorker bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.seed(ctx); err != nil {
		return err
	}

	if !skipModelCheck {
		models, err := a.requiredModels(ctx)
		if err != nil {
			return err
		}
		if err := engine.EnsureReady(ctx, a.ollama, os.Stderr, models...); err != nil {
			return err
		}
		a.checkRemoteModel(ctx)
	}

	dispatcher, inline, err := a.dispatcher()
	if err != nil {
		return err
	}
	if cfg.Jobs.Dispatcher == config.DispatcherNATS && !noWorker {
		sub, err := jobs.NewNATSDispatcher(a.nc, cfg.Jobs.Subject).Serve(a.runner)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", cfg.Jobs.Subject, err)
		}
		defer sub.Unsubscribe()
	}

	go jobs.NewSweeper(a.jobs, cfg.Jobs.SweepInterval).Run(ctx)

	deps := a.apiDeps(dispatcher)

	if cfg.Server.MCPStdio {
		mcpSrv := api.NewMCPServer(deps)
		go func() {
			stdio := server.NewStdioServer(mcpSrv)
			if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("paperqa listening", "addr", srv.Addr, "version", version,
			"retrieval", cfg.Retrieval.Backend, "dispatcher", cfg.Jobs.Dispatcher, "model", cfg.ChatModel())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	if inline != nil {
		inline.Wait()
	}
	return err
}

func runWorker() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.connectNATS(); err != nil {
		return err
	}
	sub, err := jobs.NewNATSDispatcher(a.nc, cfg.Jobs.Subject).Serve(a.runner)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", cfg.Jobs.Subject, err)
	}
	defer sub.Unsubscribe()

	slog.Info("worker subscribed", "subject", cfg.Jobs.Subject, "nats", cfg.Jobs.NATSURL)
	<-ctx.Done()
	return nil
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.seed(ctx); err != nil {
		return err
	}
	dispatcher, inline, err := a.dispatcher()
	if err != nil {
		return err
	}
	if inline != nil {
		defer inline.Wait()
	}

	stdio := server.NewStdioServer(api.NewMCPServer(a.apiDeps(dispatcher)))
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
