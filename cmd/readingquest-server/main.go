package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/at-ishikawa/readingquest/internal/bootstrap"
	"github.com/at-ishikawa/readingquest/internal/config"
	"github.com/at-ishikawa/readingquest/internal/identity"
	"github.com/at-ishikawa/readingquest/internal/server"
)

var configFile string

func main() {
	var debugMode bool
	rootCmd := &cobra.Command{
		Use:           "readingquest-server",
		Short:         "Reading progression HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(debugMode)
			return run(cmd.Context())
		},
	}
	rootCmd.Flags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug mode")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(debugMode bool) {
	logLevel := slog.LevelInfo
	if debugMode {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func run(ctx context.Context) error {
	app := bootstrap.NewApp()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loadConfig() > %w", err)
	}

	logger := slog.Default()
	components, err := bootstrap.Build(ctx, cfg, bootstrap.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("bootstrap.Build() > %w", err)
	}
	app.OnShutdown(func(ctx context.Context) error {
		return components.Close()
	})

	components.Tasks.Start(context.WithoutCancel(ctx))
	app.OnShutdown(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.Tasks.Timeout)
		defer cancel()
		return components.Tasks.Stop(ctx)
	})

	if err := components.Scheduler.Start(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(fmt.Errorf("scheduler.Start() > %w", err), app.Shutdown(ctx))
	}
	app.OnShutdown(func(ctx context.Context) error {
		components.Scheduler.Stop()
		return nil
	})

	handler := server.NewReadingHandler(components.Service, identity.NewHeaderProvider(cfg.Server.UserHeader), logger)
	mux := http.NewServeMux()
	mux.Handle("/"+server.ServiceName+"/", handler.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := components.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.CORS(h2c.NewHandler(mux, &http2.Server{}), cfg.Server.CORS.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.OnShutdown(srv.Shutdown)

	return app.Run(ctx, func(ctx context.Context) error {
		logger.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
}

func loadConfig() (*config.Config, error) {
	loader, err := config.NewConfigLoader(configFile)
	if err != nil {
		return nil, fmt.Errorf("config.NewConfigLoader() > %w", err)
	}
	return loader.Load()
}
