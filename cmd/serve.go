package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/schoolmap/internal/config"
	"github.com/sells-group/schoolmap/internal/monitoring"
	"github.com/sells-group/schoolmap/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEngine(ctx, config.ModeServe)
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store, env.Cache)
		interval := time.Duration(cfg.Server.MetricsIntervalSecs) * time.Second
		if interval <= 0 {
			interval = monitoring.DefaultCheckInterval
		}
		go monitoring.NewChecker(collector, env.Metrics, interval).Run(ctx)

		// Warm the dataset so the first request does not pay for the load.
		if data, err := env.Engine.Dataset(ctx); err != nil {
			zap.L().Warn("initial dataset load failed", zap.Error(err))
		} else {
			zap.L().Info("dataset loaded",
				zap.Int64("version", data.Version),
				zap.Int("points", len(data.Points)),
				zap.Int("dropped", data.Dropped),
			)
		}

		srv := server.New(env.Engine, collector, env.Metrics, server.Config{
			Port:           cfg.Server.Port,
			RateLimit:      cfg.Server.RateLimit,
			RateBurst:      cfg.Server.RateBurst,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second,
		})
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
