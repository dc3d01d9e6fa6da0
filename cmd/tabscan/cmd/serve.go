package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/tabscan/internal/config"
	"github.com/MeKo-Tech/tabscan/internal/server"
	"github.com/MeKo-Tech/tabscan/internal/version"
)

// serveCmd runs the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP extraction server",
	Long: `Start an HTTP server that accepts PDF uploads and runs them as jobs.

Endpoints:
  POST   /jobs              upload a PDF (field "file"); sync=true waits for the result
  GET    /jobs              list jobs
  GET    /jobs/{id}         job status and result
  DELETE /jobs/{id}         cancel a job
  GET    /jobs/{id}/result  download the table (format=xlsx, csv or json)
  GET    /jobs/{id}/events  websocket progress stream
  GET    /health            health check
  GET    /metrics           Prometheus metrics

Examples:
  tabscan serve
  tabscan serve --host 0.0.0.0 --port 9000 --rate-limit-enabled`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addServeFlags(serveCmd)
}

func addServeFlags(c *cobra.Command) {
	c.Flags().StringP("host", "H", "localhost", "server host")
	c.Flags().IntP("port", "p", 8080, "server port")
	c.Flags().String("cors-origin", "*", "CORS allowed origins")
	c.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	c.Flags().String("upload-dir", "", "directory holding uploads while their job runs")
	c.Flags().Duration("shutdown-timeout", 10*time.Second, "time allowed for running jobs on shutdown")
	c.Flags().Int("max-concurrent-jobs", 2, "jobs processed at once")
	c.Flags().Int("queue-depth", 8, "jobs waiting beyond the running ones")
	// Rate limiting
	c.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	c.Flags().Int("requests-per-minute", 30, "maximum uploads per minute per client")
	c.Flags().Int("requests-per-hour", 500, "maximum uploads per hour per client")
	c.Flags().Int("max-requests-per-day", 2000, "maximum uploads per day per client")
	c.Flags().Int64("max-data-per-day", 2048, "maximum upload volume per day per client (MB)")
}

// applyServeFlags lets explicitly set flags override the configuration.
func applyServeFlags(cfg *config.Config, cmd *cobra.Command) {
	flags := cmd.Flags()
	s := &cfg.Server
	if flags.Changed("host") {
		s.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		s.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		s.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-upload-size") {
		s.MaxUploadMB, _ = flags.GetInt("max-upload-size")
	}
	if flags.Changed("upload-dir") {
		s.UploadDir, _ = flags.GetString("upload-dir")
	}
	if flags.Changed("shutdown-timeout") {
		s.ShutdownTimeout, _ = flags.GetDuration("shutdown-timeout")
	}
	if flags.Changed("max-concurrent-jobs") {
		cfg.Jobs.MaxConcurrentJobs, _ = flags.GetInt("max-concurrent-jobs")
	}
	if flags.Changed("queue-depth") {
		cfg.Jobs.QueueDepth, _ = flags.GetInt("queue-depth")
	}
	rl := &s.RateLimit
	if flags.Changed("rate-limit-enabled") {
		rl.Enabled, _ = flags.GetBool("rate-limit-enabled")
	}
	if flags.Changed("requests-per-minute") {
		rl.RequestsPerMinute, _ = flags.GetInt("requests-per-minute")
	}
	if flags.Changed("requests-per-hour") {
		rl.RequestsPerHour, _ = flags.GetInt("requests-per-hour")
	}
	if flags.Changed("max-requests-per-day") {
		rl.MaxRequestsPerDay, _ = flags.GetInt("max-requests-per-day")
	}
	if flags.Changed("max-data-per-day") {
		rl.MaxDataPerDayMB, _ = flags.GetInt64("max-data-per-day")
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := getConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cfg, cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid server settings: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := newManager(cfg, logger)

	var limiter *server.RateLimiter
	if rl := cfg.Server.RateLimit; rl.Enabled {
		limiter = server.NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay, rl.MaxDataPerDayMB<<20)
	}

	// Upload cleanup outlives the signal context so shutdown can finish it.
	srv, err := server.NewServer(context.WithoutCancel(ctx), m, server.Config{
		CORSOrigin:  cfg.Server.CORSOrigin,
		MaxUploadMB: int64(cfg.Server.MaxUploadMB),
		UploadDir:   cfg.Server.UploadDir,
		Sink:        cfg.ToSinkOptions(),
		RateLimiter: limiter,
		Logger:      logger,
		Version:     version.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server.starting", "addr", httpServer.Addr, "rate_limit", limiter != nil)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			_ = m.Shutdown(context.Background())
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("server.shutdown.signal")
	}

	logger.Info("server.shutdown.start", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Websocket streams are hijacked and end once their jobs finish below.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server.shutdown.http", "error", err)
	}
	if err := m.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server.shutdown.jobs", "error", err)
	}
	logger.Info("server.shutdown.complete")
	return nil
}
