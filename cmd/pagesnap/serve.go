package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/pagesnap/internal/capture"
	"github.com/Rorqualx/pagesnap/internal/config"
	"github.com/Rorqualx/pagesnap/internal/handlers"
	"github.com/Rorqualx/pagesnap/internal/metrics"
	"github.com/Rorqualx/pagesnap/pkg/version"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the screenshot HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd, flags, os.Stdout)
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			return serve(cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host (env HOST)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (env PORT)")
	return cmd
}

func serve(cfg *config.Config) error {
	printBanner()

	log.Info().Msg("Initializing capture service...")
	svc, err := capture.NewService(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize capture service")
		return err
	}

	handler := handlers.NewRouter(handlers.New(svc, cfg), cfg)

	// Long enough for a capture that waits the full acquire timeout, starts
	// a browser and then runs to the capture deadline.
	requestBudget := cfg.AcquireTimeout + cfg.LaunchTimeout + cfg.CaptureTimeout + 10*time.Second
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      requestBudget,
		IdleTimeout:       120 * time.Second,
	}

	stopCh := make(chan struct{})

	var metricsServer *http.Server
	if cfg.PrometheusEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		go metrics.StartMemoryCollector(10*time.Second, stopCh)

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.PrometheusPort),
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		go func() {
			log.Info().Int("port", cfg.PrometheusPort).Msg("Prometheus metrics server started")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", cfg.Addr()).
			Int("max_browsers", cfg.MaxBrowsers).
			Bool("block_trackers", cfg.BlockTrackers).
			Bool("captcha_solver", cfg.HasCaptchaSolver()).
			Bool("metrics_enabled", cfg.PrometheusEnabled).
			Msg("pagesnap is ready to accept requests")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-quit:
	case runErr = <-serverErr:
		log.Error().Err(runErr).Msg("Server failed")
	}

	log.Info().Msg("Shutting down...")
	close(stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}
	if err := svc.Close(); err != nil {
		log.Error().Err(err).Msg("Capture service close error")
	}

	log.Info().Msg("Shutdown complete")
	return runErr
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
                                                  
 _ __   __ _  __ _  ___  ___ _ __   __ _ _ __  
| '_ \ / _' |/ _' |/ _ \/ __| '_ \ / _' | '_ \ 
| |_) | (_| | (_| |  __/\__ \ | | | (_| | |_) |
| .__/ \__,_|\__, |\___||___/_| |_|\__,_| .__/ 
|_|          |___/                      |_|    
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting pagesnap")
}
