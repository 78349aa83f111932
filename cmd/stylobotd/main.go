// Command stylobotd is a minimal demonstration harness for the
// detection kernel; it is not part of the library's core contract
// (spec §9 supplemented feature: "give the library a runnable
// demonstration harness").
//
// Grounded on the teacher's cobra root-command wiring and the pack's
// godotenv.Load() startup convention (e.g. Generativebots-ocx-backend's
// cmd/test-supabase).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/scottgal/stylobot-sub004/internal/config"
	"github.com/scottgal/stylobot-sub004/internal/dnsenrich"
	"github.com/scottgal/stylobot-sub004/internal/kernel"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "stylobotd",
	Short: "stylobot bot-detection kernel demonstration harness",
	Long: `stylobotd wires the detection kernel behind a tiny net/http
listener so the policy-driven pipeline can be exercised end to end
without embedding it in a real reverse proxy.`,
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, using process environment")
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults applied when empty)")
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var addr string
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP demonstration listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8087", "address to listen on")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9187", "address to serve Prometheus metrics on")
	return cmd
}

func runServe(ctx context.Context, addr, metricsAddr string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resolver := dnsenrich.NewCachingResolver(runCtx, 5*time.Minute)
	engine := kernel.New(cfg, kernel.Deps{Resolver: resolver})
	engine.Start(runCtx)
	defer engine.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/", demoHandler(engine))

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux}

	go func() {
		log.Info().Str("addr", metricsAddr).Msg("serving prometheus metrics")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("serving demonstration listener")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("demo server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Shutdown(shutdownCtx)
	return nil
}
