package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eth-cscs/firecrest/pkg/api"
	"github.com/eth-cscs/firecrest/pkg/config"
	"github.com/eth-cscs/firecrest/pkg/gateway"
	"github.com/eth-cscs/firecrest/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "firecrest",
	Short: "FirecREST - REST gateway to HPC clusters",
	Long: `FirecREST exposes HPC clusters over HTTP: job submission and
control through the cluster scheduler, filesystem operations executed
over SSH as the calling user, and bulk data transfer staged through
object storage.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"FirecREST version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Load the YAML configuration, assemble the per-cluster backends
and serve the REST API until SIGINT or SIGTERM.

The configuration file is taken from --config, or from the
YAML_CONFIG_FILE / INPUT_YAML_CONFIG_FILE environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if configPath == "" {
			configPath = os.Getenv("YAML_CONFIG_FILE")
		}
		if configPath == "" {
			configPath = os.Getenv("INPUT_YAML_CONFIG_FILE")
		}
		if configPath == "" {
			return fmt.Errorf("no configuration file: set --config or YAML_CONFIG_FILE")
		}

		addr, _ := cmd.Flags().GetString("listen")
		return serve(configPath, addr)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to the YAML configuration file")
	serveCmd.Flags().String("listen", ":8080", "Address to serve the API on")
}

func serve(configPath, addr string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := log.InfoLevel
	if settings.AppDebug {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level, JSONOutput: !settings.AppDebug})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	g, err := gateway.New(ctx, settings)
	cancel()
	if err != nil {
		return err
	}
	g.Start()

	server := &http.Server{
		Addr:    addr,
		Handler: api.NewServer(g, Version).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithComponent("server").Info().Str("addr", addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithComponent("server").Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		g.Shutdown()
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithComponent("server").Warn().Err(err).Msg("forced server close")
	}
	g.Shutdown()
	return nil
}
