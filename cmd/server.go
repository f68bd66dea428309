package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/denysvitali/sharedfiles-go/pkg/config"
	"github.com/denysvitali/sharedfiles-go/pkg/server"
	"github.com/denysvitali/sharedfiles-go/pkg/telemetry"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the file manager web server",
	Long: `Start the HTTP server that lists, uploads, downloads and deletes files
below the shared root.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Address to listen on")
	serveCmd.Flags().IntP("port", "p", config.DefaultPort, "Port to listen on")
	serveCmd.Flags().Int64("max-upload-memory-mb", 32, "Upload bytes kept in memory before spilling to disk, in MiB")
	serveCmd.Flags().Int("archive-max-entries", 0, "Maximum files in a folder download (0 means unlimited)")
	serveCmd.Flags().Int64("archive-max-bytes", 0, "Maximum uncompressed bytes in a folder download (0 means unlimited)")
	serveCmd.Flags().Int("archive-compression-level", -1, "Deflate level for folder downloads (-2 to 9)")
	serveCmd.Flags().Bool("enable-telemetry", false, "Enable OpenTelemetry tracing")
	serveCmd.Flags().String("otel-endpoint", "", "OpenTelemetry endpoint (if empty, uses auto-export)")
	serveCmd.Flags().Bool("enable-metrics", true, "Expose Prometheus metrics")
	serveCmd.Flags().String("metrics-path", "/metrics", "Path of the Prometheus endpoint")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.max_upload_memory_mb", serveCmd.Flags().Lookup("max-upload-memory-mb"))
	_ = viper.BindPFlag("archive.max_entries", serveCmd.Flags().Lookup("archive-max-entries"))
	_ = viper.BindPFlag("archive.max_bytes", serveCmd.Flags().Lookup("archive-max-bytes"))
	_ = viper.BindPFlag("archive.compression_level", serveCmd.Flags().Lookup("archive-compression-level"))
	_ = viper.BindPFlag("telemetry.enabled", serveCmd.Flags().Lookup("enable-telemetry"))
	_ = viper.BindPFlag("telemetry.endpoint", serveCmd.Flags().Lookup("otel-endpoint"))
	_ = viper.BindPFlag("metrics.enabled", serveCmd.Flags().Lookup("enable-metrics"))
	_ = viper.BindPFlag("metrics.path", serveCmd.Flags().Lookup("metrics-path"))
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := GetLogger()
	logger.Info("Starting sharedfiles server")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Telemetry.Enabled {
		logger.Info("Initializing OpenTelemetry")
		cleanup, err := telemetry.Initialize(cfg.Telemetry.Endpoint, Version, logger)
		if err != nil {
			logger.Warnf("Failed to initialize telemetry: %v", err)
		} else {
			defer cleanup()
		}
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case sig := <-interrupt:
		logger.Infof("Received signal %v, shutting down...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
			return err
		}

		logger.Info("Server stopped gracefully")
		return nil
	}
}
