package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wp2s3/internal/app"
	"wp2s3/internal/config"
	"wp2s3/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "wp2s3",
	Short: "Migrate videos referenced by WordPress posts to S3",
	Long:  `Fetches posts from a WordPress API, extracts YouTube video references, and streams the videos into an S3 bucket using the post ID as the object name. Migrated posts are tracked in a durable ledger so nothing is transferred twice.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one migration pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			maxRecords, _ := cmd.Flags().GetInt("max-records")
			return a.Run(ctx, maxRecords)
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the control surface HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Serve(ctx)
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check ledgered records against the object store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Verify(ctx)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")

	// Source flags
	rootCmd.PersistentFlags().String("api-url", "", "WordPress posts API endpoint")

	// Store flags
	rootCmd.PersistentFlags().String("endpoint", "", "S3 endpoint")
	rootCmd.PersistentFlags().String("region", "", "S3 region")
	rootCmd.PersistentFlags().String("access-key", "", "S3 access key")
	rootCmd.PersistentFlags().String("secret-key", "", "S3 secret key")
	rootCmd.PersistentFlags().Bool("secure", true, "Use HTTPS for the store")
	rootCmd.PersistentFlags().String("bucket", "", "Bucket name (required)")

	// Migration flags
	rootCmd.PersistentFlags().String("key-prefix", "videos/", "Object key prefix")
	rootCmd.PersistentFlags().String("ledger", "./ledger.db", "Ledger database file")
	rootCmd.PersistentFlags().String("ytdlp-path", "yt-dlp", "Path to the yt-dlp binary")
	rootCmd.PersistentFlags().String("cookies-file", "", "Cookies file passed to yt-dlp")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug/info/warn/error)")

	runCmd.Flags().Int("max-records", 0, "Maximum records to process (0 = all)")
	serveCmd.Flags().String("listen", ":5000", "Control surface listen address")

	rootCmd.AddCommand(runCmd, serveCmd, verifyCmd)
}

// withApp loads configuration, builds the application, and runs fn under a
// signal-cancelled context.
func withApp(cmd *cobra.Command, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	a, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, gracefully stopping...")
		cancel()
	}()

	err = fn(ctx, a)

	if closeErr := a.Close(); closeErr != nil {
		log.Error("Error closing application", zap.Error(closeErr))
	}

	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
