package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresmejia3/trafficvision/internal/analyzer"
	"github.com/andresmejia3/trafficvision/internal/config"
	"github.com/andresmejia3/trafficvision/internal/errs"
	"github.com/andresmejia3/trafficvision/internal/store"
	"github.com/andresmejia3/trafficvision/internal/utils"
	"github.com/cyclopcam/logs"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the analyze and scan commands
type Options struct {
	InputPath     string
	OutputPath    string
	CSVPath       string
	Confidence    float64
	IoU           float64
	SampleEvery   int
	MaxFrames     int
	WorkerTimeout string
	ModelPath     string
	Persist       bool
	RunName       string
	KafkaBrokers  []string
	KafkaTopic    string
	MetricsAddr   string
	JSON          bool
}

func (o Options) params() analyzer.Params {
	return analyzer.Params{Confidence: o.Confidence, IoU: o.IoU}
}

// dbAnnotation marks commands that cannot run without the database.
const dbAnnotation = "requires-db"

var (
	// DB is the database connection shared by subcommands. It is nil unless a
	// command needs it.
	DB *store.Store
	// dbURL is the connection string
	dbURL string
	// envFile is the optional .env file loaded before anything else
	envFile string
	// cfg is the environment-derived configuration, loaded before every command
	cfg config.Config
	// logger carries diagnostics; user-facing progress goes straight to stderr
	logger logs.Log
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "trafficvision",
	Short:   "Vehicle detection and congestion metrics for road traffic footage",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(envFile); err != nil {
			return err
		}
		if dbURL == "" {
			dbURL = cfg.DatabaseURL
		}
		if logger == nil {
			if logger, err = logs.NewLog(); err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
		}
		if cmd.Annotations[dbAnnotation] == "true" {
			return openDB(cmd.Context())
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// The command context may already be cancelled by Ctrl+C.
			DB.Close(context.Background())
			DB = nil
		}
	},
}

// openDB connects to PostgreSQL once per process.
func openDB(ctx context.Context) error {
	if DB != nil {
		return nil
	}
	var err error
	DB, err = store.New(ctx, dbURL)
	if err != nil {
		return errs.Config("failed to connect to database", err)
	}
	return nil
}

// workerTimeout resolves the flag value, falling back to the environment.
func workerTimeout(flag string) (time.Duration, error) {
	if flag == "" {
		flag = cfg.WorkerTimeout
	}
	d, err := time.ParseDuration(flag)
	if err != nil {
		return 0, errs.Config("invalid worker timeout format (use '30s', '500ms')", err)
	}
	return d, nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := rootCmd.ExecuteContext(ctx)
	if logger != nil {
		logger.Close()
	}
	if err != nil {
		var shown *shownError
		if !errors.As(err, &shown) {
			utils.ShowError("Command failed", err, nil)
		}
		os.Exit(1)
	}
}

// shownError marks an error that has already been displayed to the user.
type shownError struct{ err error }

func (e *shownError) Error() string { return e.err.Error() }
func (e *shownError) Unwrap() error { return e.err }

// fail displays err with context and the child process logs, if any, and
// returns it marked as shown.
func fail(context string, err error, s *utils.SafeCommand) error {
	utils.ShowError(context, err, s)
	return &shownError{err: err}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: from DATABASE_URL or POSTGRES_*)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading configuration")
	rootCmd.SilenceErrors = true
}
