package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/liliang-cn/sqdata/pkg/algorithm"
	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/sqdata"
	"github.com/spf13/cobra"
)

var (
	dbPath     string
	configPath string
	logLevel   string
	noColor    bool
)

// Exit codes by error class
const (
	exitOK       = 0
	exitGeneric  = 1
	exitConfig   = 2
	exitDatabase = 3
	exitInput    = 4
	exitNotFound = 6
	exitFailed   = 7
)

var rootCmd = &cobra.Command{
	Use:   "sqdata",
	Short: "CLI tool for managing an embedded tabular and graph data engine",
	Long: `A command-line interface for importing, querying and analysing tabular
and graph datasets stored in a single SQLite file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

// configError marks failures to read or apply the configuration
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

// runFailed marks an algorithm or pipeline that ran and failed
type runFailed struct{ err error }

func (e runFailed) Error() string { return e.err.Error() }
func (e runFailed) Unwrap() error { return e.err }

// loadConfig reads --config when given and applies the global flags on top
func loadConfig(cmd *cobra.Command) (sqdata.Config, error) {
	cfg := sqdata.DefaultConfig(dbPath)
	if configPath != "" {
		loaded, err := sqdata.LoadConfig(configPath)
		if err != nil {
			return cfg, configError{err}
		}
		cfg = loaded
		if cfg.Path == "" || cmd.Flags().Changed("db") {
			cfg.Path = dbPath
		}
	}
	if cmd.Flags().Changed("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel = logLevel
	}
	level, err := core.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return cfg, configError{err}
	}
	cfg.Logger = core.NewLogger(os.Stderr, level)
	return cfg, nil
}

func openDB(cmd *cobra.Command) (*sqdata.DB, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, configError{fmt.Errorf("%w: database path not specified", core.ErrInvalidArgument)}
	}
	db, err := sqdata.Open(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// exitCode maps an error to the process exit status
func exitCode(err error) int {
	var cfgErr configError
	var failed runFailed
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &cfgErr):
		return exitConfig
	case errors.Is(err, core.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return exitNotFound
	case errors.Is(err, core.ErrInvalidArgument), errors.Is(err, core.ErrInvalidName),
		errors.Is(err, core.ErrKindMismatch), errors.Is(err, core.ErrAlreadyExists),
		errors.Is(err, core.ErrLengthMismatch), errors.Is(err, algorithm.ErrNotCompatible):
		return exitInput
	case errors.As(err, &failed):
		return exitFailed
	case errors.Is(err, core.ErrStoreClosed):
		return exitDatabase
	}
	var storeErr *core.StoreError
	if errors.As(err, &storeErr) {
		return exitDatabase
	}
	return exitGeneric
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "sqdata.db", "Database file path")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(importCmd, exportCmd, listCmd, infoCmd, statsCmd, deleteCmd, compactCmd,
		queryCmd, runCmd, pipelineCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(exitCode(err))
	}
}
