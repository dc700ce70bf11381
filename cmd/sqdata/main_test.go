package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/liliang-cn/sqdata/pkg/algorithm"
	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"config", configError{errors.New("bad yaml")}, exitConfig},
		{"not found", fmt.Errorf("x: %w", core.ErrDatasetNotFound), exitNotFound},
		{"missing file", fmt.Errorf("open: %w", os.ErrNotExist), exitNotFound},
		{"invalid", core.WrapError("add", core.ErrInvalidArgument), exitInput},
		{"kind", fmt.Errorf("%w", core.ErrKindMismatch), exitInput},
		{"not compatible", fmt.Errorf("%w", algorithm.ErrNotCompatible), exitInput},
		{"run failed", runFailed{errors.New("diverged")}, exitFailed},
		{"run failed on bad input", runFailed{core.ErrInvalidArgument}, exitInput},
		{"closed", core.WrapError("get", core.ErrStoreClosed), exitDatabase},
		{"store", core.WrapError("query", errors.New("disk I/O error")), exitDatabase},
		{"other", errors.New("boom"), exitGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{
		"dampingFactor=0.9",
		"maxIterations=50",
		"inPlace=true",
		"columns=[a, b]",
		"label=hello world",
		"empty=",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.9, params["dampingFactor"])
	assert.Equal(t, 50, params["maxIterations"])
	assert.Equal(t, true, params["inPlace"])
	assert.Equal(t, []any{"a", "b"}, params["columns"])
	assert.Equal(t, "hello world", params["label"])
	assert.Equal(t, "", params["empty"])

	_, err = parseParams([]string{"novalue"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = parseParams([]string{"=1"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestLoadConfigFlags(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "sqdata.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("path: from-config.db\nlog_level: error\n"), 0o644))

	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().StringVarP(&dbPath, "db", "d", "sqdata.db", "")
		cmd.Flags().StringVarP(&configPath, "config", "c", "", "")
		cmd.Flags().StringVar(&logLevel, "log-level", "warn", "")
		return cmd
	}

	cmd := newCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--config", cfgFile}))
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from-config.db", cfg.Path)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.NotNil(t, cfg.Logger)

	cmd = newCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--config", cfgFile, "--db", "flag.db", "--log-level", "debug"}))
	cfg, err = loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "flag.db", cfg.Path)
	assert.Equal(t, "debug", cfg.LogLevel)

	cmd = newCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--log-level", "chatty"}))
	_, err = loadConfig(cmd)
	assert.Equal(t, exitConfig, exitCode(err))

	cmd = newCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--config", filepath.Join(dir, "missing.yaml")}))
	_, err = loadConfig(cmd)
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestCommandsEndToEnd(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "cli.db")
	csv := filepath.Join(dir, "scores.csv")
	require.NoError(t, os.WriteFile(csv, []byte("name,score\na,1\nb,2\nc,3\n"), 0o644))

	run := func(args ...string) error {
		configPath, logLevel, noColor = "", "warn", true
		rootCmd.SetArgs(append([]string{"--db", db, "--no-color"}, args...))
		return rootCmd.Execute()
	}

	require.NoError(t, run("import", csv))
	require.NoError(t, run("list"))
	require.NoError(t, run("info", "scores"))
	require.NoError(t, run("stats", "scores"))
	require.NoError(t, run("query", "scores", "--where", "score >= 2", "--count"))
	require.NoError(t, run("run", "MinMaxNormalize", "scores", "--output", "scaled"))
	require.NoError(t, run("export", "scaled", filepath.Join(dir, "scaled.csv")))

	err := run("run", "PageRank", "scores")
	assert.Equal(t, exitInput, exitCode(err))

	err = run("info", "missing")
	assert.Equal(t, exitNotFound, exitCode(err))

	require.NoError(t, run("delete", "scaled"))
	err = run("delete", "scaled")
	assert.Equal(t, exitNotFound, exitCode(err))
	require.NoError(t, run("compact"))

	_, err = os.Stat(filepath.Join(dir, "scaled.csv"))
	assert.NoError(t, err)
}
