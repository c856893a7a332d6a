package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/JulianFP/project-W-runner/internal/log"
	"github.com/JulianFP/project-W-runner/internal/model"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

const configFile = "config.yaml"

var (
	userConfigPath string // /default/config/path/project-W-runner on given OS
	configPath     string // actual config file used (if loaded)
	config         *model.Config
	logger                   = log.Discard()
	logCloser      io.Closer = io.NopCloser(nil)

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "project-W-runner")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configFile+" in "+userConfigPath+" or in current directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("runner failed", "error", err)
	}
	_ = logCloser.Close()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "runner",
	Short:        "project-W runner transcribing jobs assigned by a project-W backend",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "run registers the runner at the backend and processes assigned jobs until interrupted",
	PreRunE: initRunner,
	RunE:    doRun,
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "config prints the effective configuration with secrets redacted",
	PreRunE: initRunner,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "# config: %s\n", configPath)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(config.Redacted()); err != nil {
			return fmt.Errorf("encoding configuration: %w", err)
		}
		return enc.Close()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a runner",
	Run: func(cmd *cobra.Command, _ []string) {
		info := model.ReadBuildInfo()
		w := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(w, "runner: %s\n", info.Version)
		_, _ = fmt.Fprintf(w, "go:     %s\n", info.GoVersion)
		_, _ = fmt.Fprintf(w, "commit: %s\n", info.Revision)
		if info.Time != "" {
			_, _ = fmt.Fprintf(w, "date:   %s\n", info.Time)
		}
		_, _ = fmt.Fprintf(w, "dirty:  %t\n", info.Dirty)
		_, _ = fmt.Fprintf(w, "source: %s\n", model.SourceCodeURL)
	},
}

func doRun(cmd *cobra.Command, _ []string) error {
	attrs := slog.Group("runner",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx := log.ContextAttrs(cmd.Context(), attrs)

	supervisor, err := newSupervisor(*config, logger)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting runner", "name", config.RunnerAttributes.Name, "backend", config.BackendSettings.URL)
	err = supervisor.Do(ctx)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "runner stopped")
	return nil
}

func initRunner(_ *cobra.Command, _ []string) error {
	var err error
	configPath, err = lookupConfig()
	if err != nil {
		return err
	}

	f, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	config, err = model.LoadConfig(f)
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.Error("invalid config", d.Attr("detail"))
		}
		return fmt.Errorf("parsing config %s: %w", configPath, err)
	}

	// --verbose has a precedence over config file
	verbose := flagVerbose || config.Verbose()

	w, closer, err := log.Open(config.LogTarget())
	if err != nil {
		return err
	}
	logCloser = closer
	logger = log.New(w, verbose)
	slog.SetDefault(logger)

	logger.Debug("runner config", "configPath", configPath)
	logger.Debug("runner config", "config", config.Redacted())
	return nil
}

// lookupConfig returns the first of $RUNNERCONFIG, --config,
// <user config dir>/project-W-runner/config.yaml and ./config.yaml.
func lookupConfig() (string, error) {
	if envConfig, ok := os.LookupEnv("RUNNERCONFIG"); ok {
		return envConfig, nil
	}
	if flagConfigFilePath != "" {
		return flagConfigFilePath, nil
	}
	candidates := []string{
		filepath.Join(userConfigPath, configFile),
		configFile,
	}
	for _, path := range candidates {
		if exists(path) {
			return path, nil
		}
	}
	return "", errors.New("no config file found, looked at " + fmt.Sprint(candidates))
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
