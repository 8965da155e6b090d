package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	server  string
	verbose bool
)

// Execute runs the CLI
func Execute(version string) error {
	rootCmd := &cobra.Command{
		Use:     "codeproof",
		Short:   "Deployed bytecode verification CLI",
		Long:    `Codeproof checks that a deployed contract's bytecode was produced by compiling a local Foundry artifact.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(newLogger(verbose))
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "project config file (default: codeproof.toml)")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "server URL for remote commands (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline progress to stderr")

	// Add subcommands
	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createRunsCmd())
	rootCmd.AddCommand(createConfigCmd())

	return rootCmd.Execute()
}

// newLogger logs to stderr so that --json output on stdout stays clean.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// getServer returns the server URL from flag, env, project config, global
// config, or the default
func getServer() string {
	var project, global string
	if cfg := loadProjectConfigSilent(); cfg != nil {
		project = cfg.Server
	}
	if cfg := loadGlobalConfigSilent(); cfg != nil {
		global = cfg.Server
	}
	return resolveSetting(server, "CODEPROOF_SERVER", project, global, "http://localhost:8080")
}

// resolveSetting returns the first non-empty value in order of precedence:
// flag, environment variable, project config, global config, default.
func resolveSetting(flag, env, project, global, def string) string {
	if flag != "" {
		return flag
	}
	if env != "" {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	if project != "" {
		return project
	}
	if global != "" {
		return global
	}
	return def
}
