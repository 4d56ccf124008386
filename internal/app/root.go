package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/idreset/internal/config"
	"github.com/blackwell-systems/idreset/internal/logging"
)

var (
	dbPath  string
	cfgFile string
	verbose bool

	// cfg is loaded once per invocation by the root PersistentPreRunE.
	cfg = config.Default()

	// RootCmd is the root command for idreset
	RootCmd = &cobra.Command{
		Use:   "idreset",
		Short: "Reset the device identifiers editors and IDEs keep on disk",
		Long: `idreset finds the identity and telemetry state that JetBrains IDEs and
VS Code style editors store on disk, and resets it.

Identifier files and storage.json keys are replaced with fresh values,
telemetry records are deleted from the editors' SQLite state databases,
and the rewritten files are made read-only so the application cannot put
the old values back. Every file is backed up before it is touched.

Close the editors before running a reset.

Examples:
  # See what would be touched
  idreset scan

  # Show the identifiers currently in use
  idreset status

  # Replace identifiers for every known family
  idreset reset

  # Also delete telemetry records from state databases
  idreset reset --mode replace,delete

  # Put the newest backup of a file back
  idreset undo machineId`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "idreset: reset editor and IDE device identifiers")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Run 'idreset scan' to see what would be reset.")
			fmt.Fprintln(out, "Run 'idreset --help' for the full reference.")
			return nil
		},
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "history database path (default: ~/.idreset/history.db)")
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/idreset/config.yaml)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output and debug logging")

	RootCmd.SuggestionsMinimumDistance = 2

	RootCmd.AddCommand(scanCmd)
	RootCmd.AddCommand(statusCmd)
	RootCmd.AddCommand(resetCmd)
	RootCmd.AddCommand(backupsCmd)
	RootCmd.AddCommand(undoCmd)
	RootCmd.AddCommand(unlockCmd)
	RootCmd.AddCommand(historyCmd)
	RootCmd.AddCommand(doctorCmd)
	RootCmd.AddCommand(watchCmd)
	RootCmd.AddCommand(configCmd)
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// skipConfigLoad marks commands that must run without a readable config
// file.
const skipConfigLoad = "idreset/skip-config-load"

// loadConfig reads configuration and sets up logging. Validation problems
// are logged, not fatal: Validate leaves the config usable.
func loadConfig(cmd *cobra.Command) error {
	if cmd.Annotations[skipConfigLoad] != "" {
		cfg = config.Default()
		logging.Init(cfg.LogFormat, cfg.LogLevel, cmd.ErrOrStderr())
		return nil
	}

	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	problems := loaded.Validate()

	level := loaded.LogLevel
	if verbose {
		level = "debug"
	}
	logging.Init(loaded.LogFormat, level, cmd.ErrOrStderr())
	for _, p := range problems {
		logging.L("config").Warn("config problem", logging.KeyError, p)
	}

	cfg = loaded
	return nil
}

// stateDir returns ~/.idreset, creating it if needed.
func stateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	dir := filepath.Join(home, ".idreset")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create idreset directory: %w", err)
	}
	return dir, nil
}

// getDBPath returns the database path, using the flag value or default
func getDBPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}
