package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"nearminter/internal/config"
	"nearminter/internal/logging"
	"nearminter/internal/ui"
)

var (
	appConfig *config.AppConfig
	logger    hclog.Logger
	logFile   *os.File

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "minter",
	Short: "Mint NFTs on NEAR from the terminal",
	Long: ui.StylePrimary.Render("minter") + " uploads an image and its metadata to IPFS\n" +
		"and mints it through the " + "nft_mint_proxy contract with your NEAR key.",
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  initializeApp,
	PersistentPostRunE: closeApp,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.FormatError(err.Error()))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides MINTER_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(mintCmd)
	rootCmd.AddCommand(walletCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(historyCmd)
}

// initializeApp loads configuration once and opens the log file. Logs go to
// a file because the terminal belongs to the UI.
func initializeApp(cmd *cobra.Command, _ []string) error {
	if configPath != "" {
		if err := os.Setenv("MINTER_CONFIG", configPath); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	appConfig = cfg

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(cfg.StateDir, "minter.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		logger = logging.NewWithOutput("minter", cfg.LogLevel, cmd.ErrOrStderr())
		return nil
	}
	logFile = f
	logger = logging.NewWithOutput("minter", cfg.LogLevel, f)
	return nil
}

func closeApp(*cobra.Command, []string) error {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	return nil
}

func getContext() context.Context {
	return context.Background()
}
