package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"proxyharvest/internal/app"
	"proxyharvest/internal/shared/config"
	"proxyharvest/internal/shared/logger"
	"proxyharvest/internal/shared/types"
)

var (
	configPath string
	debugFlag  bool
	cfg        *types.Config
)

var rootCmd = &cobra.Command{
	Use:           "harvest",
	Short:         "Collect, validate and publish public proxy lists",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Default()
		if _, err := os.Stat(configPath); err == nil {
			if err := config.LoadIni(cfg, configPath); err != nil {
				return fmt.Errorf("failed to load config file '%s': %w", configPath, err)
			}
		} else if cmd.Flags().Changed("config") {
			return fmt.Errorf("config file '%s' not found: %w", configPath, err)
		} else {
			config.ApplyEnv(cfg)
		}

		if debugFlag {
			cfg.LogConf.Level = "debug"
		}
		return logger.Init(cfg.LogConf)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one collect and validate pass and write the output files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cfg, debugFlag)
		if err != nil {
			return err
		}
		defer a.Stop()

		res, err := a.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info().
			Str("run_id", res.RunID).
			Int("candidates", res.Candidates).
			Int("records", len(res.Records)).
			Str("output_dir", cfg.OutputDir).
			Msg("Run completed.")
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Validate every source and write the per-source statistics report",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cfg, debugFlag)
		if err != nil {
			return err
		}
		defer a.Stop()

		_, err = a.Stats(cmd.Context())
		return err
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run on a schedule and expose the status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cfg, debugFlag)
		if err != nil {
			return err
		}
		return a.Serve(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/harvest.ini", "Path to harvest.ini")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Use standard fmt, the logger may not be initialized.
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		stop()
		os.Exit(1)
	}
}
