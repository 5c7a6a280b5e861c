/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tubeshelf/accounts/config"
	"github.com/tubeshelf/accounts/internal/logger"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "accounts",
	Short: "User accounts backend",
	Long: `accounts serves registration, login, token refresh and profile
management for user accounts. Usage:

	accounts server
	accounts migrate up
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and installs the process-wide logger.
func setup() (config.Config, *slog.Logger) {
	cfg := config.LoadConfig()
	return cfg, logger.SetupDefault(os.Stdout, cfg.Log.Level, cfg.Log.Format)
}
