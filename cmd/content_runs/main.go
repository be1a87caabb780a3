// Package main provides the entry point for the content run tracking service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "content_runs",
	Short: "Content pipeline run tracking service",
	Long:  "Tracks content generation runs stage by stage, relays progress to live clients and polls the external workflow engine for execution state.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "content-runs.toml", "Path to the TOML config file")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
