package main

import (
	"fmt"
	"os"

	"github.com/jonathan/content-runs/internal/config"
	"github.com/jonathan/content-runs/internal/llm"
	"github.com/jonathan/content-runs/internal/observability"
	"github.com/jonathan/content-runs/internal/scoring"
	"github.com/spf13/cobra"
)

var (
	scoreFile  string
	scoreStage string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score stage output with the LLM",
	Long:  `Rate a piece of stage output from 0 to 100 and list improvement suggestions. HTML is reduced to its text first.`,
	RunE:  runScore,
}

func init() {
	scoreCmd.Flags().StringVarP(&scoreFile, "file", "f", "", "Path to the content to score (required)")
	scoreCmd.Flags().StringVar(&scoreStage, "stage", "", "Stage that produced the content")
	_ = scoreCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	data, err := os.ReadFile(scoreFile)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	content := string(data)

	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	client, err := llm.NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	result, err := scoring.New(client).Score(ctx, content, scoreStage)
	if err != nil {
		return err
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintScore(scoreStage, result)
	return nil
}
