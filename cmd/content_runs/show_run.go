package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jonathan/content-runs/internal/config"
	"github.com/jonathan/content-runs/internal/observability"
	"github.com/jonathan/content-runs/internal/types"
	"github.com/spf13/cobra"
)

var showRunID string

var showRunCmd = &cobra.Command{
	Use:   "show-run",
	Short: "Print a run and its stages",
	Long:  `Print the status, progress and per-stage state of a run straight from the database.`,
	RunE:  runShowRun,
}

func init() {
	showRunCmd.Flags().StringVar(&showRunID, "run-id", "", "ID of the run (required)")
	_ = showRunCmd.MarkFlagRequired("run-id")
	rootCmd.AddCommand(showRunCmd)
}

func runShowRun(cmd *cobra.Command, _ []string) error {
	runID, err := uuid.Parse(showRunID)
	if err != nil {
		return fmt.Errorf("invalid --run-id: %w", err)
	}

	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", runID)
	}
	req, err := store.GetContentRequest(ctx, run.ContentRequestID)
	if err != nil {
		return err
	}
	stageList, err := store.ListStages(ctx, runID)
	if err != nil {
		return err
	}

	observability.NewPrinter(cmd.OutOrStdout()).PrintRunDetail(&types.RunDetail{
		Run:     run,
		Request: req,
		Stages:  stageList,
	})
	return nil
}
