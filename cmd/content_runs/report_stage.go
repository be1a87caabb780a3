package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/jonathan/content-runs/internal/config"
	"github.com/jonathan/content-runs/internal/realtime"
	"github.com/jonathan/content-runs/internal/schemas"
	"github.com/jonathan/content-runs/internal/stages"
	"github.com/jonathan/content-runs/internal/tracking"
	"github.com/jonathan/content-runs/internal/types"
	"github.com/spf13/cobra"
)

var reportFile string

var reportStageCmd = &cobra.Command{
	Use:   "report-stage",
	Short: "Ingest one stage report from a JSON file",
	Long: `Validate a stage report against the stage report schema and ingest it the
same way the update-stage endpoint does. Use --file - to read from stdin.`,
	RunE: runReportStage,
}

func init() {
	reportStageCmd.Flags().StringVarP(&reportFile, "file", "f", "", "Path to the stage report JSON (required)")
	_ = reportStageCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(reportStageCmd)
}

func readReport(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stage report: %w", err)
	}
	return data, nil
}

func runReportStage(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	data, err := readReport(cmd, reportFile)
	if err != nil {
		return err
	}
	if err := schemas.Validate(schemas.StageReport, data); err != nil {
		var ve *schemas.ValidationError
		if errors.As(err, &ve) {
			for _, fe := range ve.Errors {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", fe.Field, fe.Message)
			}
		}
		return err
	}

	var report types.StageReport
	if err := json.Unmarshal(data, &report); err != nil {
		return fmt.Errorf("failed to decode stage report: %w", err)
	}
	in, err := tracking.StageInputFromReport(&report)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	catalog, err := stages.Load(cfg.Stages.CatalogPath)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []tracking.Option{
		tracking.WithTotalStages(catalog.Total()),
		tracking.WithPublishTimeout(cfg.Relay.PublishTimeout.Duration),
	}
	if cfg.Relay.RedisURL != "" {
		hub := realtime.NewHub()
		defer hub.Close()
		broker, err := realtime.NewRedisBroker(ctx, cfg.Relay.RedisURL, cfg.Relay.Prefix, hub)
		if err != nil {
			return err
		}
		defer func() { _ = broker.Close() }()
		opts = append(opts, tracking.WithNotifier(broker))
	} else {
		log.Printf("[relay] REDIS_URL not set, live clients of other processes will not see this update")
	}

	stage, err := tracking.New(store, opts...).ReportStage(ctx, in)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(stage)
}
