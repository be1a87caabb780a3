package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/jonathan/content-runs/internal/config"
	"github.com/jonathan/content-runs/internal/stages"
	"github.com/spf13/cobra"
)

var stagesJSON bool

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Print the stage catalog",
	Long:  `Print every tracked stage with its order and the engine node it maps from.`,
	RunE:  runStages,
}

func init() {
	stagesCmd.Flags().BoolVar(&stagesJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(stagesCmd)
}

func runStages(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	catalog, err := stages.Load(cfg.Stages.CatalogPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if stagesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(catalog.All())
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ORDER\tSTAGE\tNODE")
	for _, def := range catalog.All() {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\n", def.Order, def.Name, def.Node)
	}
	return tw.Flush()
}
