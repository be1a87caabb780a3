package main

import (
	"fmt"
	"strings"

	"github.com/jonathan/content-runs/internal/config"
	"github.com/jonathan/content-runs/internal/types"
	"github.com/spf13/cobra"
)

var (
	promoteEmail string
	promoteRole  string
)

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Change a user's role",
	Long:  `Set the role of an existing user. Admins can read and control every run.`,
	RunE:  runPromote,
}

func init() {
	promoteCmd.Flags().StringVar(&promoteEmail, "email", "", "Email of the user (required)")
	promoteCmd.Flags().StringVar(&promoteRole, "role", string(types.RoleAdmin), "Role to assign (user or admin)")
	_ = promoteCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(promoteCmd)
}

func runPromote(cmd *cobra.Command, _ []string) error {
	role := types.Role(promoteRole)
	if role != types.RoleAdmin && role != types.RoleUser {
		return fmt.Errorf("invalid role %q: must be %s or %s", promoteRole, types.RoleUser, types.RoleAdmin)
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

	email := strings.ToLower(strings.TrimSpace(promoteEmail))
	if err := store.SetUserRole(ctx, email, role); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", email, role)
	return nil
}
