package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/redmansion/progression-engine/config"
	"github.com/redmansion/progression-engine/internal/application/command"
	"github.com/redmansion/progression-engine/internal/application/query"
	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/infrastructure/persistence/postgres"
)

// --- Command flags ---
var (
	awardAmount     int64
	awardSource     string
	awardSourceID   string
	awardReason     string
	awardAttributes map[string]int

	completedAt string

	resetEmail string
	resetName  string

	migrateRollback bool
	migrateStatus   bool
)

var (
	awardCmd = &cobra.Command{
		Use:   "award <user-id>",
		Short: "Award XP to a user, at most once per source id",
		Args:  cobra.ExactArgs(1),
		RunE:  runAward,
	}

	completeCmd = &cobra.Command{
		Use:   "complete <user-id>",
		Short: "Record a qualifying completion and update the daily streak",
		Args:  cobra.ExactArgs(1),
		RunE:  runComplete,
	}

	resetCmd = &cobra.Command{
		Use:   "reset <user-id>",
		Short: "Wipe a registered account back to a fresh profile",
		Args:  cobra.ExactArgs(1),
		RunE:  runReset,
	}

	resetGuestCmd = &cobra.Command{
		Use:   "reset-guest <user-id>",
		Short: "Wipe a guest account back to a fresh guest profile",
		Args:  cobra.ExactArgs(1),
		RunE:  runResetGuest,
	}

	profileCmd = &cobra.Command{
		Use:   "profile <user-id>",
		Short: "Show a user's progression profile",
		Args:  cobra.ExactArgs(1),
		RunE:  runProfile,
	}

	welcomeCmd = &cobra.Command{
		Use:   "welcome <user-id>",
		Short: "Grant the one-time welcome bonus",
		Args:  cobra.ExactArgs(1),
		RunE:  runWelcome,
	}

	reseedCmd = &cobra.Command{
		Use:   "reseed <file.yaml>",
		Short: "Replay a YAML list of awards; already granted awards are skipped",
		Args:  cobra.ExactArgs(1),
		RunE:  runReseed,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}

	levelsCmd = &cobra.Command{
		Use:   "levels",
		Short: "Print the configured level curve as YAML",
		Args:  cobra.NoArgs,
		RunE:  runLevels,
	}
)

func init() {
	awardCmd.Flags().Int64Var(&awardAmount, "amount", 0, "XP to award (required, positive)")
	awardCmd.Flags().StringVar(&awardSource, "source", string(progression.SourceAdmin), "award source: "+sourceNames())
	awardCmd.Flags().StringVar(&awardSourceID, "source-id", "", "idempotency scope; empty makes the award repeatable")
	awardCmd.Flags().StringVar(&awardReason, "reason", "manual award", "audit reason")
	awardCmd.Flags().StringToIntVar(&awardAttributes, "attr", nil, "attribute points, e.g. --attr insight=2")
	_ = awardCmd.MarkFlagRequired("amount")

	completeCmd.Flags().StringVar(&completedAt, "at", "", "completion time, RFC3339 (default: now)")

	resetCmd.Flags().StringVar(&resetEmail, "email", "", "email of the account (required)")
	resetCmd.Flags().StringVar(&resetName, "name", "", "display name of the fresh profile")
	_ = resetCmd.MarkFlagRequired("email")
	resetGuestCmd.Flags().StringVar(&resetName, "name", "", "display name of the fresh profile")

	migrateCmd.Flags().BoolVar(&migrateRollback, "rollback", false, "roll back the latest migration")
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "list applied migrations")

	rootCmd.AddCommand(
		awardCmd,
		completeCmd,
		resetCmd,
		resetGuestCmd,
		profileCmd,
		welcomeCmd,
		reseedCmd,
		migrateCmd,
		levelsCmd,
	)
}

func sourceNames() string {
	names := make([]string, 0, len(progression.AllSources()))
	for _, s := range progression.AllSources() {
		names = append(names, s.String())
	}
	return strings.Join(names, ", ")
}

// ══════════════════════════════════════════════════════════════════════════════
// RUNNERS
// ══════════════════════════════════════════════════════════════════════════════

func runAward(cmd *cobra.Command, args []string) error {
	source, ok := progression.ParseSource(awardSource)
	if !ok {
		return fmt.Errorf("unknown source %q, want one of %s", awardSource, sourceNames())
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		result, err := a.award.Handle(ctx, command.AwardXPCommand{
			UserID:        args[0],
			Amount:        awardAmount,
			Reason:        awardReason,
			Source:        source,
			SourceID:      awardSourceID,
			Attributes:    awardAttributes,
			CorrelationID: correlationID,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

func runComplete(cmd *cobra.Command, args []string) error {
	var at time.Time
	if completedAt != "" {
		t, err := time.Parse(time.RFC3339, completedAt)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		at = t
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		result, err := a.complete.Handle(ctx, command.RecordCompletionCommand{
			UserID:        args[0],
			CompletedAt:   at,
			CorrelationID: correlationID,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

func runReset(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		result, err := a.reset.ResetAccount(ctx, command.ResetAccountCommand{
			UserID:        args[0],
			DisplayName:   resetName,
			Email:         resetEmail,
			CorrelationID: correlationID,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

func runResetGuest(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		result, err := a.reset.ResetGuestAccount(ctx, command.ResetAccountCommand{
			UserID:        args[0],
			DisplayName:   resetName,
			CorrelationID: correlationID,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

func runProfile(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		view, err := a.profile.Handle(ctx, query.GetProfileQuery{UserID: args[0]})
		if err != nil {
			return err
		}
		return printJSON(cmd, view)
	})
}

func runWelcome(cmd *cobra.Command, args []string) error {
	if !cfg.Features.IsEnabled(config.FeatureWelcomeBonus, args[0]) {
		return fmt.Errorf("welcome bonus is disabled for %s", args[0])
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		result, err := a.welcome.Handle(ctx, command.GrantWelcomeBonusCommand{
			UserID:        args[0],
			CorrelationID: correlationID,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

// reseedSummary is what reseed prints; per-item errors become strings.
type reseedSummary struct {
	Total      int             `json:"total"`
	Applied    int             `json:"applied"`
	Duplicates int             `json:"duplicates"`
	Failed     int             `json:"failed"`
	Duration   string          `json:"duration"`
	Failures   []reseedFailure `json:"failures,omitempty"`
}

type reseedFailure struct {
	Index    int    `json:"index"`
	UserID   string `json:"user_id"`
	SourceID string `json:"source_id,omitempty"`
	Error    string `json:"error"`
}

func runReseed(cmd *cobra.Command, args []string) error {
	awards, err := loadReseedFile(args[0])
	if err != nil {
		return err
	}
	for i := range awards {
		awards[i].CorrelationID = correlationID
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		result, err := a.batch.Handle(ctx, awards)
		if err != nil {
			return err
		}

		summary := reseedSummary{
			Total:      len(result.Items),
			Applied:    result.Applied,
			Duplicates: result.Duplicates,
			Failed:     result.Failed,
			Duration:   result.Duration.String(),
		}
		for _, item := range result.Items {
			if item.Err == nil {
				continue
			}
			summary.Failures = append(summary.Failures, reseedFailure{
				Index:    item.Index,
				UserID:   item.Command.UserID,
				SourceID: item.Command.SourceID,
				Error:    item.Err.Error(),
			})
		}
		if err := printJSON(cmd, summary); err != nil {
			return err
		}
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d awards failed", summary.Failed, summary.Total)
		}
		return nil
	})
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	if cfg.Store.Driver != config.DriverPostgres {
		// memory has no schema and sqlite migrates itself on open
		fmt.Fprintf(cmd.OutOrStdout(), "nothing to migrate for driver %q\n", cfg.Store.Driver)
		return nil
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		m := postgres.NewMigrator(a.postgres)

		switch {
		case migrateStatus:
			migrations, err := m.Status(ctx)
			if err != nil {
				return err
			}
			for _, mig := range migrations {
				state := "pending"
				if mig.IsApplied {
					state = "applied " + mig.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%03d  %-32s %s\n", mig.Version, mig.Name, state)
			}
			return nil

		case migrateRollback:
			if err := m.Rollback(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rolled back latest migration")
			return nil
		}

		n, err := m.Migrate(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
		return nil
	})
}

func runLevels(cmd *cobra.Command, _ []string) error {
	out, err := config.MarshalLevelCurve(cfg.Progression.Curve)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
