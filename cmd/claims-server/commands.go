package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ehr/claims/internal/domain/billing"
	"github.com/ehr/claims/internal/platform/audit"
	"github.com/ehr/claims/internal/platform/db"
	"github.com/ehr/claims/internal/platform/edi"
	"github.com/ehr/claims/migrations"
)

// migrationsFS returns the embedded migrations unless dir overrides them.
func migrationsFS(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrationsFS(dir)).WithSchema(schema).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsFS(dir)).WithSchema(schema).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// withApp loads configuration, wires the services and runs fn as the "cli"
// actor.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	ctx := audit.WithActor(cmd.Context(), "cli")
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func claimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Generate and inspect insurance claims",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate <encounter-id>",
		Short: "Generate, write and submit the claim for an encounter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encounterID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid encounter id %q: %w", args[0], err)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				claim, err := a.pipeline.Generate(ctx, encounterID)
				if err != nil {
					return fmt.Errorf("%s: %w", billing.Kind(err), err)
				}
				return printJSON(cmd.OutOrStdout(), claim)
			})
		},
	})

	showCmd := &cobra.Command{
		Use:   "show <claim-id|claim-number>",
		Short: "Print a claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			withEDI, _ := cmd.Flags().GetBool("edi")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				claim, err := lookupClaim(ctx, a.service, args[0])
				if err != nil {
					return err
				}
				if withEDI {
					_, err := io.WriteString(cmd.OutOrStdout(), claim.EDIContent)
					return err
				}
				return printJSON(cmd.OutOrStdout(), claim)
			})
		},
	}
	showCmd.Flags().Bool("edi", false, "Print the stored 837 transaction instead of the claim")
	cmd.AddCommand(showCmd)

	statusCmd := &cobra.Command{
		Use:   "status <claim-id|claim-number> <status>",
		Short: "Move a claim to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			override, _ := cmd.Flags().GetBool("override")
			submission, _ := cmd.Flags().GetBool("submission")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				claim, err := lookupClaim(ctx, a.service, args[0])
				if err != nil {
					return err
				}
				switch {
				case submission:
					claim, err = a.service.UpdateSubmissionStatus(ctx, claim.ID, billing.SubmissionStatus(args[1]))
				case override:
					claim, err = a.service.OverrideClaimStatus(ctx, claim.ID, billing.ClaimStatus(args[1]))
				default:
					claim, err = a.service.TransitionClaimStatus(ctx, claim.ID, billing.ClaimStatus(args[1]))
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: status=%s submission_status=%s\n",
					claim.ClaimNumber, claim.Status, claim.SubmissionStatus)
				return nil
			})
		},
	}
	statusCmd.Flags().Bool("override", false, "Set the claim status without lifecycle checks")
	statusCmd.Flags().Bool("submission", false, "Change the submission status instead of the claim status")
	cmd.AddCommand(statusCmd)

	return cmd
}

// lookupClaim accepts either a claim ID or a claim number.
func lookupClaim(ctx context.Context, svc *billing.Service, ref string) (*billing.InsuranceClaim, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return svc.GetClaim(ctx, id)
	}
	return svc.GetClaimByNumber(ctx, ref)
}

func ediCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edi",
		Short: "Work with 837 interchange files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "inspect <file>",
		Short: "Parse an 837 file and print its key fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			sum, err := edi.Summarize(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			printSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	})
	return cmd
}

func printSummary(w io.Writer, s *edi.Summary) {
	rows := []struct{ k, v string }{
		{"Claim number", s.ClaimNumber},
		{"Sender", s.SenderID},
		{"Receiver", s.ReceiverID},
		{"Interchange control", s.InterchangeControl},
		{"Trailer control", s.TrailerControl},
		{"Billing NPI", s.BillingProviderNPI},
		{"Member ID", s.MemberID},
		{"Payer ID", s.PayerID},
		{"CPT", s.CPTCode},
		{"ICD-10", s.ICD10Code},
		{"Billed", edi.FormatAmount(s.BilledAmount)},
		{"Units", fmt.Sprint(s.Units)},
		{"Service date", s.ServiceDate.Format("2006-01-02")},
		{"Segments", fmt.Sprint(s.SegmentCount)},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%-20s %s\n", r.k+":", r.v)
	}
}
