package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"certflow/internal/app"
	"certflow/internal/certification/models"
	"certflow/internal/certification/rules"
	"certflow/internal/platform/config"
	"certflow/internal/platform/logger"
)

type options struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "certctl",
		Short:         "Operate the certification lifecycle service",
		Long:          `certctl runs operator tasks against the same stores and validation authority as the certflow server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CERTFLOW_CONFIG"), "optional config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newRefreshCmd(opts),
		newShowCmd(opts),
		newStatusCmd(opts),
		newRequirementsCmd(),
	)
	return root
}

// withApp builds the service for one command and releases it afterwards.
func withApp(cmd *cobra.Command, opts *options, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	log := slog.New(slog.DiscardHandler)
	if opts.verbose {
		log = logger.NewWithWriter(cmd.ErrOrStderr(), config.Log{Level: "debug", Format: "text"})
	}
	a, err := app.Build(cmd.Context(), cfg, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func newRefreshCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Poll the authority for every in-flight certification",
		Long:  `Checks VALIDATING, APPROVED and GENERATED certifications, oldest submission first, and applies any status change.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				report, err := a.Service.RefreshInFlight(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum number of certifications to check")
	return cmd
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show [certification-number]",
		Short: "Print a certification record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				rec, err := a.Service.GetByNumber(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status [record-id]",
		Short: "Fetch and apply the authority status of one certification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid record id %q: %w", args[0], err)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				res, err := a.Service.CheckStatus(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"certification_number": res.Record.CertificationNumber,
					"previous_status":      res.Previous,
					"validation_status":    res.Record.ValidationStatus,
					"internal_status":      res.Record.InternalStatus,
					"outcome":              res.Outcome,
				})
			})
		},
	}
}

func newRequirementsCmd() *cobra.Command {
	var (
		category   string
		taxID      bool
		age        int
		mode       string
		persisted  []string
		newUploads []string
		onlyNeeded bool
	)
	cmd := &cobra.Command{
		Use:   "requirements",
		Short: "Print the field requirements for an applicant profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := models.ParseApplicantCategory(strings.ToUpper(category))
			if err != nil {
				return err
			}
			m := models.Mode(strings.ToUpper(mode))
			if m != models.ModeCreate && m != models.ModeUpdate {
				return fmt.Errorf("--mode must be CREATE or UPDATE")
			}
			p, err := slotFlags(persisted)
			if err != nil {
				return err
			}
			u, err := slotFlags(newUploads)
			if err != nil {
				return err
			}
			set := rules.ComputeRequirements(rules.Input{
				Category:             c,
				CompanyTaxIDProvided: taxID,
				Age:                  age,
				Mode:                 m,
				PersistedFiles:       p,
				NewUploads:           u,
			})
			if onlyNeeded {
				set = set.Required()
			}
			return printJSON(cmd.OutOrStdout(), set)
		},
	}
	cmd.Flags().StringVar(&category, "category", string(models.CategoryNaturalPerson), "NATURAL_PERSON or LEGAL_REPRESENTATIVE")
	cmd.Flags().BoolVar(&taxID, "company-tax-id", false, "a company tax id was provided")
	cmd.Flags().IntVar(&age, "age", 30, "applicant age in years")
	cmd.Flags().StringVar(&mode, "mode", string(models.ModeCreate), "CREATE or UPDATE")
	cmd.Flags().StringSliceVar(&persisted, "persisted", nil, "file slots already stored (UPDATE mode)")
	cmd.Flags().StringSliceVar(&newUploads, "uploads", nil, "file slots uploaded in this request")
	cmd.Flags().BoolVar(&onlyNeeded, "required-only", false, "print only required entries")
	return cmd
}

func slotFlags(values []string) (map[models.FileSlot]bool, error) {
	out := make(map[models.FileSlot]bool, len(values))
	for _, v := range values {
		slot := models.FileSlot(strings.TrimSpace(v))
		if !slot.IsValid() {
			return nil, fmt.Errorf("unknown file slot %q", v)
		}
		out[slot] = true
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
