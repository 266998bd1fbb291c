package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/thebiggive/matchbot-sub000/internal/app/bootstrap"
	"github.com/thebiggive/matchbot-sub000/internal/application"
	"github.com/thebiggive/matchbot-sub000/internal/domain"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "matchctl",
		Short:         "Operate the match-fund ledger: sweeps, reports and manual releases",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "configs/default.yaml", "Path to the service config file")

	root.AddCommand(allocateCmd())
	root.AddCommand(releaseCmd())
	root.AddCommand(expireCmd())
	root.AddCommand(reallocateCmd())
	root.AddCommand(overMatchedCmd())
	root.AddCommand(reconcileCmd())
	root.AddCommand(initializeCmd())
	return root
}

// withService builds a runtime from the --config flag, runs fn and prints its result as JSON.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *application.Service) (any, error)) error {
	configPath, _ := cmd.Flags().GetString("config")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := bootstrap.NewRuntime(ctx, configPath)
	if err != nil {
		return fmt.Errorf("bootstrap runtime: %w", err)
	}
	defer rt.Close()

	out, err := fn(ctx, rt.Service())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func allocateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "allocate [donation-id]",
		Short: "Match as much of a donation as the campaign's funds allow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			donationID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid donation id %q: %w", args[0], err)
			}
			return withService(cmd, func(ctx context.Context, svc *application.Service) (any, error) {
				return svc.AllocateMatchFunds(ctx, donationID)
			})
		},
	}
}

func releaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release [donation-id]",
		Short: "Give back every active match of a donation, or a single withdrawal with --withdrawal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			withdrawalID, _ := cmd.Flags().GetInt64("withdrawal")
			if !domain.IsReleaseReason(reason) {
				return fmt.Errorf("unknown release reason %q", reason)
			}
			if withdrawalID > 0 {
				return withService(cmd, func(ctx context.Context, svc *application.Service) (any, error) {
					return svc.ReleaseWithdrawal(ctx, withdrawalID, reason)
				})
			}
			if len(args) != 1 {
				return fmt.Errorf("a donation id or --withdrawal is required")
			}
			donationID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid donation id %q: %w", args[0], err)
			}
			return withService(cmd, func(ctx context.Context, svc *application.Service) (any, error) {
				return svc.ReleaseDonation(ctx, donationID, reason)
			})
		},
	}
	cmd.Flags().StringP("reason", "r", domain.ReleaseReasonManual, "Release reason recorded on the event")
	cmd.Flags().Int64P("withdrawal", "w", 0, "Release only this withdrawal id")
	return cmd
}

func expireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Release matches of unpaid donations whose reservation has expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *application.Service) (any, error) {
				return svc.ExpireStaleMatches(ctx)
			})
		},
	}
}

func reallocateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reallocate",
		Short: "Move collected donations from lower-priority funds onto freed higher-priority funds",
		RunE: func(cmd *cobra.Command, args []string) error {
			closedBefore, err := timeFlag(cmd, "closed-before")
			if err != nil {
				return err
			}
			collectedAfter, err := timeFlag(cmd, "collected-after")
			if err != nil {
				return err
			}
			if closedBefore.IsZero() {
				closedBefore = time.Now().UTC()
			}
			if collectedAfter.IsZero() {
				lookback, _ := cmd.Flags().GetDuration("lookback")
				collectedAfter = closedBefore.Add(-lookback)
			}
			return withService(cmd, func(ctx context.Context, svc *application.Service) (any, error) {
				return svc.ReallocateToHigherPriority(ctx, closedBefore, collectedAfter)
			})
		},
	}
	cmd.Flags().String("closed-before", "", "Only campaigns that ended before this RFC3339 time (default now)")
	cmd.Flags().String("collected-after", "", "Only donations collected after this RFC3339 time")
	cmd.Flags().Duration("lookback", 72*time.Hour, "Collection window used when --collected-after is empty")
	return cmd
}

func timeFlag(cmd *cobra.Command, name string) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return t.UTC(), nil
}

type overMatchedRow struct {
	DonationID      uuid.UUID `json:"donation_id"`
	CampaignID      string    `json:"campaign_id"`
	Currency        string    `json:"currency"`
	Amount          string    `json:"amount"`
	WithdrawalTotal string    `json:"withdrawal_total"`
}

func overMatchedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "over-matched",
		Short: "List donations whose active matches exceed the donation amount",
		RunE: func(cmd *cobra.Command, args []string) error {
			alert, _ := cmd.Flags().GetBool("alert")
			return withService(cmd, func(ctx context.Context, svc *application.Service) (any, error) {
				list := svc.ListOverMatched
				if alert {
					list = svc.DetectOverMatched
				}
				found, err := list(ctx)
				if err != nil {
					return nil, err
				}
				rows := make([]overMatchedRow, 0, len(found))
				for _, d := range found {
					rows = append(rows, overMatchedRow{
						DonationID:      d.DonationID,
						CampaignID:      d.CampaignID,
						Currency:        d.Currency,
						Amount:          d.Amount.StringFixed(domain.MinorUnitPlaces),
						WithdrawalTotal: d.WithdrawalTotal.StringFixed(domain.MinorUnitPlaces),
					})
				}
				return rows, nil
			})
		},
	}
	cmd.Flags().Bool("alert", false, "Also enqueue an over-match event for each donation found")
	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile [funding-id]",
		Short: "Compare real-time balances with the ledger, or rebuild one funding's balance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reset, _ := cmd.Flags().GetBool("reset-cache")
			if len(args) == 1 {
				fundingID, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil || fundingID <= 0 {
					return fmt.Errorf("invalid funding id %q", args[0])
				}
				return withService(cmd, func(ctx context.Context, svc *application.Service) (any, error) {
					balance, err := svc.ResetCachedBalance(ctx, fundingID)
					if err != nil {
						return nil, err
					}
					return map[string]any{"funding_id": fundingID, "amount_available": balance.StringFixed(domain.MinorUnitPlaces)}, nil
				})
			}
			return withService(cmd, func(ctx context.Context, svc *application.Service) (any, error) {
				return svc.ReconcileBalances(ctx, reset)
			})
		},
	}
	cmd.Flags().Bool("reset-cache", false, "Overwrite differing real-time balances with the durable balance")
	return cmd
}

func initializeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initialize [funding-id]",
		Short: "Seed a funding's real-time balance if it is missing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fundingID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || fundingID <= 0 {
				return fmt.Errorf("invalid funding id %q", args[0])
			}
			return withService(cmd, func(ctx context.Context, svc *application.Service) (any, error) {
				seeded, err := svc.InitializeFunding(ctx, fundingID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"funding_id": fundingID, "seeded": seeded}, nil
			})
		},
	}
}
