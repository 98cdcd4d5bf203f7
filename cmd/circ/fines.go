package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/circdesk/internal/circulation"
	"github.com/Veraticus/circdesk/internal/cli"
	"github.com/Veraticus/circdesk/internal/common"
	"github.com/Veraticus/circdesk/internal/model"
)

func finesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fines",
		Short: "Record payments and charges on patron balances",
	}
	cmd.AddCommand(finesPayCmd())
	cmd.AddCommand(finesChargeCmd())
	cmd.AddCommand(finesDeleteCmd())
	cmd.AddCommand(finesReconcileCmd())
	return cmd
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, common.NewUserError(fmt.Sprintf("%q is not an amount", s), err)
	}
	return amount, nil
}

func finesPayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pay <patron-id> <amount>",
		Short: "Record a payment",
		Long: `Record a payment against a patron's balance. Paying more than is owed
only clears the balance.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			note, _ := cmd.Flags().GetString("note")

			ctx := cmd.Context()
			return withDesk(ctx, func(d *desk) error {
				entry, err := d.engine.PayFine(ctx, args[0], amount, note)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Received %s ฿, balance now %s ฿",
					entry.Amount.Neg().StringFixed(2), entry.BalanceAfter.StringFixed(2))))
				return nil
			})
		},
	}
	cmd.Flags().String("note", "", "receipt note")
	return cmd
}

func finesChargeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "charge <patron-id> <amount>",
		Short: "Charge a fine or adjustment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			fineType, _ := cmd.Flags().GetString("type")
			note, _ := cmd.Flags().GetString("note")

			ctx := cmd.Context()
			return withDesk(ctx, func(d *desk) error {
				entry, err := d.engine.ChargeFine(ctx, args[0], amount, model.FineType(fineType), note)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Charged %s ฿ (%s), balance now %s ฿",
					entry.Amount.StringFixed(2), entry.Type, entry.BalanceAfter.StringFixed(2))))
				return nil
			})
		},
	}
	cmd.Flags().String("type", string(model.FineAdjustment), "Overdue, Damaged, Lost or Adjustment")
	cmd.Flags().String("note", "", "description for the ledger")
	return cmd
}

func finesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <patron-id> <entry-id>",
		Short: "Delete a ledger entry and recompute the balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withDesk(ctx, func(d *desk) error {
				p, err := d.engine.DeleteFineEntry(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Entry removed, %s now owes %s ฿",
					p.Name, p.FinesOwed.StringFixed(2))))
				return nil
			})
		},
	}
}

func finesReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [patron-id]",
		Short: "Rebuild balances from the fine ledger",
		Long: `Recompute running balances from each patron's ledger and correct stored
balances that drifted. Without a patron id, every patron is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withDesk(ctx, func(d *desk) error {
				var reports []circulation.ReconcileReport
				if len(args) == 1 {
					report, err := d.engine.Reconcile(ctx, args[0])
					if err != nil {
						return err
					}
					if report.Changed {
						reports = append(reports, report)
					}
				} else {
					var err error
					if reports, err = d.engine.ReconcileAll(ctx); err != nil {
						return err
					}
				}

				out := cmd.OutOrStdout()
				if len(reports) == 0 {
					fmt.Fprintln(out, cli.FormatSuccess("All balances match their ledgers"))
					return nil
				}
				rows := make([][]string, 0, len(reports))
				for _, r := range reports {
					rows = append(rows, []string{r.PatronID, r.Before.StringFixed(2), r.After.StringFixed(2), r.Drift().StringFixed(2)})
				}
				fmt.Fprintln(out, cli.RenderTable([]string{"Patron", "Was", "Now", "Drift"}, rows))
				return nil
			})
		},
	}
}
