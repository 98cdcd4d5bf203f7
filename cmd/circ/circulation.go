package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/circdesk/internal/circulation"
	"github.com/Veraticus/circdesk/internal/cli"
	"github.com/Veraticus/circdesk/internal/common"
	"github.com/Veraticus/circdesk/internal/model"
)

func checkoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkout <patron-id> <barcode>",
		Short: "Lend an item to a patron",
		Long: `Lend the copy with the given barcode to a patron.

The patron must have an active, unexpired membership with no outstanding
fines and no overdue loans. The loan is due after the configured loan period
unless --due is given.`,
		Args: cobra.ExactArgs(2),
		RunE: runCheckout,
	}
	cmd.Flags().String("due", "", "due date (dd/mm/yyyy, Buddhist or Gregorian year, or yyyy-mm-dd)")
	return cmd
}

func runCheckout(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	req := circulation.CheckoutRequest{PatronID: args[0], Barcode: args[1]}

	if due, _ := cmd.Flags().GetString("due"); due != "" {
		d, err := model.ParseDate(due)
		if err != nil {
			return common.NewUserError("Due date must look like 17/01/2568", err)
		}
		req.DueDate = d
	}

	return withDesk(ctx, func(d *desk) error {
		loan, err := d.engine.Checkout(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s lent to %s, due %s",
			loan.BookTitle, loan.PatronName, loan.DueDate.Thai())))
		return nil
	})
}

func checkinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkin <barcode|title>",
		Short: "Return an item",
		Long: `Return the item on loan under a barcode. Loans recorded before barcodes
were tracked can be returned by book title.

A late return asks how to settle the fine unless --pay or --defer is given.
If someone is waiting for the title, the copy is held for them.`,
		Args: cobra.ExactArgs(1),
		RunE: runCheckin,
	}
	cmd.Flags().Bool("pay", false, "the patron pays any fine now")
	cmd.Flags().Bool("defer", false, "add any fine to the patron's balance")
	cmd.MarkFlagsMutuallyExclusive("pay", "defer")
	return cmd
}

func runCheckin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var decider circulation.FineDecider = cli.NewFinePrompter(cmd.InOrStdin(), cmd.OutOrStdout())
	if pay, _ := cmd.Flags().GetBool("pay"); pay {
		decider = fixedDecision(circulation.DecisionPayNow)
	}
	if deferFine, _ := cmd.Flags().GetBool("defer"); deferFine {
		decider = fixedDecision(circulation.DecisionDefer)
	}

	return withDesk(ctx, func(d *desk) error {
		result, err := d.engine.Checkin(ctx, args[0], decider)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s returned by %s", result.Loan.BookTitle, result.Loan.PatronName)))
		if result.Fine.IsPositive() {
			switch result.Decision {
			case circulation.DecisionPayNow:
				fmt.Fprintf(out, "%s late: fine %s paid at the desk\n", days(result.DaysLate), cli.FormatMoney(result.Fine))
			default:
				fmt.Fprintf(out, "%s late: fine %s added to balance\n", days(result.DaysLate), cli.FormatMoney(result.Fine))
			}
		}
		if result.Notified != "" {
			holder, _ := d.store.Patron(result.Notified)
			fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("%s Hold shelf: set aside for %s (%s)", cli.HoldIcon, holder.Name, result.Notified)))
		}
		return nil
	})
}

func fixedDecision(decision circulation.Decision) circulation.FineDecider {
	return circulation.FineDeciderFunc(func(_ context.Context, _ circulation.FineNotice) (circulation.Decision, error) {
		return decision, nil
	})
}

func renewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "renew <barcode|title>",
		Short: "Extend a loan",
		Long: `Extend the open loan on an item by the renewal period, counted from the
current due date.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withDesk(ctx, func(d *desk) error {
				ref, ok := d.store.FindActiveLoan(args[0])
				if !ok {
					return fmt.Errorf("%q: %w", args[0], circulation.ErrLoanNotFound)
				}
				loan, err := d.engine.Renew(ctx, ref.PatronID, ref.Loan.ID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s renewed for %s, now due %s",
					loan.BookTitle, loan.PatronName, loan.DueDate.Thai())))
				return nil
			})
		},
	}
}

func days(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
