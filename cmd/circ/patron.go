package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/circdesk/internal/circulation"
	"github.com/Veraticus/circdesk/internal/cli"
	"github.com/Veraticus/circdesk/internal/common"
	"github.com/Veraticus/circdesk/internal/model"
)

func patronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patron",
		Short: "Look up and manage patrons",
	}
	cmd.AddCommand(patronShowCmd())
	cmd.AddCommand(patronListCmd())
	cmd.AddCommand(patronAddCmd())
	cmd.AddCommand(patronDeleteCmd())
	return cmd
}

func patronShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <patron-id>",
		Short: "Show a patron's loans, holds and fines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withDesk(ctx, func(d *desk) error {
				p, err := d.engine.LookupPatron(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderPatron(p, d.engine.Today()))
				return nil
			})
		},
	}
}

func renderPatron(p model.Patron, today model.Date) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status:   %s\n", p.Status)
	if p.Type != "" || p.Group != "" {
		fmt.Fprintf(&b, "Type:     %s %s\n", p.Type, p.Group)
	}
	fmt.Fprintf(&b, "Expires:  %s\n", p.ExpiryDate.Thai())
	fmt.Fprintf(&b, "Owes:     %s", cli.FormatMoney(p.FinesOwed))
	if err := circulation.Eligibility(p, today); err != nil {
		fmt.Fprintf(&b, "\n%s", cli.FormatWarning("Cannot borrow: "+common.UserMessage(err)))
	}

	var loans [][]string
	for _, loan := range p.History {
		if !loan.IsOpen() {
			continue
		}
		status := string(loan.Status)
		if loan.IsOverdue(today) {
			status = cli.StyleError(fmt.Sprintf("Overdue %s", days(circulation.DaysLate(loan.DueDate, today))))
		}
		loans = append(loans, []string{loan.Barcode, loan.BookTitle, loan.DueDate.Thai(), status, loan.ID})
	}
	if len(loans) > 0 {
		b.WriteString("\n\n" + cli.RenderTable([]string{"Barcode", "Title", "Due", "Status", "Loan"}, loans))
	}

	if len(p.Holds) > 0 {
		holds := make([][]string, 0, len(p.Holds))
		for _, h := range p.Holds {
			holds = append(holds, []string{h.TitleID, model.DateOf(h.RequestedAt).Thai()})
		}
		b.WriteString("\n\n" + cli.RenderTable([]string{"Held title", "Requested"}, holds))
	}

	if len(p.FineHistory) > 0 {
		ledger := make([][]string, 0, len(p.FineHistory))
		for _, f := range p.FineHistory {
			ledger = append(ledger, []string{
				model.DateOf(f.Date).Thai(),
				string(f.Type),
				f.Description,
				f.Amount.StringFixed(2),
				f.BalanceAfter.StringFixed(2),
				f.ID,
			})
		}
		b.WriteString("\n\n" + cli.RenderTable([]string{"Date", "Type", "Note", "Amount", "Balance", "Entry"}, ledger))
	}

	return cli.RenderBox(fmt.Sprintf("%s (%s)", p.Name, p.ID), b.String())
}

func patronListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List patrons",
		RunE: func(cmd *cobra.Command, _ []string) error {
			owing, _ := cmd.Flags().GetBool("owing")
			group, _ := cmd.Flags().GetString("group")

			return withDesk(cmd.Context(), func(d *desk) error {
				today := d.engine.Today()
				var rows [][]string
				for _, p := range d.store.Patrons() {
					if owing && !p.FinesOwed.IsPositive() {
						continue
					}
					if group != "" && !strings.EqualFold(p.Group, group) {
						continue
					}
					open, overdue := 0, 0
					for _, loan := range p.History {
						if loan.IsOpen() {
							open++
						}
						if loan.IsOverdue(today) {
							overdue++
						}
					}
					rows = append(rows, []string{
						p.ID, p.Name, p.Group, string(p.Status),
						strconv.Itoa(open), strconv.Itoa(overdue), p.FinesOwed.StringFixed(2),
					})
				}

				out := cmd.OutOrStdout()
				if len(rows) == 0 {
					fmt.Fprintln(out, cli.FormatInfo("No patrons match"))
					return nil
				}
				fmt.Fprintln(out, cli.RenderTable([]string{"ID", "Name", "Group", "Status", "Loans", "Overdue", "Owes"}, rows))
				return nil
			})
		},
	}
	cmd.Flags().Bool("owing", false, "only patrons with a balance")
	cmd.Flags().String("group", "", "only patrons in this class or group")
	return cmd
}

func patronAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <patron-id> <name>",
		Short: "Register a patron",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			patronType, _ := cmd.Flags().GetString("type")
			group, _ := cmd.Flags().GetString("group")
			expires, _ := cmd.Flags().GetString("expires")

			p := model.Patron{
				ID:     args[0],
				Name:   args[1],
				Type:   patronType,
				Group:  group,
				Status: model.PatronActive,
			}
			if expires != "" {
				d, err := model.ParseDate(expires)
				if err != nil {
					return common.NewUserError("Expiry date must look like 31/03/2569", err)
				}
				p.ExpiryDate = d
			}

			ctx := cmd.Context()
			return withDesk(ctx, func(d *desk) error {
				if err := d.store.AddPatron(ctx, p); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Registered %s (%s)", p.Name, p.ID)))
				return nil
			})
		},
	}
	cmd.Flags().String("type", "Student", "patron type")
	cmd.Flags().String("group", "", "class or group")
	cmd.Flags().String("expires", "", "membership expiry date")
	return cmd
}

func patronDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <patron-id>",
		Short: "Remove a patron with no open loans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withDesk(ctx, func(d *desk) error {
				p, ok := d.store.Patron(args[0])
				if !ok {
					return fmt.Errorf("%s: %w", args[0], circulation.ErrPatronNotFound)
				}
				for _, loan := range p.History {
					if loan.IsOpen() {
						return common.NewUserError(fmt.Sprintf("%s still has %s on loan", p.Name, loan.BookTitle), nil)
					}
				}
				if p.FinesOwed.IsPositive() {
					return common.NewUserError(fmt.Sprintf("%s still owes %s ฿", p.Name, p.FinesOwed.StringFixed(2)), nil)
				}
				if err := d.store.DeletePatron(ctx, p.ID); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Removed %s (%s)", p.Name, p.ID)))
				return nil
			})
		},
	}
}
