package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-lending/library"
)

func (a *app) loanCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "loan", Short: "Lend and return books"}

	var (
		req library.CreateLoanRequest
		due string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Lend a book to a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if due != "" {
				d, err := parseDate(due)
				if err != nil {
					return err
				}
				req.DueDate = d
			}
			l, err := a.mgr.CreateLoan(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Printf("Loan %d: book %d to user %d, due %s\n", l.ID, l.BookID, l.UserID, l.DueDate.Format("2006-01-02"))
			return nil
		},
	}
	create.Flags().Int64Var(&req.BookID, "book", 0, "book ID")
	create.Flags().Int64Var(&req.UserID, "user", 0, "user ID")
	create.Flags().StringVar(&due, "due", "", "due date (default: loan period from config)")
	create.Flags().StringVar(&req.Notes, "notes", "", "notes")
	_ = create.MarkFlagRequired("book")
	_ = create.MarkFlagRequired("user")

	var returnNotes string
	ret := &cobra.Command{
		Use:   "return ID",
		Short: "Return a loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var notes *string
			if cmd.Flags().Changed("notes") {
				notes = &returnNotes
			}
			l, err := a.mgr.ReturnLoan(cmd.Context(), id, notes)
			if err != nil {
				return err
			}
			fmt.Printf("Loan %d returned; book %d is available again\n", l.ID, l.BookID)
			return nil
		},
	}
	ret.Flags().StringVar(&returnNotes, "notes", "", "replace the loan notes")

	var (
		updDue, updNotes string
		updBook, updUser int64
	)
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Change due date, book, user or notes of a loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var upd library.LoanUpdate
			if cmd.Flags().Changed("due") {
				d, err := parseDate(updDue)
				if err != nil {
					return err
				}
				upd.DueDate = &d
			}
			if cmd.Flags().Changed("book") {
				upd.BookID = &updBook
			}
			if cmd.Flags().Changed("user") {
				upd.UserID = &updUser
			}
			if cmd.Flags().Changed("notes") {
				upd.Notes = &updNotes
			}
			l, err := a.mgr.UpdateLoan(cmd.Context(), id, upd)
			if err != nil {
				return err
			}
			printLoans([]*library.Loan{l})
			return nil
		},
	}
	update.Flags().StringVar(&updDue, "due", "", "new due date")
	update.Flags().Int64Var(&updBook, "book", 0, "new book ID")
	update.Flags().Int64Var(&updUser, "user", 0, "new user ID")
	update.Flags().StringVar(&updNotes, "notes", "", "new notes")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a loan record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.mgr.DeleteLoan(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Deleted loan %d\n", id)
			return nil
		},
	}

	var (
		f    library.LoanFilter
		page library.Page
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loans, _, err := a.mgr.ListLoans(cmd.Context(), f, page)
			if err != nil {
				return err
			}
			printLoans(loans)
			return nil
		},
	}
	list.Flags().StringVar(&f.Status, "status", "", "active, returned or overdue")
	list.Flags().Int64Var(&f.BookID, "book", 0, "only loans of this book")
	list.Flags().Int64Var(&f.UserID, "user", 0, "only loans of this user")
	list.Flags().IntVar(&page.Number, "page", 1, "page number")
	list.Flags().IntVar(&page.Size, "page-size", 0, "page size (0 lists everything)")

	cmd.AddCommand(create, ret, update, del, list)
	return cmd
}

func printLoans(loans []*library.Loan) {
	if len(loans) == 0 {
		fmt.Println("No loans found.")
		return
	}
	fmt.Printf("%-5s %-6s %-6s %-12s %-12s %-12s %-8s %s\n", "ID", "Book", "User", "Loaned", "Due", "Returned", "Overdue", "Notes")
	fmt.Println(strings.Repeat("-", 90))
	for _, l := range loans {
		returned := "-"
		if l.ReturnDate != nil {
			returned = l.ReturnDate.Format("2006-01-02")
		}
		fmt.Printf("%-5d %-6d %-6d %-12s %-12s %-12s %-8s %s\n",
			l.ID, l.BookID, l.UserID,
			l.LoanDate.Format("2006-01-02"), l.DueDate.Format("2006-01-02"), returned,
			yesNo(l.IsOverdue), truncateString(l.Notes, 30))
	}
}
