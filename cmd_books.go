package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-lending/library"
)

func (a *app) bookCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "book", Short: "Manage the catalog"}

	var nb library.NewBook
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.mgr.AddBook(cmd.Context(), nb)
			if err != nil {
				return err
			}
			fmt.Printf("Added book ID %d\n", b.ID)
			return nil
		},
	}
	add.Flags().StringVar(&nb.Title, "title", "", "title")
	add.Flags().StringVar(&nb.Author, "author", "", "author")
	add.Flags().StringVar(&nb.ISBN, "isbn", "", "ISBN or catalog code (unique)")
	add.Flags().StringVar(&nb.Publisher, "publisher", "", "publisher")
	add.Flags().IntVar(&nb.Year, "year", 0, "publication year")
	add.Flags().StringVar(&nb.Category, "category", "", "category")
	add.Flags().StringVar(&nb.Location, "location", "", "shelf location")
	_ = add.MarkFlagRequired("title")
	_ = add.MarkFlagRequired("author")

	var (
		f         library.BookFilter
		available string
		page      library.Page
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if available != "" {
				v := available == "yes" || available == "true"
				f.Available = &v
			}
			books, total, err := a.mgr.ListBooks(cmd.Context(), f, page)
			if err != nil {
				return err
			}
			if len(books) == 0 {
				fmt.Println("No books in library.")
				return nil
			}
			fmt.Printf("%-5s %-30s %-25s %-15s %-10s\n", "ID", "Title", "Author", "ISBN", "Available")
			fmt.Println(strings.Repeat("-", 90))
			for _, b := range books {
				isbn := ""
				if b.ISBN != nil {
					isbn = *b.ISBN
				}
				fmt.Printf("%-5d %-30s %-25s %-15s %-10s\n", b.ID, truncateString(b.Title, 30), truncateString(b.Author, 25), isbn, yesNo(b.IsAvailable))
			}
			fmt.Printf("\n%d of %d book(s)\n", len(books), total)
			return nil
		},
	}
	list.Flags().StringVarP(&f.Query, "query", "q", "", "search title, author and isbn")
	list.Flags().StringVar(&f.Author, "author", "", "exact author")
	list.Flags().StringVar(&f.Category, "category", "", "exact category")
	list.Flags().StringVar(&f.Sort, "sort", "title", "sort by title, author, year or id")
	list.Flags().StringVar(&available, "available", "", "yes or no")
	list.Flags().IntVar(&page.Number, "page", 1, "page number")
	list.Flags().IntVar(&page.Size, "page-size", 0, "page size (0 lists everything)")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a book that is not on loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.mgr.DeleteBook(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Deleted book %d\n", id)
			return nil
		},
	}

	history := &cobra.Command{
		Use:   "history ID",
		Short: "Show the loans of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			loans, err := a.mgr.LoansForBook(cmd.Context(), id)
			if err != nil {
				return err
			}
			printLoans(loans)
			return nil
		},
	}

	cmd.AddCommand(add, list, del, history)
	return cmd
}
