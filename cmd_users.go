package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"library-lending/library"
)

func (a *app) userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage borrowers"}

	var (
		nu       library.NewUser
		userType string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			nu.Type = library.UserType(userType)
			u, err := a.mgr.AddUser(cmd.Context(), nu)
			if err != nil {
				return err
			}
			fmt.Printf("Added user '%s' with ID %d\n", u.Name, u.ID)
			return nil
		},
	}
	add.Flags().StringVar(&nu.Name, "name", "", "full name")
	add.Flags().StringVar(&nu.Email, "email", "", "email (unique)")
	add.Flags().StringVar(&nu.Phone, "phone", "", "phone")
	add.Flags().StringVar(&userType, "type", string(library.UserTypeStudent), "student, teacher, staff or external")
	_ = add.MarkFlagRequired("name")

	var (
		f    library.UserFilter
		page library.Page
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			users, _, err := a.mgr.ListUsers(cmd.Context(), f, page)
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Println("No users registered.")
				return nil
			}
			fmt.Printf("%-5s %-30s %-10s %-8s %-15s\n", "ID", "Name", "Type", "Active", "Password Set")
			fmt.Println(strings.Repeat("-", 75))
			for _, u := range users {
				fmt.Printf("%-5d %-30s %-10s %-8s %-15s\n", u.ID, truncateString(u.Name, 30), u.Type, yesNo(u.IsActive), yesNo(u.PasswordHash != ""))
			}
			return nil
		},
	}
	list.Flags().StringVarP(&f.Query, "query", "q", "", "search name and email")
	list.Flags().IntVar(&page.Number, "page", 1, "page number")
	list.Flags().IntVar(&page.Size, "page-size", 0, "page size (0 lists everything)")

	setActive := &cobra.Command{
		Use:   "set-active ID true|false",
		Short: "Activate or deactivate a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			active, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid flag value %q", args[1])
			}
			u, err := a.mgr.UpdateUser(cmd.Context(), id, library.UserPatch{IsActive: &active})
			if err != nil {
				return err
			}
			fmt.Printf("User %s (ID: %d) active: %s\n", u.Name, u.ID, yesNo(u.IsActive))
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a user without active loans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.mgr.DeleteUser(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Deleted user %d\n", id)
			return nil
		},
	}

	passwd := &cobra.Command{
		Use:   "passwd ID",
		Short: "Set a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			u, err := a.mgr.GetUser(cmd.Context(), id)
			if err != nil {
				return err
			}
			password, err := readPassword(fmt.Sprintf("Enter new password for %s (ID: %d): ", u.Name, u.ID))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			if err := a.mgr.SetUserPassword(cmd.Context(), id, password); err != nil {
				return err
			}
			fmt.Printf("Password successfully set for %s (ID: %d)\n", u.Name, u.ID)
			return nil
		},
	}

	loans := &cobra.Command{
		Use:   "loans ID",
		Short: "Show the loans of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ls, err := a.mgr.LoansForUser(cmd.Context(), id)
			if err != nil {
				return err
			}
			printLoans(ls)
			return nil
		},
	}

	cmd.AddCommand(add, list, setActive, del, passwd, loans)
	return cmd
}
