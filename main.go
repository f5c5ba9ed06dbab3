package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-lending/config"
	"library-lending/library"
	"library-lending/server"
)

type app struct {
	configPath string
	driver     string
	dsn        string

	cfg config.Config
	mgr *library.LibraryManager
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "library",
		Short:         "Book lending service and admin CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || (cmd.HasParent() && cmd.Parent().Name() == "completion") {
				return nil
			}
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.mgr != nil {
				return a.mgr.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "library.yaml", "path to YAML config (optional)")
	root.PersistentFlags().StringVar(&a.driver, "db-driver", "", "database driver: sqlite3 or pgx (overrides config)")
	root.PersistentFlags().StringVar(&a.dsn, "db", "", "database path or DSN (overrides config)")

	root.AddCommand(
		a.serveCmd(),
		a.bookCmd(),
		a.userCmd(),
		a.loanCmd(),
		a.statsCmd(),
		a.reconcileCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.driver != "" {
		cfg.DBDriver = a.driver
	}
	if a.dsn != "" {
		cfg.DBDSN = a.dsn
	}
	a.cfg = cfg

	db, err := library.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	a.mgr = library.NewLibraryManager(db,
		library.WithLogger(cfg.Logger(os.Stderr)),
		library.WithLoanPeriod(cfg.LoanPeriod()),
		library.WithReconcileGrace(cfg.ReconcileGrace),
	)
	return nil
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv := server.New(a.mgr, a.cfg.Logger(os.Stderr), server.Options{
				DefaultPageSize:   a.cfg.DefaultPageSize,
				MaxPageSize:       a.cfg.MaxPageSize,
				ReconcileInterval: a.cfg.ReconcileInterval,
			})
			return srv.Run(cmd.Context(), a.cfg.HTTPAddr)
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show lending statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.mgr.Stats(cmd.Context(), top)
			if err != nil {
				return err
			}
			fmt.Printf("Books:     %d (%d available)\n", s.TotalBooks, s.AvailableBooks)
			fmt.Printf("Users:     %d (%d active)\n", s.TotalUsers, s.ActiveUsers)
			fmt.Printf("Loans:     %d active, %d overdue, %d returned\n", s.ActiveLoans, s.OverdueLoans, s.ReturnedLoans)
			fmt.Printf("Borrowers: %d with an active loan\n", s.ActiveBorrowers)
			if len(s.PopularBooks) > 0 {
				fmt.Println("\nMost borrowed:")
				fmt.Printf("%-5s %-40s %-25s %s\n", "ID", "Title", "Author", "Loans")
				fmt.Println(strings.Repeat("-", 80))
				for _, b := range s.PopularBooks {
					fmt.Printf("%-5d %-40s %-25s %d\n", b.BookID, truncateString(b.Title, 40), truncateString(b.Author, 25), b.LoanCount)
				}
			}
			if len(s.TopBorrowers) > 0 {
				fmt.Println("\nTop borrowers:")
				fmt.Printf("%-5s %-40s %s\n", "ID", "Name", "Loans")
				fmt.Println(strings.Repeat("-", 55))
				for _, u := range s.TopBorrowers {
					fmt.Printf("%-5d %-40s %d\n", u.UserID, truncateString(u.Name, 40), u.LoanCount)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 5, "length of the top-N rankings")
	return cmd
}

func (a *app) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair availability flags and overdue caches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.mgr.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Marked unavailable: %d\nMarked available:   %d\nOverdue refreshed:  %d\n",
				r.MarkedUnavailable, r.MarkedAvailable, r.OverdueRefreshed)
			return nil
		},
	}
}

// readPassword securely reads a password with masking
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println() // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// parseDate accepts a calendar date (end of that day, UTC) or RFC 3339.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC 3339)", s)
	}
	return d.Add(24*time.Hour - time.Second), nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
