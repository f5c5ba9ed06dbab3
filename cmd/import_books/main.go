package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"library-lending/config"
	"library-lending/library"
)

var (
	bookHeader = []string{"title", "author", "isbn", "publisher", "year", "category", "location"}
	userHeader = []string{"name", "email", "phone", "type"}
)

func main() {
	var configPath, driver, dsn, kind, file string
	cmd := &cobra.Command{
		Use:          "import_books",
		Short:        "Bulk-load books or users from a CSV file",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if driver != "" {
				cfg.DBDriver = driver
			}
			if dsn != "" {
				cfg.DBDSN = dsn
			}
			db, err := library.Open(cmd.Context(), cfg.DBDriver, cfg.DBDSN)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			manager := library.NewLibraryManager(db, library.WithLogger(cfg.Logger(os.Stderr)))
			defer manager.Close()

			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			switch kind {
			case "books":
				return importRows(cmd.Context(), f, bookHeader, func(ctx context.Context, rec map[string]string) (string, error) {
					return importBook(ctx, manager, rec)
				})
			case "users":
				return importRows(cmd.Context(), f, userHeader, func(ctx context.Context, rec map[string]string) (string, error) {
					return importUser(ctx, manager, rec)
				})
			default:
				return fmt.Errorf("unknown kind %q (want books or users)", kind)
			}
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "library.yaml", "path to YAML config (optional)")
	cmd.Flags().StringVar(&driver, "db-driver", "", "database driver (overrides config)")
	cmd.Flags().StringVar(&dsn, "db", "", "database path or DSN (overrides config)")
	cmd.Flags().StringVar(&kind, "kind", "books", "books or users")
	cmd.Flags().StringVar(&file, "file", "", "CSV file with a header row")
	_ = cmd.MarkFlagRequired("file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// importRows reads a CSV with a header row and feeds each record to add.
// Columns may appear in any order; unknown columns are rejected.
func importRows(ctx context.Context, r io.Reader, known []string, add func(context.Context, map[string]string) (string, error)) error {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
		if !contains(known, header[i]) {
			return fmt.Errorf("unknown column %q", h)
		}
	}

	successCount := 0
	errorCount := 0
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Printf("ERROR line %d: %v\n", line, err)
			errorCount++
			continue
		}
		rec := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(row) {
				rec[h] = strings.TrimSpace(row[i])
			}
		}
		label, err := add(ctx, rec)
		if err != nil {
			fmt.Printf("ERROR line %d: %v\n", line, err)
			errorCount++
			continue
		}
		fmt.Printf("SUCCESS %s\n", label)
		successCount++
	}

	fmt.Printf("\nImport complete: %d successful, %d errors\n", successCount, errorCount)
	if errorCount > 0 {
		return fmt.Errorf("%d row(s) failed", errorCount)
	}
	return nil
}

func importBook(ctx context.Context, m *library.LibraryManager, rec map[string]string) (string, error) {
	nb := library.NewBook{
		Title:     rec["title"],
		Author:    rec["author"],
		ISBN:      rec["isbn"],
		Publisher: rec["publisher"],
		Category:  rec["category"],
		Location:  rec["location"],
	}
	if y := rec["year"]; y != "" {
		year, err := strconv.Atoi(y)
		if err != nil {
			return "", fmt.Errorf("invalid year %q", y)
		}
		nb.Year = year
	}
	b, err := m.AddBook(ctx, nb)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s by %s (ID: %d)", b.Title, b.Author, b.ID), nil
}

func importUser(ctx context.Context, m *library.LibraryManager, rec map[string]string) (string, error) {
	u, err := m.AddUser(ctx, library.NewUser{
		Name:  rec["name"],
		Email: rec["email"],
		Phone: rec["phone"],
		Type:  library.UserType(rec["type"]),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (ID: %d)", u.Name, u.ID), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
