package main

import (
	"fmt"
	"os"
	"strings"

	"lending-library/library"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var (
		dbPath   string
		fixtures string
	)

	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Recreate the library database from a TOML fixture",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return seed(dbPath, fixtures)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "library.db", "path to the SQLite database to recreate")
	cmd.Flags().StringVar(&fixtures, "fixtures", "", "TOML fixture to load (default: built-in)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func seed(dbPath, fixtures string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Clean up any existing database files
	fmt.Println("Cleaning up existing database files...")
	for _, file := range []string{dbPath, dbPath + "-shm", dbPath + "-wal"} {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			fmt.Printf("Warning: Could not remove %s: %v\n", file, err)
		}
	}

	fx, err := library.DefaultFixture()
	if fixtures != "" {
		fx, err = library.LoadFixtureFile(fixtures)
	}
	if err != nil {
		return err
	}

	manager, err := library.NewLibraryManager(library.ManagerConfig{
		DBPath:  dbPath,
		Fixture: fx,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	defer manager.Close()

	entries := manager.Entries()
	copies := manager.Copies()
	fmt.Printf("\nSeed complete!\n")
	fmt.Printf("Catalog entries: %d\n", len(entries))
	fmt.Printf("Book copies: %d\n", len(copies))
	fmt.Printf("Users: %d\n", len(manager.Users()))

	if len(entries) > 0 {
		fmt.Println("\nCatalog:")
		fmt.Printf("%-50s %-30s %s\n", "Title", "Author", "Copies")
		fmt.Println(strings.Repeat("-", 90))
		for _, e := range entries {
			n := 0
			for _, c := range copies {
				if c.Entry == e {
					n++
				}
			}
			fmt.Printf("%-50s %-30s %d\n", truncateString(e.Title, 50), truncateString(e.Author, 30), n)
		}
	}
	return nil
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
