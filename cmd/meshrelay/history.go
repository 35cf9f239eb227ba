package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bft-labs/meshrelay/internal/adapters/sqlite"
	"github.com/bft-labs/meshrelay/internal/cliconfig"
	"github.com/bft-labs/meshrelay/internal/domain"
)

func newHistoryCommand() *cobra.Command {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent trigger commands from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := loadConfig(cmd, cfgPath, &cfg); err != nil {
				return err
			}
			path := cfg.JournalPath
			if path == "" {
				path = cliconfig.DefaultJournalPath()
			}
			if path == "" || !cliconfig.FileExists(path) {
				return errors.New("no journal found; set --journal or [journal] path")
			}

			journal, err := sqlite.Open(path, nil)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer journal.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			records, err := journal.Recent(ctx, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no commands recorded")
				return nil
			}
			for _, rec := range records {
				printRecord(rec)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.meshrelay/config.toml)")
	cmd.Flags().StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "SQLite command journal path")
	cmd.Flags().IntVar(&limit, "limit", sqlite.DefaultRecentLimit, "number of commands to show")
	return cmd
}

func printRecord(rec domain.CommandRecord) {
	status := color.New(color.FgGreen)
	switch rec.Status {
	case domain.CommandFailed:
		status = color.New(color.FgRed)
	case domain.CommandAbandoned:
		status = color.New(color.FgYellow)
	}
	gray := color.New(color.FgHiBlack)

	gray.Printf("%s  ", rec.CompletedAt.Local().Format(time.DateTime))
	status.Printf("%-9s ", rec.Status)
	fmt.Printf("ch%d %s\n", rec.Channel, rec.Origin)
	fmt.Printf("    Q: %s\n", rec.Question)
	if rec.Answer != "" {
		fmt.Printf("    A: %s\n", strings.ReplaceAll(rec.Answer, "\n", " "))
	}
	if rec.Error != "" {
		fmt.Print("    ")
		status.Printf("error: %s\n", rec.Error)
	}
	gray.Printf("    took %s\n", rec.CompletedAt.Sub(rec.SubmittedAt).Round(time.Millisecond))
}
