package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fentz26/beacon/internal/config"
	"github.com/fentz26/beacon/internal/models"
	"github.com/fentz26/beacon/internal/store"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List completed tasks from the history database",
	RunE:  runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.String("db", config.Default().Server.DB, "SQLite history database")
	f.Int("limit", 20, "Maximum number of tasks to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fs := cmd.Flags()
	stringFlag(fs, "db", &cfg.Server.DB)
	limit, _ := fs.GetInt("limit")

	if cfg.Server.DB == "" {
		return fmt.Errorf("no history database configured")
	}
	if _, err := os.Stat(cfg.Server.DB); err != nil {
		return fmt.Errorf("history database: %w", err)
	}

	s, err := store.New(cfg.Server.DB)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	completed, err := s.ListCompleted(ctx, limit)
	if err != nil {
		return err
	}
	if len(completed) == 0 {
		fmt.Println("No completed commands in history")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMMAND\tOUTCOME\tCOMPLETED\tOUTPUT")
	for _, t := range completed {
		completedAt := "-"
		if t.CompletedAt != nil {
			completedAt = t.CompletedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncateID(t.ID),
			truncate(t.Command, 40),
			outcomeLabel(t.Result),
			completedAt,
			truncate(preview(t.Result), 50))
	}
	w.Flush()

	total, failed, err := s.CountCompleted(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\n%d completed, %d failed\n", total, failed)
	return nil
}

func outcomeLabel(r *models.Result) string {
	switch {
	case r == nil:
		return "-"
	case r.Killed:
		return "killed"
	case r.IsFailure():
		return "failed"
	default:
		return "done"
	}
}

func preview(r *models.Result) string {
	switch {
	case r == nil || r.Killed:
		return ""
	case r.Failure != nil:
		return r.Failure.Message
	case len(r.Lines) > 0:
		return r.Lines[0]
	default:
		return ""
	}
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
