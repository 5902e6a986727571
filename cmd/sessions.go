package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/blinkscan/internal/store"
	"github.com/andresmejia3/blinkscan/internal/utils"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [session-id]",
	Short: "List recorded detection sessions, or the blink frames of one session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			utils.ShowError("Failed to connect to database", err, nil)
			return err
		}
		if len(args) == 1 {
			return runSessionBlinks(cmd.Context(), db, args[0])
		}
		return runSessions(cmd.Context(), db)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded training runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			utils.ShowError("Failed to connect to database", err, nil)
			return err
		}
		return runRuns(cmd.Context(), db)
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(runsCmd)
}

func runSessions(ctx context.Context, db *store.Store) error {
	sessions, err := db.ListSessions(ctx)
	if err != nil {
		utils.ShowError("Failed to list sessions", err, nil)
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found in database.")
		return nil
	}
	writeSessions(os.Stdout, sessions)
	return nil
}

func writeSessions(out io.Writer, sessions []store.Session) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tSTRATEGY\tFRAMES\tBLINKS\tSTARTED\tDURATION")
	fmt.Fprintln(w, "--\t------\t--------\t------\t------\t-------\t--------")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			s.ID, s.Source, s.Strategy, s.Frames, s.BlinkCount, fmtTime(s.StartedAt), fmtDuration(s.StartedAt, s.EndedAt))
	}
	w.Flush()
}

func runSessionBlinks(ctx context.Context, db *store.Store, id string) error {
	frames, err := db.SessionBlinks(ctx, id)
	if err != nil {
		utils.ShowError("Failed to load session blinks", err, nil)
		return err
	}
	if len(frames) == 0 {
		fmt.Printf("No blinks recorded for session %s.\n", id)
		return nil
	}
	parts := make([]string, len(frames))
	for i, f := range frames {
		parts[i] = fmt.Sprint(f)
	}
	fmt.Printf("%d blinks at frames: %s\n", len(frames), strings.Join(parts, ", "))
	return nil
}

func runRuns(ctx context.Context, db *store.Store) error {
	runs, err := db.ListTrainingRuns(ctx)
	if err != nil {
		utils.ShowError("Failed to list training runs", err, nil)
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No training runs found in database.")
		return nil
	}
	writeRuns(os.Stdout, runs)
	return nil
}

func writeRuns(out io.Writer, runs []store.TrainingRun) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTRAIN\tTEST\tACCURACY\tPRECISION\tRECALL\tCREATED")
	fmt.Fprintln(w, "--\t-----\t-----\t----\t--------\t---------\t------\t-------")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%.1f%%\t%.1f%%\t%.1f%%\t%s\n",
			r.ID, r.ModelPath, r.TrainSize, r.TestSize, r.Accuracy*100, r.Precision*100, r.Recall*100, fmtTime(r.CreatedAt))
	}
	w.Flush()
}

func fmtTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}

// fmtDuration shows "running" for a session that was never closed.
func fmtDuration(start time.Time, end *time.Time) string {
	if end == nil {
		return "running"
	}
	return end.Sub(start).Round(time.Second).String()
}
