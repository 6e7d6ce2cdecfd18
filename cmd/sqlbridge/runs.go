package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sqlbridge/internal/store"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List archived conversion runs",
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list")
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open run archive: %w", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No archived runs.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tRESULT\tRETRIES\tMODE\tDURATION\tTOKENS\tERROR")
	for _, r := range runs {
		result := "ok"
		if !r.Success {
			result = "failed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%dms\t%d\t%s\n",
			r.RunID, r.StartedAt.Format("2006-01-02 15:04:05"), result,
			r.RetryCount, r.ValidationMode, r.DurationMS, r.TotalTokens,
			truncate(r.Error, 60))
	}
	return w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
