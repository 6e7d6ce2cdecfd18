package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"sqlbridge/internal/store"
	"sqlbridge/internal/workflow"
)

var reportRaw bool

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Render a conversion report for an archived run",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportRaw, "raw", false, "print plain markdown without terminal styling")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open run archive: %w", err)
	}
	defer st.Close()

	res, err := st.GetRun(args[0])
	if err != nil {
		return err
	}

	md := reportMarkdown(res)
	if reportRaw {
		fmt.Print(md)
		return nil
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Print(md)
		return nil
	}
	out, err := renderer.Render(md)
	if err != nil {
		fmt.Print(md)
		return nil
	}
	fmt.Print(out)
	return nil
}

// reportMarkdown formats an archived run as a markdown document.
func reportMarkdown(res *workflow.ConversionResult) string {
	var sb strings.Builder

	outcome := "SUCCESS"
	if !res.Success {
		outcome = "FAILED"
	}
	fmt.Fprintf(&sb, "# Conversion %s — %s\n\n", res.RunID, outcome)
	fmt.Fprintf(&sb, "- Started: %s\n", res.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "- Duration: %dms\n", res.DurationMS)
	fmt.Fprintf(&sb, "- Validation: %s (%v)\n", res.ValidationMode, res.ValidationSuccess)
	fmt.Fprintf(&sb, "- Retries: %d\n", res.RetryCount)
	if res.Chunked {
		fmt.Fprintf(&sb, "- Chunked: %d fragments\n", res.ChunkCount)
	}
	if res.TokenUsage != nil {
		fmt.Fprintf(&sb, "- Tokens: %d in / %d out\n", res.TokenUsage.Input, res.TokenUsage.Output)
	}
	sb.WriteString("\n")

	if res.Warning != "" {
		fmt.Fprintf(&sb, "> %s\n\n", res.Warning)
	}

	fmt.Fprintf(&sb, "## Spark SQL\n\n```sql\n%s\n```\n\n", strings.TrimSpace(res.SparkSQL))
	if res.BigQuerySQL != "" {
		fmt.Fprintf(&sb, "## BigQuery SQL\n\n```sql\n%s\n```\n\n", strings.TrimSpace(res.BigQuerySQL))
	}

	if len(res.ConversionHistory) > 1 || res.ValidationError != "" {
		sb.WriteString("## Attempts\n\n")
		for _, att := range res.ConversionHistory {
			if att.Error != "" {
				fmt.Fprintf(&sb, "%d. failed: %s\n", att.Attempt, att.Error)
			} else {
				fmt.Fprintf(&sb, "%d. passed\n", att.Attempt)
			}
		}
		sb.WriteString("\n")
	}

	if res.ExecutionSuccess != nil {
		sb.WriteString("## Execution\n\n")
		if *res.ExecutionSuccess {
			fmt.Fprintf(&sb, "Succeeded, target table `%s`.\n\n", res.ExecutionTargetTable)
		} else {
			fmt.Fprintf(&sb, "Failed: %s\n\n", res.ExecutionError)
		}
	}

	if res.DataVerificationSuccess != nil {
		sb.WriteString("## Data verification\n\n")
		switch {
		case res.DataVerificationResult != nil && *res.DataVerificationSuccess:
			out := res.DataVerificationResult
			fmt.Fprintf(&sb, "Matched (%s). Target rows: %d, ground truth rows: %d.\n", out.Mode, out.TargetCount, out.TruthCount)
		case res.DataVerificationError != "":
			fmt.Fprintf(&sb, "Failed: %s\n", res.DataVerificationError)
		default:
			sb.WriteString("Mismatch recorded.\n")
		}
	}

	return sb.String()
}
