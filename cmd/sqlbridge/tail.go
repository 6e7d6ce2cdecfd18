package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"sqlbridge/internal/tui"
)

var (
	tailServer string
	tailRunID  string
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow a server's event stream in a live dashboard",
	Long: `Connects to a running sqlbridge server and renders workflow progress
and log events in a terminal dashboard. Use --run to follow one run only.`,
	RunE: runTail,
}

func init() {
	tailCmd.Flags().StringVar(&tailServer, "server", "http://localhost:8000", "base URL of the sqlbridge server")
	tailCmd.Flags().StringVar(&tailRunID, "run", "", "follow only this run id")
}

func runTail(cmd *cobra.Command, args []string) error {
	model := tui.NewTailModel(tailServer, tailRunID)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}
