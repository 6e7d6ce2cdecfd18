package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"sqlbridge/internal/events"
	"sqlbridge/internal/workflow"
)

var (
	convertSession     string
	convertGroundTruth string
	convertWatch       bool
)

var convertCmd = &cobra.Command{
	Use:   "convert [file]",
	Short: "Convert one Spark SQL query from a file or stdin",
	Long: `Runs a single conversion and prints the result as JSON on stdout.
Reads the query from the given file, or from stdin when the argument is
"-" or omitted. With --watch, progress events are printed on stderr while
the run is in flight.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVar(&convertSession, "session", "", "session id correlating runs (generated when empty)")
	convertCmd.Flags().StringVar(&convertGroundTruth, "ground-truth", "", "ground truth table for data verification")
	convertCmd.Flags().BoolVar(&convertWatch, "watch", false, "print progress events on stderr")
}

func readSource(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	return string(data), nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	source, err := readSource(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var wg sync.WaitGroup
	if convertWatch {
		ch := a.bus.Subscribe("")
		defer a.bus.Unsubscribe(ch)
		wg.Add(1)
		go func() {
			defer wg.Done()
			printEvents(ch)
		}()
	}

	res, runErr := a.engine.Convert(ctx, workflow.ConversionRequest{
		SparkSQL:         source,
		SessionID:        convertSession,
		GroundTruthTable: convertGroundTruth,
	})

	a.bus.Close()
	wg.Wait()

	if res == nil {
		return runErr
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}

	if !res.Success {
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "conversion failed: %v\n", runErr)
		}
		os.Exit(1)
	}
	return nil
}

// printEvents renders stream events for --watch until the channel closes.
func printEvents(ch <-chan events.Event) {
	for evt := range ch {
		switch evt.Type {
		case events.TypeStatus:
			if evt.Attempt > 0 {
				fmt.Fprintf(os.Stderr, "[%s] %s (attempt %d)\n", evt.Status, evt.Step, evt.Attempt)
			} else {
				fmt.Fprintf(os.Stderr, "[%s] %s\n", evt.Status, evt.Step)
			}
		case events.TypeLog:
			fmt.Fprintf(os.Stderr, "  %s: %s\n", evt.Level, evt.Message)
		}
	}
}
