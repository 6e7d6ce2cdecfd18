// Package tui renders a live terminal dashboard following a sqlbridge
// server's event stream.
package tui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"sqlbridge/internal/events"
)

// StreamClient reads workflow events from a server's SSE endpoint.
type StreamClient struct {
	baseURL string
	runID   string
	client  *http.Client
}

// NewStreamClient targets baseURL's /logs/stream endpoint, optionally
// narrowed to one run.
func NewStreamClient(baseURL, runID string) *StreamClient {
	return &StreamClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		runID:   runID,
		// No client timeout: the stream is long-lived and the server
		// heartbeats through proxies. ctx cancels the read.
		client: &http.Client{},
	}
}

// Stream connects and forwards decoded events until ctx is cancelled or
// the connection drops. The returned channels are closed on exit; a nil
// error on errCh means a clean shutdown.
func (c *StreamClient) Stream(ctx context.Context) (<-chan events.Event, <-chan error) {
	out := make(chan events.Event, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)
		errCh <- c.read(ctx, out)
	}()

	return out, errCh
}

func (c *StreamClient) read(ctx context.Context, out chan<- events.Event) error {
	endpoint := c.baseURL + "/logs/stream"
	if c.runID != "" {
		endpoint += "?run_id=" + url.QueryEscape(c.runID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			eventName = ""
		case strings.HasPrefix(line, ":"):
			// heartbeat comment
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if eventName != string(events.TypeStatus) && eventName != string(events.TypeLog) {
				continue
			}
			var evt events.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return nil
			}
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	return nil
}
