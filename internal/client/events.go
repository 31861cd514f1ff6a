package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nhle/tempmail/internal/realtime"
)

const (
	sseReconnectInterval = time.Second
	sseMaxReconnectWait  = 30 * time.Second
	sseMaxLineBytes      = 1 << 20
)

// EventHandler receives decoded inbox events.
type EventHandler func(realtime.Event)

// Watch streams events for an address until ctx is done. Dropped
// connections are re-established with exponential backoff; an
// authorization or not-found response ends the watch.
func (c *Client) Watch(ctx context.Context, addressID string, handler EventHandler) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = sseReconnectInterval
	b.MaxInterval = sseMaxReconnectWait
	b.MaxElapsedTime = 0

	for {
		connected, err := c.streamOnce(ctx, addressID, handler)
		if ctx.Err() != nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return err
		}
		if connected {
			b.Reset()
		}

		wait := b.NextBackOff()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// streamOnce holds one SSE connection open. connected reports whether
// the server accepted the stream before it ended.
func (c *Client) streamOnce(ctx context.Context, addressID string, handler EventHandler) (connected bool, err error) {
	req, err := c.newRequest(ctx, http.MethodGet, addressPath(addressID)+"/events", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives any request timeout on the shared client.
	hc := *c.httpClient
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return false, fmt.Errorf("connect event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, parseErrorResponse(resp)
	}

	return true, readEvents(resp.Body, handler)
}

// readEvents parses an event stream frame by frame. Comment lines are
// heartbeats and are ignored.
func readEvents(r io.Reader, handler EventHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), sseMaxLineBytes)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				dispatch(data.String(), handler)
				data.Reset()
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if data.Len() > 0 {
		dispatch(data.String(), handler)
	}
	return scanner.Err()
}

func dispatch(data string, handler EventHandler) {
	var e realtime.Event
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return
	}
	handler(e)
}
