// Package stream implements a client for run event streams. It consumes
// the SSE endpoint served by the control API and hides reconnection from
// callers: on a dropped connection it resumes from the last sequence
// number it delivered, so the caller observes every event exactly once
// and in order.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/maestro-ai/maestro/internal/pipeline"
	"github.com/maestro-ai/maestro/pkg/models"
)

// ConnState describes the client's connection to the event stream.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 15 * time.Second

	// maxLineSize bounds a single SSE data line. Plan snapshots can be
	// large, so this is well above the scanner default.
	maxLineSize = 1024 * 1024
)

// ErrRunNotFound means the server does not know the run; reconnecting
// will not help.
var ErrRunNotFound = errors.New("run not found")

// Client follows one run's event stream.
type Client struct {
	baseURL string
	runID   string
	http    *http.Client
	logger  *pipeline.DebugLogger

	// onState, if set, is called on every connection state change.
	onState func(ConnState)

	lastSeq uint64
}

type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for stream requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger attaches a debug logger.
func WithLogger(l *pipeline.DebugLogger) Option {
	return func(c *Client) { c.logger = l }
}

// WithStateFunc registers a callback for connection state changes.
func WithStateFunc(fn func(ConnState)) Option {
	return func(c *Client) { c.onState = fn }
}

func New(baseURL, runID string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		runID:   runID,
		http:    &http.Client{},
		logger:  pipeline.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Follow streams the run's events into out, reconnecting with backoff
// until a terminal event arrives or ctx is cancelled. out is closed when
// Follow returns. Events already delivered before a reconnect are not
// redelivered.
func (c *Client) Follow(ctx context.Context, out chan<- models.Event) error {
	defer close(out)
	defer c.setState(StateDisconnected)

	backoff := initialBackoff
	for {
		c.setState(StateConnecting)
		terminal, err := c.connectOnce(ctx, out)
		if terminal {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrRunNotFound) {
			return err
		}
		if err != nil {
			c.logger.Log("stream: run %s disconnected: %v (retry in %s)", c.runID, err, backoff)
		}
		c.setState(StateDisconnected)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// connectOnce opens one SSE connection and pumps events until the stream
// ends. Returns terminal=true once a terminal event has been delivered.
func (c *Client) connectOnce(ctx context.Context, out chan<- models.Event) (terminal bool, err error) {
	url := fmt.Sprintf("%s/v1/runs/%s/events", c.baseURL, c.runID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.lastSeq > 0 {
		req.Header.Set("Last-Event-ID", fmt.Sprintf("%d", c.lastSeq))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, fmt.Errorf("run %s: %w", c.runID, ErrRunNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("stream request failed: %s", resp.Status)
	}
	c.setState(StateConnected)

	scanner := bufio.NewScanner(resp.Body)
	buf := make([]byte, maxLineSize)
	scanner.Buffer(buf, maxLineSize)

	var data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			// Blank line ends one SSE message.
			if data == "" {
				continue
			}
			ev, perr := decodeEvent(data)
			data = ""
			if perr != nil {
				c.logger.Log("stream: run %s skipping malformed event: %v", c.runID, perr)
				continue
			}
			if ev.Seq <= c.lastSeq {
				// Duplicate from an overlapping replay.
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return false, ctx.Err()
			}
			c.lastSeq = ev.Seq
			if ev.Terminal() {
				return true, nil
			}
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case strings.HasPrefix(line, ":"):
			// Keep-alive comment.
		default:
			// id: and event: lines are redundant with the JSON body.
		}
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}
	return false, fmt.Errorf("stream closed before terminal event")
}

func decodeEvent(data string) (models.Event, error) {
	var ev models.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return models.Event{}, err
	}
	return ev, nil
}

// LastSeq reports the sequence number of the last delivered event.
func (c *Client) LastSeq() uint64 {
	return c.lastSeq
}

func (c *Client) setState(s ConnState) {
	if c.onState != nil {
		c.onState(s)
	}
}
