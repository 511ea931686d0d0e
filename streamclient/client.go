// Package streamclient consumes a liverelay event stream over a persistent
// HTTP connection. It maintains connection state with retry/backoff, parses
// event-stream frames, and dispatches them to registered handlers. The relay
// makes no replay guarantee, so applications are expected to treat every
// received event as an invalidate-and-refetch signal; any gap caused by a
// disconnect is closed by the next event that does arrive.
package streamclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateGivenUp      State = "given_up"
)

// Wildcard is the event type whose handlers receive every event on the
// stream, typed or not.
const Wildcard = "message"

// Event is one parsed frame from the stream.
type Event struct {
	Type string
	ID   string
	Data json.RawMessage
}

type Handler func(Event)

type Config struct {
	URL               string
	Reconnect         bool
	ReconnectInterval time.Duration
	MaxRetries        int
	Logger            *logrus.Logger
	// HTTPClient must have no overall timeout; the stream is long-lived.
	HTTPClient *http.Client
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *logrus.Logger

	mu      sync.Mutex
	state   State
	retries int
	cancel  context.CancelFunc

	handlerMu sync.RWMutex
	handlers  map[string]map[int]Handler
	nextID    int
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 3 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		state:      StateIdle,
		handlers:   make(map[string]map[int]Handler),
	}
}

// Connect starts consuming the stream. Idempotent: calling it while a
// connection attempt or open stream is in progress is a no-op.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateConnecting, StateOpen, StateReconnecting:
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.retries = 0
	c.state = StateConnecting

	go c.run(ctx)
}

// Disconnect tears down the transport and clears retry state. Handlers stop
// receiving events.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = StateIdle
	c.retries = 0
}

// On registers a handler for the named event type and returns a token for
// Off. Handlers registered under Wildcard additionally receive every typed
// event.
func (c *Client) On(eventType string, handler Handler) int {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	c.nextID++
	if c.handlers[eventType] == nil {
		c.handlers[eventType] = make(map[int]Handler)
	}
	c.handlers[eventType][c.nextID] = handler
	return c.nextID
}

// Off removes a handler registered with On. Unknown tokens are ignored.
func (c *Client) Off(eventType string, token int) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	delete(c.handlers[eventType], token)
}

func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// run owns the connection lifecycle: Connecting → Open → (error) →
// Reconnecting → Connecting, until the retry ceiling is hit or the client
// is disconnected.
func (c *Client) run(ctx context.Context) {
	for {
		body, err := c.dial(ctx)
		if err == nil {
			c.setOpen()
			c.logger.Infof("Stream connected to %s", c.cfg.URL)
			err = c.consume(ctx, body)
			body.Close()
		}

		if ctx.Err() != nil {
			// Disconnect already set the terminal state.
			return
		}

		c.logger.Warnf("Stream transport error: %v", err)

		if !c.cfg.Reconnect {
			c.setState(StateIdle)
			return
		}

		c.mu.Lock()
		c.retries++
		exhausted := c.retries > c.cfg.MaxRetries
		if exhausted {
			c.state = StateGivenUp
		} else {
			c.state = StateReconnecting
		}
		c.mu.Unlock()

		if exhausted {
			c.logger.Errorf("Giving up on %s after %d retries", c.cfg.URL, c.cfg.MaxRetries)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectInterval):
		}
		c.setState(StateConnecting)
	}
}

func (c *Client) dial(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected stream status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected stream content type %q", ct)
	}

	return resp.Body, nil
}

// consume reads frames off the wire until the transport fails. A frame whose
// data is not valid JSON is dropped and logged; the connection stays up.
func (c *Client) consume(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	// Row snapshots can be large; the default 64K token cap is too tight.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType, id string
	var data []string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			// Blank line terminates the frame.
			c.dispatch(eventType, id, strings.Join(data, "\n"))
			eventType, id, data = "", "", nil
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// Heartbeat comment.
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("stream closed by server")
}

// dispatch fires the handlers for one complete frame. A typed event fires
// its own handlers and the wildcard handlers exactly once each; an untyped
// frame fires wildcard handlers only.
func (c *Client) dispatch(eventType, id, data string) {
	if data == "" && eventType == "" {
		return
	}

	if !json.Valid([]byte(data)) {
		c.logger.Warnf("Dropping non-JSON message on %q", eventType)
		return
	}

	event := Event{Type: eventType, ID: id, Data: json.RawMessage(data)}
	if event.Type == "" {
		event.Type = Wildcard
	}

	c.handlerMu.RLock()
	handlers := make([]Handler, 0, 4)
	if event.Type != Wildcard {
		for _, h := range c.handlers[event.Type] {
			handlers = append(handlers, h)
		}
	}
	for _, h := range c.handlers[Wildcard] {
		handlers = append(handlers, h)
	}
	c.handlerMu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

func (c *Client) setOpen() {
	c.mu.Lock()
	c.state = StateOpen
	c.retries = 0
	c.mu.Unlock()
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}
