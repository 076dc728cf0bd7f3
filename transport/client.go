package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hupe1980/pipewatch/core"
	"github.com/hupe1980/pipewatch/logging"
)

// TaskRequest is the submission that starts a run on the backend.
type TaskRequest struct {
	Prompt     string         `json:"prompt"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Mode       string         `json:"mode,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// StreamPath is appended to the base URL to start a run.
	StreamPath string
	// HitlPath is appended to the base URL to submit HITL responses.
	HitlPath string
	// HTTPClient performs requests. Streaming requests must not carry a
	// total timeout, so the default client has none.
	HTTPClient *http.Client
	// SubmitTimeout bounds a single HITL submission.
	SubmitTimeout time.Duration
	// Dialer opens WebSocket streams for ws:// and wss:// base URLs.
	Dialer *websocket.Dialer
	// Headers are added to every request.
	Headers map[string]string
	// Decoder tunes the line decoder used for non-SSE responses.
	Decoder []func(o *DecoderOptions)
	Logger  logging.Logger
}

// Client talks to the orchestration backend: it opens the event stream and
// delivers HITL responses over the side channel.
type Client struct {
	baseURL string
	opts    ClientOptions
	logger  logging.Logger
}

// NewClient creates a Client for baseURL.
func NewClient(baseURL string, optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{
		StreamPath:    "/api/workflows/stream",
		HitlPath:      "/api/hitl/respond",
		HTTPClient:    &http.Client{},
		SubmitTimeout: 30 * time.Second,
		Dialer:        websocket.DefaultDialer,
		Headers:       map[string]string{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		opts:    opts,
		logger:  logging.OrNoOp(opts.Logger),
	}
}

// OpenStream submits req and returns the record stream of the run. A
// non-2xx status is reported as *core.TransportError.
func (c *Client) OpenStream(ctx context.Context, req TaskRequest) (RecordStream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task request: %w", err)
	}

	if strings.HasPrefix(c.baseURL, "ws://") || strings.HasPrefix(c.baseURL, "wss://") {
		return c.openWebSocket(ctx, body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.opts.StreamPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/x-ndjson")
	c.setHeaders(httpReq.Header)

	resp, err := c.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &core.TransportError{Op: "connect", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &core.TransportError{Op: "connect", StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(msg)))}
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		c.logger.Debug("opened sse stream", "url", c.baseURL+c.opts.StreamPath)
		return NewSSEDecoder(resp), nil
	}
	c.logger.Debug("opened line stream", "url", c.baseURL+c.opts.StreamPath, "content_type", resp.Header.Get("Content-Type"))
	return NewDecoder(NewReaderSource(resp.Body), c.opts.Decoder...), nil
}

func (c *Client) openWebSocket(ctx context.Context, body []byte) (RecordStream, error) {
	u, err := url.Parse(c.baseURL + c.opts.StreamPath)
	if err != nil {
		return nil, fmt.Errorf("invalid stream url: %w", err)
	}
	header := http.Header{}
	c.setHeaders(header)
	conn, resp, err := c.opts.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		te := &core.TransportError{Op: "connect", Err: err}
		if resp != nil {
			te.StatusCode = resp.StatusCode
		}
		return nil, te
	}
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		_ = conn.Close()
		return nil, &core.TransportError{Op: "submit", Err: err}
	}
	c.logger.Debug("opened websocket stream", "url", u.String())
	return NewDecoder(NewWebSocketSource(conn), c.opts.Decoder...), nil
}

// SubmitHitlResponse delivers a human decision to the backend.
func (c *Client) SubmitHitlResponse(ctx context.Context, resp core.HitlResponse) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal hitl response: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.SubmitTimeout)
	defer cancel()

	base := c.baseURL
	base = strings.Replace(base, "wss://", "https://", 1)
	base = strings.Replace(base, "ws://", "http://", 1)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+c.opts.HitlPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq.Header)

	res, err := c.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to submit hitl response: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("backend returned status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	c.logger.Debug("submitted hitl response", "request_id", resp.RequestID, "action", string(resp.Action))
	return nil
}

func (c *Client) setHeaders(h http.Header) {
	h.Set("X-Request-ID", uuid.NewString())
	for k, v := range c.opts.Headers {
		h.Set(k, v)
	}
}
