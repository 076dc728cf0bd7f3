package transport

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/openai/openai-go/packages/ssestream"

	"github.com/hupe1980/pipewatch/core"
)

// SSEDecoder decodes a text/event-stream response into records, one per
// SSE event. Multi-line data fields are joined with newlines.
type SSEDecoder struct {
	dec      ssestream.Decoder
	body     io.Closer
	closed   atomic.Bool
	finished bool
	err      error
}

// NewSSEDecoder creates a decoder over an HTTP response body.
func NewSSEDecoder(res *http.Response) *SSEDecoder {
	return &SSEDecoder{dec: ssestream.NewDecoder(res), body: res.Body}
}

// Next returns the data of the next non-empty event.
func (d *SSEDecoder) Next(ctx context.Context) (string, error) {
	for {
		if d.err != nil {
			return "", d.err
		}
		if d.finished {
			return "", io.EOF
		}
		if err := ctx.Err(); err != nil {
			return "", d.fail(err)
		}
		if !d.dec.Next() {
			if d.closed.Load() {
				return "", d.fail(context.Canceled)
			}
			if err := d.dec.Err(); err != nil {
				return "", d.fail(err)
			}
			d.finished = true
			return "", io.EOF
		}
		data := strings.TrimSpace(string(d.dec.Event().Data))
		if data == "" {
			continue
		}
		if data == DoneMarker {
			d.finished = true
			return "", io.EOF
		}
		return data, nil
	}
}

// Close closes the response body.
func (d *SSEDecoder) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.body.Close()
}

func (d *SSEDecoder) fail(err error) error {
	d.err = &core.TransportError{Op: "read", Err: err}
	return d.err
}
