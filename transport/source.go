package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// ChunkSource yields raw chunks of the backend stream. Next returns io.EOF
// once the stream ended cleanly.
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

const (
	defaultReadSize = 4096
	// maxEmptyReads bounds consecutive (0, nil) reads before giving up.
	maxEmptyReads = 100
)

// ReaderSource adapts an io.Reader into a ChunkSource.
type ReaderSource struct {
	r    io.Reader
	buf  []byte
	once sync.Once
}

// NewReaderSource wraps r. If r implements io.Closer, Close closes it.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r, buf: make([]byte, defaultReadSize)}
}

// Next reads the next non-empty chunk. A reader that keeps returning no data
// and no error fails with io.ErrNoProgress.
func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	for i := 0; i < maxEmptyReads; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := s.r.Read(s.buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			return chunk, nil
		}
		if err != nil {
			return nil, err
		}
	}
	return nil, io.ErrNoProgress
}

// Close closes the underlying reader when it is closable.
func (s *ReaderSource) Close() error {
	var err error
	s.once.Do(func() {
		if c, ok := s.r.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

// ChanSource is a ChunkSource fed from a channel; closing the channel ends
// the stream. Used for in-process producers and tests.
type ChanSource struct {
	ch     <-chan []byte
	done   chan struct{}
	closed sync.Once
}

// NewChanSource wraps ch.
func NewChanSource(ch <-chan []byte) *ChanSource {
	return &ChanSource{ch: ch, done: make(chan struct{})}
}

// Next waits for the next chunk.
func (s *ChanSource) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrSourceClosed
	case chunk, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return chunk, nil
	}
}

// Close unblocks pending and future Next calls.
func (s *ChanSource) Close() error {
	s.closed.Do(func() { close(s.done) })
	return nil
}

// WebSocketSource reads chunks from WebSocket text or binary messages.
//
// A message holding one complete JSON value (or the done marker) without a
// trailing newline is terminated, so backends sending one record per message
// need no framing. Other messages pass through unchanged and may split a
// newline terminated record across frames.
type WebSocketSource struct {
	conn *websocket.Conn
	once sync.Once
}

// NewWebSocketSource wraps an established connection.
func NewWebSocketSource(conn *websocket.Conn) *WebSocketSource {
	return &WebSocketSource{conn: conn}
}

// Next reads the next message. A normal closure ends the stream with io.EOF.
func (s *WebSocketSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return terminate(data), nil
		}
	}
}

// Close sends a close frame and releases the connection.
func (s *WebSocketSource) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	})
	return err
}

// terminate appends a newline to a message that is a record on its own.
func terminate(msg []byte) []byte {
	if len(msg) == 0 || msg[len(msg)-1] == '\n' {
		return msg
	}
	text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(msg)), "data:"))
	if text == DoneMarker || gjson.Valid(text) {
		return append(msg, '\n')
	}
	return msg
}

// ErrSourceClosed is returned by sources read after Close.
var ErrSourceClosed = errors.New("source closed")
