package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"

	"github.com/hupe1980/pipewatch/core"
)

// RecordStream is a lazy, ordered sequence of complete text records.
type RecordStream interface {
	// Next returns the next record, io.EOF at the clean end of the stream or
	// a *core.TransportError.
	Next(ctx context.Context) (string, error)
	// Close releases the underlying connection. A blocked Next returns.
	Close() error
}

// DecoderOptions tunes a Decoder.
type DecoderOptions struct {
	// Prefixes are framing markers stripped from the start of a record.
	Prefixes []string
	// MaxRecordBytes bounds the partial record buffer.
	MaxRecordBytes int
	// DoneMarker is a record that ends the stream cleanly. Empty disables it.
	DoneMarker string
}

// DoneMarker is the conventional end-of-stream record.
const DoneMarker = "[DONE]"

// ErrRecordTooLarge is wrapped in a TransportError when a record exceeds
// MaxRecordBytes without a terminator.
var ErrRecordTooLarge = errors.New("record exceeds maximum size")

// sseFields are SSE field lines that never carry a record on their own.
var sseFields = []string{"event:", "id:", "retry:"}

// Decoder splits chunks from a ChunkSource into newline terminated records.
// A partial trailing record is buffered across chunks; at clean end of
// stream a non-empty remainder is emitted as the last record.
type Decoder struct {
	src      ChunkSource
	opts     DecoderOptions
	buf      []byte
	queue    []string
	eof      bool
	err      error
	closed   atomic.Bool
	finished bool
}

// NewDecoder creates a Decoder over src.
func NewDecoder(src ChunkSource, optFns ...func(o *DecoderOptions)) *Decoder {
	opts := DecoderOptions{
		Prefixes:       []string{"data:"},
		MaxRecordBytes: 1 << 20,
		DoneMarker:     DoneMarker,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Decoder{src: src, opts: opts}
}

// Next returns the next record.
func (d *Decoder) Next(ctx context.Context) (string, error) {
	for {
		if d.err != nil {
			return "", d.err
		}
		if len(d.queue) > 0 {
			rec := d.queue[0]
			d.queue = d.queue[1:]
			if d.opts.DoneMarker != "" && rec == d.opts.DoneMarker {
				d.queue = nil
				d.finished = true
				return "", io.EOF
			}
			return rec, nil
		}
		if d.finished {
			return "", io.EOF
		}
		if d.eof {
			d.finished = true
			d.pushRecord(string(d.buf))
			d.buf = nil
			continue
		}
		if d.closed.Load() {
			return "", d.fail("read", context.Canceled)
		}
		chunk, err := d.src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) && !d.closed.Load() {
				d.eof = true
				continue
			}
			if d.closed.Load() {
				return "", d.fail("read", context.Canceled)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", d.fail("read", ctxErr)
			}
			return "", d.fail("read", err)
		}
		if err := d.feed(chunk); err != nil {
			return "", d.fail("decode", err)
		}
	}
}

// Close closes the source. Records already buffered are discarded.
func (d *Decoder) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.src.Close()
}

func (d *Decoder) fail(op string, err error) error {
	d.buf = nil
	d.queue = nil
	d.err = &core.TransportError{Op: op, Err: err}
	return d.err
}

func (d *Decoder) feed(chunk []byte) error {
	d.buf = append(d.buf, chunk...)
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		d.pushRecord(string(d.buf[:i]))
		d.buf = d.buf[i+1:]
	}
	if len(d.buf) > d.opts.MaxRecordBytes {
		return ErrRecordTooLarge
	}
	// release the consumed prefix of the backing array
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return nil
}

func (d *Decoder) pushRecord(line string) {
	if rec, ok := d.frame(line); ok {
		d.queue = append(d.queue, rec)
	}
}

// frame strips framing from a single line and reports whether it is a record.
func (d *Decoder) frame(line string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, ":") {
		return "", false
	}
	for _, f := range sseFields {
		if strings.HasPrefix(trimmed, f) {
			return "", false
		}
	}
	for _, p := range d.opts.Prefixes {
		if strings.HasPrefix(trimmed, p) {
			trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, p))
			break
		}
	}
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}
