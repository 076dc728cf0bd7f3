package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pipewatch/core"
)

func chunks(parts ...string) *ChanSource {
	ch := make(chan []byte, len(parts))
	for _, p := range parts {
		ch <- []byte(p)
	}
	close(ch)
	return NewChanSource(ch)
}

func drain(t *testing.T, s RecordStream) ([]string, error) {
	t.Helper()
	var out []string
	for {
		rec, err := s.Next(context.Background())
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, rec)
	}
}

// failingSource emits its chunks then fails with err.
type failingSource struct {
	chunks [][]byte
	err    error
}

func (s *failingSource) Next(context.Context) ([]byte, error) {
	if len(s.chunks) == 0 {
		return nil, s.err
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *failingSource) Close() error { return nil }

func TestDecoder_SplitAcrossChunks(t *testing.T) {
	d := NewDecoder(chunks(`{"agent":"co`, `der"}`+"\n"+`{"agent":"rev`, `iewer"}`+"\n"))
	recs, err := drain(t, d)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"agent":"coder"}`, `{"agent":"reviewer"}`}, recs)
}

func TestDecoder_StripsPrefixAndDropsEmpty(t *testing.T) {
	src := chunks("data: {\"a\":1}\n\n", "\r\n", ": keepalive\n", "event: update\n", "data:{\"a\":2}\r\n", "data: \n", "{\"a\":3}\n")
	recs, err := drain(t, NewDecoder(src))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`, `{"a":3}`}, recs)
}

func TestDecoder_FlushesRemainderAtEOF(t *testing.T) {
	recs, err := drain(t, NewDecoder(chunks("{\"a\":1}\n{\"a\"", ":2}")))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`}, recs)
}

func TestDecoder_DoneMarkerEndsStream(t *testing.T) {
	recs, err := drain(t, NewDecoder(chunks("{\"a\":1}\ndata: [DONE]\n{\"a\":2}\n")))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`}, recs)
}

func TestDecoder_TransportErrorDiscardsPartial(t *testing.T) {
	boom := errors.New("connection reset")
	src := &failingSource{chunks: [][]byte{[]byte("{\"a\":1}\n{\"partial\""), nil}, err: boom}
	d := NewDecoder(src)

	rec, err := d.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, rec)

	_, err = d.Next(context.Background())
	var te *core.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, core.ErrTransport)

	// the error is sticky
	_, err = d.Next(context.Background())
	assert.ErrorAs(t, err, &te)
}

func TestDecoder_RecordTooLarge(t *testing.T) {
	d := NewDecoder(chunks(strings.Repeat("x", 64)), func(o *DecoderOptions) { o.MaxRecordBytes = 16 })
	_, err := d.Next(context.Background())
	assert.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestDecoder_CloseUnblocksNext(t *testing.T) {
	ch := make(chan []byte)
	d := NewDecoder(NewChanSource(ch))

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, d.Close())

	select {
	case err := <-errCh:
		var te *core.TransportError
		require.ErrorAs(t, err, &te)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestDecoder_ContextCancel(t *testing.T) {
	ch := make(chan []byte)
	d := NewDecoder(NewChanSource(ch))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReaderSource_Chunks(t *testing.T) {
	recs, err := drain(t, NewDecoder(NewReaderSource(strings.NewReader("{\"a\":1}\n{\"a\":2}\n"))))
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

// stallingReader returns (0, nil) stalls times before yielding data.
type stallingReader struct {
	stalls int
	data   io.Reader
}

func (r *stallingReader) Read(p []byte) (int, error) {
	if r.stalls != 0 {
		if r.stalls > 0 {
			r.stalls--
		}
		return 0, nil
	}
	return r.data.Read(p)
}

func TestReaderSource_SkipsEmptyReads(t *testing.T) {
	src := NewReaderSource(&stallingReader{stalls: 3, data: strings.NewReader("{\"a\":1}\n")})
	recs, err := drain(t, NewDecoder(src))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`}, recs)
}

func TestReaderSource_NoProgress(t *testing.T) {
	src := NewReaderSource(&stallingReader{stalls: -1})
	_, err := NewDecoder(src).Next(context.Background())
	var te *core.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, io.ErrNoProgress)
}

func TestTerminate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{in: `{"agent":"a","status":"running"}`, want: "{\"agent\":\"a\",\"status\":\"running\"}\n"},
		{in: `data: {"agent":"a"}`, want: "data: {\"agent\":\"a\"}\n"},
		{in: `[DONE]`, want: "[DONE]\n"},
		{in: "{\"a\":1}\n", want: "{\"a\":1}\n"},
		{in: `{"agent":"a","sta`, want: `{"agent":"a","sta`},
		{in: ``, want: ``},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(terminate([]byte(tt.in))), tt.in)
	}
}
