package pipewatch

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pipewatch/config"
	"github.com/hupe1980/pipewatch/core"
	tu "github.com/hupe1980/pipewatch/internal/testutil"
	"github.com/hupe1980/pipewatch/transport"
)

type staticBackend struct {
	body      string
	responses []core.HitlResponse
}

func (b *staticBackend) OpenStream(context.Context, transport.TaskRequest) (transport.RecordStream, error) {
	return transport.NewDecoder(transport.NewReaderSource(strings.NewReader(b.body))), nil
}

func (b *staticBackend) SubmitHitlResponse(_ context.Context, resp core.HitlResponse) error {
	b.responses = append(b.responses, resp)
	return nil
}

func newTestPipewatch(t *testing.T, cfg config.Config, body string) *Pipewatch {
	t.Helper()
	reg := prometheus.NewRegistry()
	p, err := New(cfg, func(o *Options) {
		o.Backend = &staticBackend{body: body}
		o.Registerer = reg
		o.Gatherer = reg
		o.LogOutput = io.Discard
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestRunSync(t *testing.T) {
	body := tu.NDJSON(
		tu.NewEventBuilder("workflow", core.StatusStarting).Wire(),
		tu.NewEventBuilder("planner", core.StatusRunning).Wire(),
		tu.NewEventBuilder("planner", core.StatusCompleted).Wire(),
		tu.NewEventBuilder("coder", core.StatusCompleted).Artifact("main.py", "print(1)").Wire(),
		tu.NewEventBuilder("workflow", core.StatusCompleted).Wire(),
	)
	p := newTestPipewatch(t, config.Default(), body)

	st, err := p.RunSync(context.Background(), transport.TaskRequest{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 5, st.EventsApplied)
	assert.InDelta(t, 100.0, st.ProgressPercent, 0.001)
	assert.False(t, st.IsRunning)
	require.Contains(t, st.Artifacts, "main.py")

	list, err := p.History().List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, st.RunID, list[0].RunID)
}

func TestNew_SQLiteHistory(t *testing.T) {
	cfg := config.Default()
	cfg.History.SQLitePath = filepath.Join(t.TempDir(), "runs.db")

	p := newTestPipewatch(t, cfg, tu.NDJSON(tu.NewEventBuilder("coder", core.StatusCompleted).Wire()))
	st, err := p.RunSync(context.Background(), transport.TaskRequest{Prompt: "x"})
	require.NoError(t, err)

	got, err := p.History().Get(context.Background(), st.RunID)
	require.NoError(t, err)
	assert.Equal(t, core.NodeCompleted, got.Nodes["coder"].Status)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.BaseURL = ""
	_, err := New(cfg)
	require.ErrorIs(t, err, config.ErrInvalid)
}
