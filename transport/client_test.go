package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pipewatch/core"
)

func TestClient_OpenStream_SSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/workflows/stream", r.URL.Path)
		var req TaskRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "build a cli", req.Prompt)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, "event: update\ndata: {\"agent\":\"coder\",\"status\":\"running\"}\n\n")
		fmt.Fprint(w, "data: {\"agent\":\"coder\",\"status\":\"completed\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	stream, err := c.OpenStream(context.Background(), TaskRequest{Prompt: "build a cli"})
	require.NoError(t, err)
	defer stream.Close()

	_, ok := stream.(*SSEDecoder)
	require.True(t, ok)

	recs, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`{"agent":"coder","status":"running"}`,
		`{"agent":"coder","status":"completed"}`,
	}, recs)
}

func TestClient_OpenStream_NDJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprint(w, "{\"agent\":\"a\",\"status\":\"running\"}\n{\"agent\":\"a\",\"status\":\"completed\"}\n")
	}))
	defer srv.Close()

	stream, err := NewClient(srv.URL).OpenStream(context.Background(), TaskRequest{Prompt: "x"})
	require.NoError(t, err)
	recs, err := drain(t, stream)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestClient_OpenStream_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).OpenStream(context.Background(), TaskRequest{Prompt: "x"})
	var te *core.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.Contains(t, te.Error(), "overloaded")
}

func TestClient_SubmitHitlResponse(t *testing.T) {
	var got core.HitlResponse
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/hitl/respond", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, func(o *ClientOptions) { o.Headers["Authorization"] = "secret" })
	fb := "looks good"
	require.NoError(t, c.SubmitHitlResponse(context.Background(), core.HitlResponse{RequestID: "req-1", Action: core.HitlApprove, Feedback: &fb}))
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, core.HitlApprove, got.Action)
	require.NotNil(t, got.Feedback)
	assert.Equal(t, fb, *got.Feedback)
}

func TestClient_SubmitHitlResponse_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "unknown request", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).SubmitHitlResponse(context.Background(), core.HitlResponse{RequestID: "nope", Action: core.HitlReject})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestClient_OpenStream_WebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if !assert.NoError(t, err) {
			return
		}
		assert.Contains(t, string(msg), "ws prompt")
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{\"agent\":\"a\",\"sta"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("tus\":\"running\"}\n"))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	stream, err := NewClient(wsURL).OpenStream(context.Background(), TaskRequest{Prompt: "ws prompt"})
	require.NoError(t, err)
	defer stream.Close()

	recs, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"agent":"a","status":"running"}`}, recs)
}

func TestClient_OpenStream_WebSocketMessagePerRecord(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); !assert.NoError(t, err) {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"agent":"a","status":"running"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"agent":"a","status":"completed"}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	stream, err := NewClient(wsURL).OpenStream(context.Background(), TaskRequest{Prompt: "ws prompt"})
	require.NoError(t, err)
	defer stream.Close()

	recs, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"agent":"a","status":"running"}`, `{"agent":"a","status":"completed"}`}, recs)
}
