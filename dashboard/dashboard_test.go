package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cypher/model"
	"cypher/storage"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu     sync.Mutex
	events []Event
}

func (c *capture) Publish(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *capture) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func populatedRegistry(p Publisher) *Registry {
	r := NewRegistry(p)
	r.AgentRegistered("a1", "cypher")
	r.SystemPromptUpdated("a1", "You are cypher.")
	r.ChatHistoryUpdated("a1", []model.Message{
		{Role: model.RoleSystem, Content: "You are cypher."},
		{Role: model.RoleAssistant, Content: "# Plan\n\n- look around"},
	})
	r.AIResponseUpdated("a1", "# Plan\n\n- look around")
	return r
}

func TestRegistryTracksAgentState(t *testing.T) {
	p := &capture{}
	r := populatedRegistry(p)

	run := &model.RunRecord{ID: "run-1", AgentID: "a1", SystemPrompt: "You are cypher.", AIMessage: "hi"}
	r.LastRunDataUpdated("a1", run)
	run.AIMessage = "mutated"

	st, ok := r.Agent("a1")
	require.True(t, ok)
	assert.Equal(t, "cypher", st.Name)
	assert.Equal(t, "You are cypher.", st.SystemPrompt)
	assert.Len(t, st.ChatHistory, 2)
	assert.Equal(t, "# Plan\n\n- look around", st.AIResponse)
	require.NotNil(t, st.LastRunData)
	assert.Equal(t, "hi", st.LastRunData.AIMessage)

	assert.Equal(t, []string{
		EventNewAgentSession,
		EventSystemPromptUpdate,
		EventChatHistoryUpdate,
		EventAIResponseUpdate,
		EventLastRunDataUpdate,
	}, p.types())

	_, ok = r.Agent("missing")
	assert.False(t, ok)
}

func TestAgentsNewestFirst(t *testing.T) {
	r := NewRegistry(nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	r.AgentRegistered("old", "first")
	r.AgentRegistered("new", "second")

	agents := r.Agents()
	require.Len(t, agents, 2)
	assert.Equal(t, "new", agents[0].ID)
	assert.Equal(t, "old", agents[1].ID)
}

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *Registry, *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run(ctx)

	r := populatedRegistry(nil)
	srv := httptest.NewServer(NewServer(r, hub, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv, r, hub
}

func get(t *testing.T, url string, header http.Header) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestAgentRoutes(t *testing.T) {
	srv, r, _ := newTestServer(t)
	r.LastRunDataUpdated("a1", &model.RunRecord{ID: "run-1", AgentID: "a1", SystemPrompt: "You are cypher."})

	code, body := get(t, srv.URL+"/agents", nil)
	require.Equal(t, http.StatusOK, code)
	var agents []AgentSummary
	require.NoError(t, json.Unmarshal([]byte(body), &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "cypher", agents[0].Name)

	code, body = get(t, srv.URL+"/agent/a1/system-prompt", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "You are cypher.", body)

	code, body = get(t, srv.URL+"/agent/a1/ai-response", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "# Plan\n\n- look around", body)

	code, body = get(t, srv.URL+"/agent/a1/ai-response.html", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "<h1")
	assert.Contains(t, body, "<li>look around</li>")

	code, body = get(t, srv.URL+"/agent/a1/chat-history", nil)
	assert.Equal(t, http.StatusOK, code)
	var history []model.Message
	require.NoError(t, json.Unmarshal([]byte(body), &history))
	assert.Len(t, history, 2)

	code, body = get(t, srv.URL+"/agent/a1/run-data", nil)
	assert.Equal(t, http.StatusOK, code)
	var snap model.RunSnapshot
	require.NoError(t, json.Unmarshal([]byte(body), &snap))
	assert.Equal(t, "run-1", snap.RunID)
	assert.Len(t, snap.History, 2)

	code, body = get(t, srv.URL+"/agent/nope/last-run-data", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.JSONEq(t, `{"error":"Agent not found"}`, body)

	code, _ = get(t, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestTokenAuth(t *testing.T) {
	hash, err := HashToken("s3cret")
	require.NoError(t, err)
	srv, _, _ := newTestServer(t, WithTokenHash(hash))

	code, _ := get(t, srv.URL+"/agents", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = get(t, srv.URL+"/agents", http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = get(t, srv.URL+"/agents", http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, srv.URL+"/agents?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestVerifyToken(t *testing.T) {
	hash, err := HashToken("token")
	require.NoError(t, err)

	ok, err := VerifyToken("token", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyToken("other", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyToken("token", "not-a-hash")
	assert.Error(t, err)
}

func TestWebSocketStreamsEvents(t *testing.T) {
	srv, r, hub := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	readEvent := func() map[string]any {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	}

	first := readEvent()
	assert.Equal(t, EventAgents, first["type"])
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	r.AIResponseUpdated("a1", "done")
	ev := readEvent()
	assert.Equal(t, EventAIResponseUpdate, ev["type"])
	assert.Equal(t, "a1", ev["agentId"])
	assert.Equal(t, "done", ev["data"])
}

func TestLogBuffer(t *testing.T) {
	buf := NewLogBuffer(3)
	p := &capture{}
	buf.SetPublisher(p)

	logger := slog.New(buf.Handler(slog.NewTextHandler(io.Discard, nil))).With("component", "test")
	for _, msg := range []string{"one", "two", "three", "four"} {
		logger.Info(msg, "n", len(msg))
	}
	logger.WithGroup("req").Warn("grouped", "path", "/x")

	records := buf.Records()
	require.Len(t, records, 3)
	assert.Equal(t, "three", records[0].Message)
	assert.Equal(t, "four", records[1].Message)
	assert.Equal(t, "grouped", records[2].Message)
	assert.Equal(t, "WARN", records[2].Level)
	assert.Equal(t, "test", records[2].Attrs["component"])
	assert.Equal(t, "/x", records[2].Attrs["req.path"])

	assert.Len(t, p.types(), 5)
}

func TestLogsRoute(t *testing.T) {
	buf := NewLogBuffer(10)
	slog.New(buf.Handler(slog.NewTextHandler(io.Discard, nil))).Info("hello")
	srv, _, _ := newTestServer(t, WithLogBuffer(buf))

	code, body := get(t, srv.URL+"/logs", nil)
	require.Equal(t, http.StatusOK, code)
	var records []LogRecord
	require.NoError(t, json.Unmarshal([]byte(body), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "hello", records[0].Message)
}

func TestTranscriptRoutes(t *testing.T) {
	archive, err := storage.NewArchive(t.TempDir())
	require.NoError(t, err)
	tr := &storage.Transcript{Session: "s1", Messages: []model.Message{
		{Role: model.RoleAssistant, Content: "checking the weather in paris"},
	}}
	require.NoError(t, archive.Save(tr))

	srv, _, _ := newTestServer(t, WithArchive(archive))

	code, body := get(t, srv.URL+"/transcripts", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, tr.ID)

	code, body = get(t, srv.URL+"/transcripts/search?q=paris", nil)
	require.Equal(t, http.StatusOK, code)
	var matches []storage.TranscriptMatch
	require.NoError(t, json.Unmarshal([]byte(body), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, tr.ID, matches[0].TranscriptID)

	code, _ = get(t, srv.URL+"/transcripts/search", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = get(t, srv.URL+"/transcripts/"+tr.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "weather in paris")

	code, _ = get(t, srv.URL+"/transcripts/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPublishOverflowDoesNotLoop(t *testing.T) {
	buf := NewLogBuffer(10)
	logger := slog.New(buf.Handler(slog.NewTextHandler(io.Discard, nil)))
	hub := NewHub(logger)
	buf.SetPublisher(hub)

	// Nothing drains the hub, so the queue fills and every further event is
	// dropped with a warning that itself becomes a logAdded event.
	for i := 0; i < sendBuffer+5; i++ {
		hub.Publish(Event{Type: EventAgents})
	}

	records := buf.Records()
	require.NotEmpty(t, records)
	assert.Equal(t, "dashboard broadcast queue full, dropping event", records[len(records)-1].Message)
}
