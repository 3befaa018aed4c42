package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clinicvoice/relay/pkg/realtime"
	"github.com/clinicvoice/relay/pkg/session"
	"github.com/clinicvoice/relay/pkg/transports/ws"
	"github.com/gorilla/websocket"
)

// scriptedUpstream stands in for the OpenAI Realtime connection. The test
// drives interpreter events through the captured handler.
type scriptedUpstream struct {
	handler realtime.Handler

	mu        sync.Mutex
	connected bool
	speech    []string
	speechCtx []string
	summaries int
	results   map[string]any
}

func (u *scriptedUpstream) Connect(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.connected = true
	return nil
}

func (u *scriptedUpstream) SendSpeech(audio, lastDoctorText string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.speech = append(u.speech, audio)
	u.speechCtx = append(u.speechCtx, lastDoctorText)
	return nil
}

func (u *scriptedUpstream) RequestSummary() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.summaries++
	return nil
}

func (u *scriptedUpstream) SendFunctionResult(callID string, result any) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.results[callID] = result
	return nil
}

func (u *scriptedUpstream) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.connected = false
	return nil
}

func (u *scriptedUpstream) Connected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.connected
}

func (u *scriptedUpstream) speechCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.speech)
}

func testConfig(sinkURL string) Config {
	return Config{
		Environment: "test",
		LogLevel:    "error",
		LogFormat:   "text",
		Upstream:    UpstreamConfig{APIKey: "sk-test"},
		Actions:     ActionsConfig{WebhookURL: sinkURL, TimeoutMS: 2000},
		Transports: TransportsConfig{
			Provider: "ws",
			Settings: map[string]any{"addr": "127.0.0.1:0"},
		},
		Observability: ObservabilityConfig{EventBuffer: 64},
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return m
}

func TestEngineFullSessionFlow(t *testing.T) {
	var sinkMu sync.Mutex
	var deliveries []map[string]any
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)
		sinkMu.Lock()
		deliveries = append(deliveries, payload)
		sinkMu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	var upMu sync.Mutex
	var upstreams []*scriptedUpstream
	builder := func(streamID string, h realtime.Handler) session.Upstream {
		u := &scriptedUpstream{handler: h, results: make(map[string]any)}
		upMu.Lock()
		upstreams = append(upstreams, u)
		upMu.Unlock()
		return u
	}

	engine, err := NewEngine(EngineOptions{Config: testConfig(sink.URL), Upstream: builder})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = engine.Stop() }()

	addr := engine.Transport().(*ws.Transport).Addr()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	greeting := readMessage(t, conn)
	if greeting["type"] != "session" || greeting["session_id"] == "" {
		t.Fatalf("expected session greeting, got %v", greeting)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connect"}`)); err != nil {
		t.Fatalf("write connect: %v", err)
	}
	ack := readMessage(t, conn)
	if ack["type"] != "openai_connected" {
		t.Fatalf("expected openai_connected, got %v", ack)
	}

	upMu.Lock()
	up := upstreams[0]
	upMu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"begin_conversation","audio":"UklGRg=="}`)); err != nil {
		t.Fatalf("write speech: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for up.speechCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if up.speechCount() != 1 {
		t.Fatalf("expected speech forwarded upstream")
	}

	// Interpreter streams a translation back.
	up.handler.OnTextDelta("Ho")
	up.handler.OnTextDelta("la")
	up.handler.OnTextDone(`{"text":"Hola","role":"patient"}`)

	for _, want := range []string{"Ho", "la"} {
		m := readMessage(t, conn)
		if m["type"] != "text_response_delta" || m["delta"] != want {
			t.Fatalf("unexpected delta message: %v", m)
		}
	}
	done := readMessage(t, conn)
	if done["type"] != "text_response_done" || done["text"] != "Hola" || done["role"] != "patient" {
		t.Fatalf("unexpected done message: %v", done)
	}

	// Interpreter requests a clinical action.
	up.handler.OnFunctionCall("schedule_follow_up", "call_1", map[string]any{
		"patientName": "Maria Lopez",
		"date":        "2026-09-01",
	})

	executed := readMessage(t, conn)
	if executed["type"] != "action_executed" || executed["action"] != "schedule_follow_up" {
		t.Fatalf("unexpected action message: %v", executed)
	}
	details, _ := executed["details"].(map[string]any)
	if details == nil || details["success"] != true {
		t.Fatalf("expected successful action details, got %v", executed)
	}
	key, _ := details["idempotencyKey"].(string)
	if !strings.HasPrefix(key, "APPT-") {
		t.Fatalf("expected APPT idempotency key, got %q", key)
	}

	sinkMu.Lock()
	if len(deliveries) != 1 {
		sinkMu.Unlock()
		t.Fatalf("expected one webhook delivery, got %d", len(deliveries))
	}
	delivered := deliveries[0]
	sinkMu.Unlock()
	if delivered["action"] != "schedule_follow_up" || delivered["patient_name"] != "Maria Lopez" {
		t.Fatalf("unexpected webhook payload: %v", delivered)
	}

	up.mu.Lock()
	_, gotResult := up.results["call_1"]
	up.mu.Unlock()
	if !gotResult {
		t.Fatalf("expected function result sent back upstream")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"get_summary"}`)); err != nil {
		t.Fatalf("write summary: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		up.mu.Lock()
		n := up.summaries
		up.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Client disconnect tears the session down.
	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for engine.Registry().Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if engine.Registry().Count() != 0 {
		t.Fatalf("expected registry to empty after disconnect")
	}
	if up.Connected() {
		t.Fatalf("expected upstream closed with the session")
	}
}

func TestEngineIntentBeforeConnect(t *testing.T) {
	engine, err := NewEngine(EngineOptions{
		Config: testConfig("http://127.0.0.1:1/actions"),
		Upstream: func(streamID string, h realtime.Handler) session.Upstream {
			return &scriptedUpstream{handler: h, results: make(map[string]any)}
		},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = engine.Stop() }()

	addr := engine.Transport().(*ws.Transport).Addr()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readMessage(t, conn) // greeting

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"get_summary"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := readMessage(t, conn)
	if m["type"] != "error" {
		t.Fatalf("expected error before connect, got %v", m)
	}
}

func TestEngineRejectsUnknownTransport(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1/actions")
	cfg.Transports.Provider = "carrier-pigeon"
	if _, err := NewEngine(EngineOptions{Config: cfg}); err == nil {
		t.Fatalf("expected unknown transport error")
	}
}

func TestEngineStopDrainsSessions(t *testing.T) {
	engine, err := NewEngine(EngineOptions{
		Config: testConfig("http://127.0.0.1:1/actions"),
		Upstream: func(streamID string, h realtime.Handler) session.Upstream {
			return &scriptedUpstream{handler: h, results: make(map[string]any)}
		},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	addr := engine.Transport().(*ws.Transport).Addr()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readMessage(t, conn) // greeting

	if err := engine.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if engine.Registry().Count() != 0 {
		t.Fatalf("expected sessions drained on stop, got %d", engine.Registry().Count())
	}
	if _, err := engine.Registry().Create(&nullClient{}); err == nil {
		t.Fatalf("expected draining registry to reject new sessions")
	}
}

type nullClient struct{}

func (nullClient) Send(any) error { return nil }
func (nullClient) Close() error   { return nil }
