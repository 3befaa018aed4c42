// Package realtime owns one persistent full-duplex connection to the
// OpenAI Realtime endpoint per session and hides the wire framing behind
// typed handler callbacks.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clinicvoice/relay/pkg/errorsx"
	"github.com/clinicvoice/relay/pkg/logging"
)

// Handler receives decoded upstream events. Calls arrive from the single
// connection read loop, one at a time, in arrival order.
type Handler interface {
	OnTextDelta(delta string)
	OnTextDone(text string)
	OnAudioDelta(delta string)
	OnAudioDone()
	OnFunctionCall(name, callID string, args map[string]any)
	OnClosed(err error)
}

type Config struct {
	URL        string
	APIKey     string
	Modalities []string
	Voice      string
	Tools      []Tool
	StreamID   string

	ConnectTimeout time.Duration
	PollInterval   time.Duration
	WriteTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.Modalities) == 0 {
		c.Modalities = []string{"text"}
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 3 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Client is one upstream connection. It is owned by exactly one session and
// never shared or pooled. At most one Connect per instance.
type Client struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	connected atomic.Bool
	ready     atomic.Bool
	dead      atomic.Bool
	closed    atomic.Bool
}

func New(cfg Config, handler Handler) *Client {
	cfg = cfg.withDefaults()
	logger := logging.NewComponentLogger(slog.Default(), "realtime")
	if cfg.StreamID != "" {
		logger = logger.With(slog.String("stream_id", cfg.StreamID))
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Connect dials the endpoint, sends the session configuration carrying the
// tool catalog, and waits for the handshake-complete signal. The wait is
// bounded: polls at PollInterval up to ConnectTimeout, then fails.
func (c *Client) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.closed.Load() {
		return errorsx.New(errorsx.ReasonUpstreamConnect, "realtime client already closed")
	}
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonUpstreamConnect)
	}
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	go c.readLoop(conn)

	if err := c.write(sessionUpdateEvent{
		Type: "session.update",
		Session: sessionConfig{
			Modalities:   c.cfg.Modalities,
			Instructions: sessionInstructions,
			Voice:        c.cfg.Voice,
			Tools:        toolPayload(c.cfg.Tools),
			ToolChoice:   "auto",
		},
	}); err != nil {
		_ = c.Close()
		return err
	}

	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	for time.Now().Before(deadline) {
		if c.dead.Load() {
			_ = c.Close()
			return errorsx.New(errorsx.ReasonUpstreamConnect, "realtime connection closed during handshake")
		}
		if c.ready.Load() {
			c.connected.Store(true)
			// The read loop's exit is decisive: it may have died between
			// the ready check and the store above.
			if c.dead.Load() {
				c.connected.Store(false)
				_ = c.Close()
				return errorsx.New(errorsx.ReasonUpstreamConnect, "realtime connection closed during handshake")
			}
			c.logger.Info("realtime_connected")
			return nil
		}
		select {
		case <-ctx.Done():
			_ = c.Close()
			return errorsx.Wrap(ctx.Err(), errorsx.ReasonUpstreamConnect)
		case <-time.After(c.cfg.PollInterval):
		}
	}
	_ = c.Close()
	return errorsx.New(errorsx.ReasonUpstreamConnectTimeout, "timed out waiting for realtime handshake")
}

// SendSpeech appends the audio as a user turn and requests a response with
// translation instructions. lastDoctorText supplies the context used for
// "repeat that" requests.
func (c *Client) SendSpeech(audioBase64, lastDoctorText string) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	if err := c.write(itemCreateEvent{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []contentPart{{Type: "input_audio", Audio: audioBase64}},
		},
	}); err != nil {
		return err
	}
	return c.write(responseCreateEvent{
		Type: "response.create",
		Response: &responseConfig{
			Modalities:   c.cfg.Modalities,
			Instructions: speechInstructions(lastDoctorText),
			Tools:        toolPayload(c.cfg.Tools),
			ToolChoice:   "auto",
		},
	})
}

// RequestSummary asks the model for a structured summary of the
// conversation so far.
func (c *Client) RequestSummary() error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	if err := c.write(itemCreateEvent{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []contentPart{{Type: "input_text", Text: summaryPrompt}},
		},
	}); err != nil {
		return err
	}
	return c.write(responseCreateEvent{
		Type: "response.create",
		Response: &responseConfig{
			Modalities:   c.cfg.Modalities,
			Instructions: summaryInstructions,
		},
	})
}

// SendFunctionResult submits a tool call's output keyed by callID and asks
// the model to continue the turn.
func (c *Client) SendFunctionResult(callID string, result any) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	out, err := json.Marshal(result)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonUpstreamSend)
	}
	if err := c.write(itemCreateEvent{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: string(out),
		},
	}); err != nil {
		return err
	}
	return c.write(responseCreateEvent{Type: "response.create"})
}

// Close terminates the connection. Idempotent and safe from any state.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.connected.Store(false)
	c.writeMu.Lock()
	conn := c.conn
	c.conn = nil
	c.writeMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	return nil
}

func (c *Client) requireConnected() error {
	if !c.connected.Load() {
		return errorsx.New(errorsx.ReasonUpstreamNotConnected, "realtime connection not established")
	}
	return nil
}

func (c *Client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errorsx.New(errorsx.ReasonUpstreamNotConnected, "realtime connection not established")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonUpstreamSend)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	var loopErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				loopErr = errorsx.Wrap(err, errorsx.ReasonTransportSend)
			}
			break
		}
		c.dispatch(data)
	}
	c.dead.Store(true)
	c.connected.Store(false)
	if c.handler != nil {
		c.handler.OnClosed(loopErr)
	}
}

func (c *Client) dispatch(data []byte) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Error("realtime_decode_failed",
			"error", err.Error(),
			"reason_code", string(errorsx.ReasonProtocolDecode),
		)
		return
	}
	switch ev.Type {
	case eventSessionCreated, eventSessionUpdated:
		c.ready.Store(true)
	case eventTextDelta:
		c.handler.OnTextDelta(ev.Delta)
	case eventTextDone:
		c.handler.OnTextDone(ev.Text)
	case eventAudioDelta:
		c.handler.OnAudioDelta(ev.Delta)
	case eventAudioDone:
		c.handler.OnAudioDone()
	case eventFunctionDone:
		args := map[string]any{}
		if err := json.Unmarshal([]byte(ev.Arguments), &args); err != nil {
			// Upstream will not resend the call, so the event is dropped.
			c.logger.Error("realtime_function_args_decode_failed",
				"tool_name", ev.Name,
				"call_id", ev.CallID,
				"error", err.Error(),
				"reason_code", string(errorsx.ReasonProtocolDecode),
			)
			return
		}
		c.handler.OnFunctionCall(ev.Name, ev.CallID, args)
	case eventError:
		c.logger.Error("realtime_upstream_error", "message", ev.errorMessage())
	default:
		// Unknown event kinds never fail the session.
	}
}
