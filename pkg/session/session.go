// Package session holds the per-connection relay state machine: one client
// connection, one upstream connection, and the conversation transcript.
// Sessions are the unit of isolation; no state is shared between them.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clinicvoice/relay/pkg/actions"
	"github.com/clinicvoice/relay/pkg/errorsx"
	"github.com/clinicvoice/relay/pkg/logging"
	"github.com/clinicvoice/relay/pkg/metrics"
	"github.com/clinicvoice/relay/pkg/realtime"
	"github.com/clinicvoice/relay/pkg/redact"
	"github.com/clinicvoice/relay/pkg/wire"
)

type State int

const (
	StateCreated State = iota
	StateAwaitingUpstream
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingUpstream:
		return "awaiting_upstream"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClientWriter is the session's exclusive handle to the client connection.
// Send preserves call order on the wire.
type ClientWriter interface {
	Send(v any) error
	Close() error
}

// Upstream abstracts the realtime connection owned by one session.
type Upstream interface {
	Connect(ctx context.Context) error
	SendSpeech(audioBase64, lastDoctorText string) error
	RequestSummary() error
	SendFunctionResult(callID string, result any) error
	Close() error
	Connected() bool
}

// UpstreamFactory builds the session's upstream connection with the session
// itself registered as the event handler.
type UpstreamFactory func(h realtime.Handler) Upstream

// ActionDispatcher is satisfied by actions.Dispatcher.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, name, callID string, args map[string]any) actions.Result
}

type Options struct {
	ID         string
	Client     ClientWriter
	Factory    UpstreamFactory
	Dispatcher ActionDispatcher
	Observer   metrics.Observer
}

type Session struct {
	id         string
	client     ClientWriter
	factory    UpstreamFactory
	dispatcher ActionDispatcher
	observer   metrics.Observer
	logger     *slog.Logger
	hist       *History

	mu       sync.Mutex
	state    State
	upstream Upstream

	closeOnce sync.Once
}

func New(opts Options) *Session {
	obs := opts.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	logger := logging.NewComponentLogger(slog.Default(), "session").
		With(slog.String("session_id", opts.ID))
	return &Session{
		id:         opts.ID,
		client:     opts.Client,
		factory:    opts.Factory,
		dispatcher: opts.Dispatcher,
		observer:   obs,
		logger:     logger,
		hist:       NewHistory(),
		state:      StateCreated,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) History() *History { return s.hist }

// Start sends the greeting carrying the session id. No other client-facing
// message is emitted before it.
func (s *Session) Start() {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return
	}
	s.state = StateAwaitingUpstream
	s.mu.Unlock()
	s.send(wire.NewSession(s.id))
	s.record("session_start", nil)
}

// HandleMessage processes one client-originated message. The transport
// calls it from a single read loop, so intents are handled strictly in
// arrival order.
func (s *Session) HandleMessage(data []byte) {
	in, err := wire.ParseInbound(data)
	if err != nil {
		s.sendError("invalid message: " + err.Error())
		return
	}
	switch in.Type {
	case wire.TypeConnect:
		s.handleConnect()
	case wire.TypeBeginConversation:
		s.handleSpeech(in.Audio)
	case wire.TypeGetSummary:
		s.handleSummary()
	default:
		s.sendError("unknown message type: " + in.Type)
	}
}

func (s *Session) handleConnect() {
	s.mu.Lock()
	if s.state != StateAwaitingUpstream {
		state := s.state
		s.mu.Unlock()
		s.sendError("connect not allowed in state " + state.String())
		return
	}
	up := s.factory(s)
	s.upstream = up
	s.mu.Unlock()

	if err := up.Connect(context.Background()); err != nil {
		s.logger.Error("upstream_connect_failed",
			"error", err.Error(),
			"reason_code", string(errorsx.Reason(err)),
		)
		_ = up.Close()
		s.mu.Lock()
		s.upstream = nil
		s.mu.Unlock()
		s.sendError(err.Error())
		return
	}

	s.mu.Lock()
	if s.state != StateAwaitingUpstream {
		// Session was torn down while the handshake was in flight.
		s.mu.Unlock()
		_ = up.Close()
		return
	}
	s.state = StateActive
	s.mu.Unlock()
	s.send(wire.NewOpenAIConnected())
	s.record("upstream_connected", nil)
}

func (s *Session) handleSpeech(audio string) {
	if strings.TrimSpace(audio) == "" {
		s.sendError("Audio data is required")
		return
	}
	up, ok := s.activeUpstream()
	if !ok {
		s.sendError("OpenAI connection not initialized")
		return
	}
	lastDoctor := s.hist.LastByRole(realtime.RoleDoctor)
	if err := up.SendSpeech(audio, lastDoctor); err != nil {
		s.logger.Error("speech_forward_failed",
			"error", err.Error(),
			"reason_code", string(errorsx.Reason(err)),
		)
		s.sendError(err.Error())
	}
}

func (s *Session) handleSummary() {
	up, ok := s.activeUpstream()
	if !ok {
		s.sendError("OpenAI connection not initialized")
		return
	}
	if err := up.RequestSummary(); err != nil {
		s.logger.Error("summary_request_failed",
			"error", err.Error(),
			"reason_code", string(errorsx.Reason(err)),
		)
		s.sendError(err.Error())
	}
}

// activeUpstream returns the upstream connection only when the session is
// Active; intents in any other state are reported errors, never crashes.
func (s *Session) activeUpstream() (Upstream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.upstream == nil {
		return nil, false
	}
	return s.upstream, true
}

// OnTextDelta implements realtime.Handler.
func (s *Session) OnTextDelta(delta string) {
	s.send(wire.NewTextDelta(delta))
}

// OnTextDone parses the completed turn, records it in the transcript, and
// forwards the parsed text and role to the client. A malformed payload is
// reported as an error message; the session continues.
func (s *Session) OnTextDone(text string) {
	tr, err := realtime.ParseTranscript(text)
	if err != nil {
		s.logger.Error("transcript_parse_failed",
			"error", err.Error(),
			"payload", redact.Text(text),
			"reason_code", string(errorsx.ReasonProtocolDecode),
		)
		s.sendError("failed to parse interpreter response")
		return
	}
	s.hist.Append(tr.Role, tr.Text)
	s.send(wire.NewTextDone(tr.Text, string(tr.Role)))
}

// OnAudioDelta implements realtime.Handler.
func (s *Session) OnAudioDelta(delta string) {
	s.send(wire.NewAudioDelta(delta))
}

// OnAudioDone implements realtime.Handler.
func (s *Session) OnAudioDone() {
	s.send(wire.NewAudioDone())
}

// OnFunctionCall dispatches a tool call and produces exactly one result,
// which goes upstream first so the model's turn is never left hanging, then
// to the client. A failed client notification is tolerated.
func (s *Session) OnFunctionCall(name, callID string, args map[string]any) {
	res := s.dispatcher.Dispatch(context.Background(), name, callID, args)

	s.mu.Lock()
	up := s.upstream
	s.mu.Unlock()
	if up != nil {
		if err := up.SendFunctionResult(callID, res); err != nil {
			s.logger.Error("function_result_send_failed",
				"action", name,
				"call_id", callID,
				"error", err.Error(),
				"reason_code", string(errorsx.Reason(err)),
			)
		}
	}
	s.send(wire.NewActionExecuted(name, res))
	s.record("action_executed", map[string]any{
		"action":  name,
		"call_id": callID,
		"success": res.Success,
	})
}

// OnClosed handles the upstream read loop ending. A transport failure is
// unrecoverable for the session; a nil error means the close was initiated
// locally and teardown is already underway.
func (s *Session) OnClosed(err error) {
	if err == nil {
		return
	}
	s.logger.Warn("upstream_closed", "error", err.Error())
	s.Close()
}

// Close tears the session down: upstream closed, client connection closed,
// history discarded. Idempotent and safe from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		up := s.upstream
		s.mu.Unlock()
		if up != nil {
			_ = up.Close()
		}
		_ = s.client.Close()
		s.hist.Reset()
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.record("session_end", nil)
		s.logger.Info("session_closed")
	})
}

func (s *Session) send(v any) {
	if err := s.client.Send(v); err != nil {
		s.logger.Warn("client_send_failed",
			"error", err.Error(),
			"reason_code", string(errorsx.ReasonTransportSend),
		)
	}
}

func (s *Session) sendError(msg string) {
	s.send(wire.NewError(msg))
}

func (s *Session) record(name string, fields map[string]any) {
	s.observer.RecordEvent(metrics.Event{
		Name:   name,
		Time:   time.Now(),
		Tags:   map[string]string{"session_id": s.id},
		Fields: fields,
	})
}

var _ realtime.Handler = (*Session)(nil)
