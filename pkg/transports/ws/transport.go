package ws

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clinicvoice/relay/pkg/errorsx"
	"github.com/clinicvoice/relay/pkg/logging"
	"github.com/clinicvoice/relay/pkg/transports"
	"github.com/gorilla/websocket"
)

type Config struct {
	Addr           string        `mapstructure:"addr"`
	Path           string        `mapstructure:"path"`
	HealthPath     string        `mapstructure:"health_path"`
	AllowAnyOrigin bool          `mapstructure:"allow_any_origin"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.HealthPath == "" {
		c.HealthPath = "/health"
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Transport serves the client-facing WebSocket endpoint. Each accepted
// connection gets a Handler from the Acceptor and a dedicated writer
// goroutine, so outbound messages for one client stay in order without
// one slow client stalling the others.
type Transport struct {
	cfg      Config
	acceptor transports.Acceptor
	upgrader websocket.Upgrader
	server   *http.Server
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]*Conn

	draining atomic.Bool
}

func New(cfg Config, acceptor transports.Acceptor) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg:      cfg,
		acceptor: acceptor,
		logger:   logging.NewComponentLogger(slog.Default(), "ws_transport"),
		conns:    make(map[string]*Conn),
	}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     t.checkOrigin,
	}
	return t
}

func (t *Transport) Name() string { return "ws" }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"addr": t.Addr(),
		"path": t.cfg.Path,
	}
}

// Addr reports the bound listen address. Useful when the configured
// address uses port 0.
func (t *Transport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return t.cfg.Addr
	}
	return t.listener.Addr().String()
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", t.cfg.Addr)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	mux := http.NewServeMux()
	mux.Handle(t.cfg.Path, t)
	mux.HandleFunc(t.cfg.HealthPath, t.handleHealth)
	t.server = &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("ws_transport_server_error", "error", err.Error())
		}
	}()
	t.logger.Info("ws_transport_listening", "addr", ln.Addr().String(), "path", t.cfg.Path)
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	conns := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[string]*Conn)
	t.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

func (t *Transport) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	wsConn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := newConn(wsConn, t.cfg.SendBuffer, t.cfg.WriteTimeout)
	handler, err := t.acceptor.Accept(conn)
	if err != nil {
		t.logger.Warn("ws_accept_rejected", "error", err.Error())
		_ = conn.Close()
		return
	}
	t.track(handler.ID(), conn)
	handler.Start()

	for {
		_, msg, err := wsConn.ReadMessage()
		if err != nil {
			break
		}
		handler.HandleMessage(msg)
	}

	t.untrack(handler.ID())
	t.acceptor.Release(handler.ID())
}

func (t *Transport) track(id string, c *Conn) {
	t.mu.Lock()
	t.conns[id] = c
	t.mu.Unlock()
}

func (t *Transport) untrack(id string) {
	t.mu.Lock()
	delete(t.conns, id)
	t.mu.Unlock()
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}
