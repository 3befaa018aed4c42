package relay

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/clinicvoice/relay/pkg/actions"
	"github.com/clinicvoice/relay/pkg/configutil"
	"github.com/clinicvoice/relay/pkg/logging"
	"github.com/clinicvoice/relay/pkg/metrics"
	"github.com/clinicvoice/relay/pkg/observers"
	"github.com/clinicvoice/relay/pkg/realtime"
	"github.com/clinicvoice/relay/pkg/redact"
	"github.com/clinicvoice/relay/pkg/runner"
	"github.com/clinicvoice/relay/pkg/session"
	"github.com/clinicvoice/relay/pkg/transports"
	"github.com/clinicvoice/relay/pkg/transports/ws"
)

// UpstreamBuilder creates the upstream connection for one session. Tests
// swap in a fake; production uses the OpenAI Realtime client.
type UpstreamBuilder func(streamID string, h realtime.Handler) session.Upstream

type EngineOptions struct {
	Config Config
	// Optional overrides.
	Transport transports.Transport
	Upstream  UpstreamBuilder
	Executor  actions.Executor
}

// Engine wires the transport, session registry, upstream factory, and
// action dispatcher together and drives the process lifecycle.
type Engine struct {
	cfg       Config
	registry  *session.Registry
	transport transports.Transport
	runner    *runner.LifecycleRunner
	asyncObs  *metrics.AsyncObserver
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	logging.SetDefault(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	slog.Info("relay_init",
		"environment", cfg.Environment,
		"transport", cfg.Transports.Provider,
		"upstream_url", cfg.Upstream.URL,
	)

	logObs := observers.NewLoggerObserver(slog.Default())
	multiObs := observers.NewMultiObserver(logObs)
	asyncObs := metrics.NewAsyncObserver(multiObs, cfg.Observability.EventBuffer)

	executor := opts.Executor
	if executor == nil {
		executor = actions.NewWebhookExecutor(actions.WebhookConfig{
			URL:          cfg.Actions.WebhookURL,
			Timeout:      time.Duration(cfg.Actions.TimeoutMS) * time.Millisecond,
			Retries:      cfg.Actions.Retries,
			RetryBackoff: time.Duration(cfg.Actions.RetryBackoffMS) * time.Millisecond,
		})
	}
	dispatcher := actions.NewDispatcher(executor)

	buildUpstream := opts.Upstream
	if buildUpstream == nil {
		buildUpstream = func(streamID string, h realtime.Handler) session.Upstream {
			return realtime.New(realtime.Config{
				URL:            cfg.Upstream.URL,
				APIKey:         cfg.Upstream.APIKey,
				Modalities:     cfg.Upstream.Modalities,
				Voice:          cfg.Upstream.Voice,
				Tools:          actions.Tools(),
				StreamID:       streamID,
				ConnectTimeout: time.Duration(cfg.Upstream.ConnectTimeoutMS) * time.Millisecond,
				PollInterval:   time.Duration(cfg.Upstream.PollIntervalMS) * time.Millisecond,
				WriteTimeout:   time.Duration(cfg.Upstream.WriteTimeoutMS) * time.Millisecond,
			}, h)
		}
	}

	registry := session.NewRegistry(func(id string, client session.ClientWriter) *session.Session {
		return session.New(session.Options{
			ID:     id,
			Client: client,
			Factory: func(h realtime.Handler) session.Upstream {
				return buildUpstream(id, h)
			},
			Dispatcher: dispatcher,
			Observer:   asyncObs,
		})
	})

	transport := opts.Transport
	if transport == nil {
		var err error
		transport, err = buildTransport(cfg.Transports, registryAcceptor{reg: registry})
		if err != nil {
			return nil, err
		}
	}

	hooks := runner.Hooks{
		OnStart: func() {
			fields := []any{"message", "Relay Ready"}
			if rr, ok := transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			slog.Info("engine_ready", fields...)
		},
		OnStop: func() {
			if asyncObs != nil {
				asyncObs.Close()
			}
			slog.Info("shutdown",
				"goroutines", runtime.NumGoroutine(),
				"active_sessions", registry.Count(),
			)
		},
	}

	drainer := runner.DrainerFunc(func() error {
		_ = transport.Stop()
		registry.SetDraining(true)
		registry.CloseAll()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		_ = registry.WaitForEmpty(ctx, 200*time.Millisecond)
		return nil
	})

	lr := runner.NewLifecycleRunner(drainer, hooks, 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		registry:  registry,
		transport: transport,
		runner:    lr,
		asyncObs:  asyncObs,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// registryAcceptor binds the transport's connection lifecycle to the
// session registry.
type registryAcceptor struct {
	reg *session.Registry
}

func (a registryAcceptor) Accept(client transports.ClientWriter) (transports.Handler, error) {
	sess, err := a.reg.Create(client)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (a registryAcceptor) Release(id string) {
	a.reg.Remove(id)
}

func buildTransport(cfg TransportsConfig, acceptor transports.Acceptor) (transports.Transport, error) {
	switch cfg.Provider {
	case "ws":
		if err := configutil.ValidateSettings(cfg.Settings, configutil.Schema{
			Optional: []string{"addr", "path", "health_path", "allow_any_origin", "allowed_origins", "write_timeout", "send_buffer"},
		}); err != nil {
			return nil, fmt.Errorf("transports.settings: %w", err)
		}
		var wsCfg ws.Config
		if err := configutil.DecodeSettings(cfg.Settings, &wsCfg); err != nil {
			return nil, fmt.Errorf("decode ws transport settings: %w", err)
		}
		return ws.New(wsCfg, acceptor), nil
	default:
		return nil, fmt.Errorf("unknown transport provider %q", cfg.Provider)
	}
}

func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.transport.Start(ctx); err != nil {
		return err
	}
	go func() {
		_ = e.runner.Run(ctx)
	}()
	return nil
}

func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.runner.Stop()
}

func (e *Engine) Registry() *session.Registry { return e.registry }

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Health() error {
	if e.transport == nil {
		return fmt.Errorf("missing transport")
	}
	return nil
}
