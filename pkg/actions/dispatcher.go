// Package actions validates tool calls emitted by the upstream model and
// executes their side effects, exactly once per call.
package actions

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/clinicvoice/relay/pkg/errorsx"
	"github.com/clinicvoice/relay/pkg/logging"
	"github.com/clinicvoice/relay/pkg/redact"
)

// Executor performs the actual side effect for one validated action. A
// returned error means the side effect could not be attempted (local or
// transport failure); any attempted delivery is a success.
type Executor interface {
	Execute(ctx context.Context, action string, fields map[string]any) (Result, error)
}

// Dispatcher maps tool-call names to validation plus Executor invocation
// and normalizes every outcome into a Result. It never panics and always
// produces exactly one Result per call.
type Dispatcher struct {
	exec   Executor
	specs  map[string]Spec
	logger *slog.Logger
}

func NewDispatcher(exec Executor) *Dispatcher {
	specs := make(map[string]Spec)
	for _, s := range Catalog() {
		specs[s.Name] = s
	}
	return &Dispatcher{
		exec:   exec,
		specs:  specs,
		logger: logging.NewComponentLogger(slog.Default(), "actions"),
	}
}

// Dispatch validates arguments, invokes the executor, and returns the
// result envelope. Unrecognized names and missing required fields fail
// fast without reaching the executor.
func (d *Dispatcher) Dispatch(ctx context.Context, name, callID string, args map[string]any) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	spec, ok := d.specs[name]
	if !ok {
		d.logger.Warn("unknown_action",
			"action", name,
			"call_id", callID,
			"reason_code", string(errorsx.ReasonUnknownAction),
		)
		return errorResult("unknown action: " + name)
	}
	fields, err := spec.buildPayload(args)
	if err != nil {
		d.logger.Warn("action_validation_failed",
			"action", name,
			"call_id", callID,
			"error", err.Error(),
			"reason_code", string(errorsx.Reason(err)),
		)
		return errorResult(err.Error())
	}
	d.logger.Info("action_dispatch",
		"action", name,
		"call_id", callID,
		"fields", redact.Fields(fields),
	)
	res, err := d.exec.Execute(ctx, name, fields)
	if err != nil {
		d.logger.Error("action_execute_failed",
			"action", name,
			"call_id", callID,
			"error", err.Error(),
			"reason_code", string(errorsx.Reason(err)),
		)
		return errorResult(err.Error())
	}
	res.Success = true
	if spec.Summary != nil {
		res.Message = spec.Summary(fields)
	}
	return res
}

// buildPayload validates required arguments, applies defaults, and maps
// argument names onto webhook payload keys. The generation timestamp is
// always included.
func (s Spec) buildPayload(args map[string]any) (map[string]any, error) {
	fields := make(map[string]any, len(s.PayloadKeys)+2)
	for _, req := range s.Required {
		v, ok := stringArg(args, req)
		if !ok {
			return nil, errorsx.New(errorsx.ReasonValidation, "%s is required", req)
		}
		fields[s.PayloadKeys[req]] = v
	}
	for arg, fallback := range s.Defaults {
		v, ok := stringArg(args, arg)
		if !ok {
			v = fallback
		}
		fields[s.PayloadKeys[arg]] = v
	}
	fields["action"] = s.Name
	fields["timestamp"] = time.Now().Format(time.RFC3339)
	return fields, nil
}

func stringArg(args map[string]any, name string) (string, bool) {
	raw, ok := args[name]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}
