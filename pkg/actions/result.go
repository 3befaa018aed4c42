package actions

// Result is the uniform envelope produced for every dispatched tool call,
// sent upstream as the function output and surfaced to the client as the
// action_executed notification.
type Result struct {
	Success        bool           `json:"success"`
	Message        string         `json:"message,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	Error          string         `json:"error,omitempty"`
}

func errorResult(msg string) Result {
	return Result{Success: false, Error: msg}
}
