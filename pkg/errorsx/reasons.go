package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonValidation ReasonCode = "validation"

	ReasonUpstreamNotConnected   ReasonCode = "upstream_not_connected"
	ReasonUpstreamConnect        ReasonCode = "upstream_connect"
	ReasonUpstreamConnectTimeout ReasonCode = "upstream_connect_timeout"
	ReasonUpstreamSend           ReasonCode = "upstream_send"
	ReasonProtocolDecode         ReasonCode = "protocol_decode"

	ReasonTransportSend ReasonCode = "transport_send"

	ReasonUnknownAction ReasonCode = "unknown_action"
	ReasonActionExecute ReasonCode = "action_execute"
	ReasonActionTimeout ReasonCode = "action_timeout"
)
