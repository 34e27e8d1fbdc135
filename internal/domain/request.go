// internal/domain/request.go
package domain

// RequestData is the api selector plus its free-form parameters.
type RequestData struct {
	API    string         `json:"api" validate:"required"`
	Params map[string]any `json:"params"`
}

// RequestEnvelope is one decoded work-channel message. The request_id is
// caller-supplied and must be echoed verbatim on the reply channel — the
// broker itself provides no request/response correlation. Envelopes are
// immutable once decoded.
type RequestEnvelope struct {
	RequestID string      `json:"request_id" validate:"required"`
	Data      RequestData `json:"data" validate:"required"`
}
