// internal/domain/result.go
package domain

import "errors"

// Caller-facing result codes. Zero is success; every nonzero code is a
// fixed classification that callers match on, so the values must never
// change between releases.
const (
	CodeSuccess          = 0
	CodeUnknownAPI       = 9900 // api field not registered
	CodeBadBase64        = 9901 // image payload is not valid base64
	CodeMalformedRequest = 9902 // payload failed structural decoding
	CodeInternalError    = 9998 // anything else that went wrong while processing
)

// Result is the reply published on the per-request channel. It is built
// exactly once per request by exactly one worker.
type Result struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Result any    `json:"result,omitempty"`
}

// Sentinel errors used by the decode/dispatch step. They carry the
// classification; the message text is appended where the error occurs.
var (
	// ErrUnknownAPI means the envelope named an api that is not registered.
	ErrUnknownAPI = errors.New("未知 api 调用")

	// ErrMalformedRequest means the payload failed structural decoding,
	// either as JSON or against the envelope schema.
	ErrMalformedRequest = errors.New("json编码异常")
)
