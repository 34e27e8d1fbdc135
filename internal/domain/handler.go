// internal/domain/handler.go
package domain

import "context"

// RequestDecoder turns a raw work-channel payload into a typed envelope.
// When the payload parses as JSON but fails envelope validation, the
// partially decoded envelope is returned alongside the error so the caller
// can still correlate a coded reply.
type RequestDecoder interface {
	Decode(payload []byte) (*RequestEnvelope, error)
}

// RequestProcessor executes one decoded request end to end: api dispatch,
// engine call, result classification and publication. Both methods always
// recover into a published coded Result — they never propagate errors back
// to the dispatch pool.
type RequestProcessor interface {
	ProcessRequest(ctx context.Context, env *RequestEnvelope)

	// RejectRequest publishes the coded Result for a payload that failed
	// decoding. env may be nil when nothing could be parsed at all; the
	// reject is then logged only, since there is no channel to reply on.
	RejectRequest(ctx context.Context, env *RequestEnvelope, cause error)
}
