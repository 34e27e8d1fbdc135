// internal/usecase/chat_service.go
package usecase

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"time"

	// Image formats the engine accepts; registered for DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jack139/internvl-backend/internal/domain"
	"github.com/jack139/internvl-backend/internal/metrics"
)

// APIInternVLChat is the single registered operation: chat over an image
// plus a text instruction.
const APIInternVLChat = "/api/internvl/chat"

// ChatService decodes work-channel payloads, dispatches them on the api
// field, runs the inference engine and publishes the coded Result on the
// per-request reply channel. Every failure mode maps to a fixed result
// code; nothing processed here ever crashes a pool worker.
type ChatService struct {
	engine   domain.InferenceEngine
	broker   domain.Broker
	validate *validator.Validate
	logger   *slog.Logger
	tracer   trace.Tracer
}

var (
	_ domain.RequestDecoder   = (*ChatService)(nil)
	_ domain.RequestProcessor = (*ChatService)(nil)
)

// NewChatService creates the request handling service.
func NewChatService(engine domain.InferenceEngine, broker domain.Broker, logger *slog.Logger) *ChatService {
	return &ChatService{
		engine:   engine,
		broker:   broker,
		validate: validator.New(),
		logger:   logger.With("component", "chat-service"),
		tracer:   otel.Tracer("internvl-dispatcher"),
	}
}

// Decode parses a raw payload into an envelope. When the payload is JSON
// but fails envelope validation, the partial envelope is returned with the
// error so the reject path can still address a reply channel.
func (s *ChatService) Decode(payload []byte) (*domain.RequestEnvelope, error) {
	var env domain.RequestEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedRequest, err)
	}
	if err := s.validate.Struct(&env); err != nil {
		return &env, fmt.Errorf("%w: %v", domain.ErrMalformedRequest, err)
	}
	return &env, nil
}

// ProcessRequest runs one decoded envelope to completion and publishes
// exactly one Result on the envelope's reply channel.
func (s *ChatService) ProcessRequest(ctx context.Context, env *domain.RequestEnvelope) {
	ctx, span := s.tracer.Start(ctx, "dispatcher.ProcessRequest",
		trace.WithAttributes(
			attribute.String("request.id", env.RequestID),
			attribute.String("request.api", env.Data.API),
		))
	defer span.End()

	s.logger.Info("calling api", "request_id", env.RequestID, "api", env.Data.API)
	start := time.Now()

	res := s.process(ctx, env)

	elapsed := time.Since(start)
	metrics.JobsProcessedTotal.WithLabelValues(env.Data.API, strconv.Itoa(res.Code)).Inc()
	metrics.JobDurationSeconds.WithLabelValues(env.Data.API).Observe(elapsed.Seconds())
	if res.Code != domain.CodeSuccess {
		span.SetStatus(codes.Error, res.Msg)
	}

	s.publish(ctx, env.RequestID, res)

	s.logger.Info("api call finished",
		"request_id", env.RequestID,
		"api", env.Data.API,
		"code", res.Code,
		"time_taken", elapsed.String(),
	)
}

// RejectRequest publishes the coded Result for a payload that failed
// decoding. Without a request_id there is no channel to reply on, so the
// reject is logged and counted as dropped — the caller only ever observes
// its own reply-wait timeout.
func (s *ChatService) RejectRequest(ctx context.Context, env *domain.RequestEnvelope, cause error) {
	s.logger.Error("json转换异常", "error", cause)

	if env == nil || env.RequestID == "" {
		metrics.ResultsPublishedTotal.WithLabelValues("dropped").Inc()
		return
	}

	res := domain.Result{Code: domain.CodeMalformedRequest, Msg: cause.Error()}
	metrics.JobsProcessedTotal.WithLabelValues(env.Data.API, strconv.Itoa(res.Code)).Inc()
	s.publish(ctx, env.RequestID, res)
}

// process dispatches on the api field. Every branch returns a complete
// Result — either a clean success or a fully coded failure, never a mix.
func (s *ChatService) process(ctx context.Context, env *domain.RequestEnvelope) domain.Result {
	switch env.Data.API {
	case APIInternVLChat:
		return s.chatWithImage(ctx, env)
	default:
		s.logger.Error("unknown api", "request_id", env.RequestID, "api", env.Data.API)
		return domain.Result{Code: domain.CodeUnknownAPI, Msg: domain.ErrUnknownAPI.Error()}
	}
}

func (s *ChatService) chatWithImage(ctx context.Context, env *domain.RequestEnvelope) domain.Result {
	text, ok := env.Data.Params["text"].(string)
	if !ok {
		return malformed(`params field "text" must be a string`)
	}
	imgB64, ok := env.Data.Params["image"].(string)
	if !ok {
		return malformed(`params field "image" must be a base64 string`)
	}

	raw, err := base64.StdEncoding.DecodeString(imgB64)
	if err != nil {
		s.logger.Error("编码转换异常", "request_id", env.RequestID, "error", err)
		return domain.Result{Code: domain.CodeBadBase64, Msg: "base64编码异常: " + err.Error()}
	}

	// Valid base64 that is not a decodable image is an unclassified
	// processing error, same as any other engine-side failure.
	if _, _, err := image.DecodeConfig(bytes.NewReader(raw)); err != nil {
		s.logger.Error("未知异常", "request_id", env.RequestID, "error", err)
		return domain.Result{Code: domain.CodeInternalError, Msg: "未知错误: " + err.Error()}
	}

	answer, err := s.engine.ChatWithImage(ctx, text, raw)
	if err != nil {
		s.logger.Error("未知异常", "request_id", env.RequestID, "error", err)
		return domain.Result{Code: domain.CodeInternalError, Msg: "未知错误: " + err.Error()}
	}

	return domain.Result{Code: domain.CodeSuccess, Msg: "success", Result: answer}
}

// publish serializes the Result and publishes it on the channel named by
// the request_id. Publish failures are logged and swallowed: a reply lost
// at publish time is never retried.
func (s *ChatService) publish(ctx context.Context, requestID string, res domain.Result) {
	payload, err := json.Marshal(res)
	if err != nil {
		s.logger.Error("failed to marshal result", "request_id", requestID, "error", err)
		metrics.ResultsPublishedTotal.WithLabelValues("error").Inc()
		return
	}

	if err := s.broker.Publish(ctx, requestID, payload); err != nil {
		s.logger.Error("failed to publish result", "request_id", requestID, "error", err)
		metrics.ResultsPublishedTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.ResultsPublishedTotal.WithLabelValues("ok").Inc()
}

func malformed(detail string) domain.Result {
	return domain.Result{
		Code: domain.CodeMalformedRequest,
		Msg:  domain.ErrMalformedRequest.Error() + ": " + detail,
	}
}
