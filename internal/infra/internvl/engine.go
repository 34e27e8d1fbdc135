// internal/infra/internvl/engine.go
package internvl

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jack139/internvl-backend/internal/domain"
)

// Config holds the engine construction parameters. ModelPath, DeviceCount
// and MainDevice are forwarded to the serving process in the load request.
type Config struct {
	Endpoint    string
	ModelPath   string
	DeviceCount int
	MainDevice  int
	Timeout     time.Duration
}

// Engine implements domain.InferenceEngine against an InternVL serving
// process over HTTP. Loading the model is expensive and happens once, at
// construction; the dispatcher treats a load failure as fatal.
//
// The endpoint serializes inference internally for a single-device model,
// so callers must keep the dispatch pool at size 1 unless the deployment
// states otherwise.
type Engine struct {
	client   *http.Client
	endpoint string
	logger   *slog.Logger
	tracer   trace.Tracer
}

var _ domain.InferenceEngine = (*Engine)(nil)

// New builds the client and instructs the serving process to load the
// model onto the configured devices.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Engine, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	e := &Engine{
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		logger:   logger.With("component", "internvl-engine"),
		tracer:   otel.Tracer("internvl-engine"),
	}

	if err := e.loadModel(ctx, cfg); err != nil {
		return nil, fmt.Errorf("internvl: load model: %w", err)
	}

	e.logger.Info("model loaded",
		"model_path", cfg.ModelPath,
		"device_count", cfg.DeviceCount,
		"main_device", cfg.MainDevice,
	)
	return e, nil
}

type loadRequest struct {
	ModelPath   string `json:"model_path"`
	DeviceCount int    `json:"device_count"`
	MainDevice  int    `json:"main_device"`
}

type chatRequest struct {
	Text string `json:"text"`
	// Image is re-encoded for transport; the engine boundary itself takes
	// decoded image bytes.
	Image string `json:"image"`
}

type chatResponse struct {
	Result string `json:"result"`
}

func (e *Engine) loadModel(ctx context.Context, cfg Config) error {
	body := loadRequest{
		ModelPath:   cfg.ModelPath,
		DeviceCount: cfg.DeviceCount,
		MainDevice:  cfg.MainDevice,
	}
	return e.post(ctx, "/load", body, nil)
}

// ChatWithImage answers a free-text question about a decoded image.
func (e *Engine) ChatWithImage(ctx context.Context, text string, image []byte) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.ChatWithImage",
		trace.WithAttributes(attribute.Int("image.bytes", len(image))))
	defer span.End()

	var out chatResponse
	req := chatRequest{
		Text:  text,
		Image: base64.StdEncoding.EncodeToString(image),
	}
	if err := e.post(ctx, "/chat", req, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "engine chat failed")
		return "", err
	}
	return out.Result, nil
}

// post sends one JSON request and decodes the JSON response into out when
// out is non-nil. Non-2xx responses become errors carrying a body snippet.
func (e *Engine) post(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
