package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/EddyChen/diagno-core/common/logger"
	"go.opentelemetry.io/otel/attribute"
)

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
	Images  []string       `json:"images,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string  `json:"model"`
	Response *string `json:"response"`
	Done     bool    `json:"done"`
}

const maxErrorBody = 2048

type ollamaClient struct {
	httpClient *http.Client
}

// NewOllama returns a Generator speaking the Ollama /api/generate protocol.
// Deadlines come from the request context; a nil client uses one without a timeout.
func NewOllama(httpClient *http.Client) Generator {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ollamaClient{httpClient: httpClient}
}

func (c *ollamaClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if req.URL == "" {
		return nil, ErrEndpointNotConfigured
	}

	sc := logger.StartSpan(ctx, "llm.ollama.generate")
	defer sc.End()
	ctx = sc.Context()
	sc.Span().SetAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.images", len(req.Images)),
	)

	payload := ollamaGenerateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		Stream: req.Options.Stream,
		Options: map[string]any{
			"temperature": req.Options.Temperature,
			"top_p":       req.Options.TopP,
		},
		Images: req.Images,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		sc.RecordError(err)
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		sc.RecordError(err)
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		sc.RecordError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		sc.RecordError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ConnectionError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: logger.Truncate(string(respBody), maxErrorBody)}
		sc.RecordError(statusErr)
		slog.WarnContext(ctx, "ollama returned an error",
			"status_code", resp.StatusCode,
			"model", req.Model,
			"body", logger.Truncate(string(respBody), 200))
		return nil, statusErr
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &out); err != nil || out.Response == nil {
		sc.RecordError(ErrInvalidResponse)
		return nil, ErrInvalidResponse
	}

	duration := time.Since(start)
	slog.DebugContext(ctx, "ollama generate completed",
		"model", req.Model,
		"duration_ms", duration.Milliseconds(),
		"response_len", len(*out.Response))

	return &GenerateResponse{Text: *out.Response, Duration: duration}, nil
}
