package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/EddyChen/diagno-core/common/logger"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
)

type openAIClient struct {
	apiKey     string
	httpClient *http.Client
}

// NewOpenAI returns a Generator for OpenAI-compatible chat completion servers.
// The request URL is used as the API base URL. Images are not forwarded.
func NewOpenAI(apiKey string, httpClient *http.Client) Generator {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &openAIClient{apiKey: apiKey, httpClient: httpClient}
}

func (c *openAIClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if req.URL == "" {
		return nil, ErrEndpointNotConfigured
	}

	sc := logger.StartSpan(ctx, "llm.openai.chat")
	defer sc.End()
	ctx = sc.Context()
	sc.Span().SetAttributes(attribute.String("llm.model", req.Model))

	opts := []option.RequestOption{
		option.WithBaseURL(req.URL),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	}
	if c.apiKey != "" {
		opts = append(opts, option.WithAPIKey(c.apiKey))
	}
	client := openai.NewClient(opts...)

	params := openai.ChatCompletionNewParams{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(req.Options.Temperature),
		TopP:        openai.Float(req.Options.TopP),
	}

	start := time.Now()
	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		sc.RecordError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{StatusCode: apiErr.StatusCode, Body: logger.Truncate(apiErr.Message, maxErrorBody)}
		}
		return nil, &ConnectionError{Err: err}
	}

	if len(resp.Choices) == 0 {
		sc.RecordError(ErrInvalidResponse)
		return nil, fmt.Errorf("no choices in response: %w", ErrInvalidResponse)
	}

	duration := time.Since(start)
	slog.DebugContext(ctx, "openai chat completed",
		"model", req.Model,
		"duration_ms", duration.Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return &GenerateResponse{Text: resp.Choices[0].Message.Content, Duration: duration}, nil
}
