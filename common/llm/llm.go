package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
)

// Protocol constants select the wire format used for an inference endpoint.
const (
	ProtocolGenerate = "generate" // Ollama /api/generate
	ProtocolOpenAI   = "openai"   // OpenAI-compatible chat completions
)

// Generator sends one prompt to an inference endpoint and returns the raw model text.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

type GenerateRequest struct {
	URL     string   // full endpoint URL; empty means not configured
	Model   string   // model identifier
	Prompt  string   // instruction text
	Images  []string // base64 payloads without data URL prefix
	Options Options
}

type Options struct {
	Temperature float64
	TopP        float64
	Stream      bool
}

type GenerateResponse struct {
	Text     string
	Duration time.Duration
}

var (
	ErrEndpointNotConfigured = errors.New("endpoint not configured")
	ErrInvalidResponse       = errors.New("invalid response: missing response field")
)

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference service returned %d", e.StatusCode)
}

// ConnectionError is returned when the endpoint could not be reached.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to inference service: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Registry maps a protocol name to its Generator.
type Registry map[string]Generator

// For returns the Generator for protocol, falling back to ProtocolGenerate.
func (r Registry) For(protocol string) (Generator, error) {
	if protocol == "" {
		protocol = ProtocolGenerate
	}
	g, ok := r[protocol]
	if !ok {
		return nil, fmt.Errorf("unsupported inference protocol: %s", protocol)
	}
	return g, nil
}

func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}
