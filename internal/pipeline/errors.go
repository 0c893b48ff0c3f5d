package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/EddyChen/diagno-core/common/llm"
)

type Stage string

const (
	StageUnknown  Stage = "unknown"
	StageOCR      Stage = "ocr"
	StageAnalysis Stage = "analysis"
)

// Label is the stage name used in user-facing messages.
func (s Stage) Label() string {
	switch s {
	case StageOCR:
		return "OCR"
	case StageAnalysis:
		return "Analysis"
	default:
		return "Capture"
	}
}

type ErrorKind string

const (
	KindEndpointNotConfigured ErrorKind = "endpoint_not_configured"
	KindServiceError          ErrorKind = "service_error"
	KindConnectionError       ErrorKind = "connection_error"
	KindInvalidResponse       ErrorKind = "invalid_response"
	KindTimeout               ErrorKind = "timeout"
	KindInvalidCapture        ErrorKind = "invalid_capture"
	KindCanceled              ErrorKind = "canceled"
)

var (
	// ErrSuperseded is returned to a run whose slot was taken by a newer capture.
	ErrSuperseded = errors.New("capture superseded by a newer request")
	// ErrNoActiveRun is returned when there is no run with suggestions to act on.
	ErrNoActiveRun = errors.New("no capture with suggestions is in progress")
	// ErrStaleRun is returned when the caller names a run that no longer owns the slot.
	ErrStaleRun = errors.New("capture run is no longer current")
)

// StageError is a pipeline failure attributed to the stage that produced it.
type StageError struct {
	Stage   Stage
	Kind    ErrorKind
	Status  int // upstream HTTP status for KindServiceError
	Message string
	Err     error
}

func (e *StageError) Error() string {
	return e.Message
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func invalidCapture(msg string) *StageError {
	return &StageError{Stage: StageUnknown, Kind: KindInvalidCapture, Message: msg}
}

func timeoutError(stage Stage, after time.Duration) *StageError {
	return &StageError{
		Stage: stage,
		Kind:  KindTimeout,
		Message: fmt.Sprintf("%s request timed out after %s. This might be due to server load or network issues. Please try again in a few minutes.",
			stage.Label(), after),
		Err: context.DeadlineExceeded,
	}
}

// classify maps an inference error to a stage-tagged error with actionable wording.
func classify(stage Stage, err error) *StageError {
	label := stage.Label()

	var statusErr *llm.StatusError
	var connErr *llm.ConnectionError

	switch {
	case errors.Is(err, llm.ErrEndpointNotConfigured):
		return &StageError{Stage: stage, Kind: KindEndpointNotConfigured, Err: err,
			Message: fmt.Sprintf("%s service endpoint not configured. Please check the service settings.", label)}
	case errors.As(err, &statusErr):
		se := &StageError{Stage: stage, Kind: KindServiceError, Status: statusErr.StatusCode, Err: err}
		switch statusErr.StatusCode {
		case http.StatusNotFound:
			se.Message = fmt.Sprintf("%s service not found. Please ensure Ollama is running and the endpoint is correct in settings.", label)
		case http.StatusInternalServerError:
			se.Message = fmt.Sprintf("%s service encountered an internal error. Please check Ollama logs.", label)
		case http.StatusServiceUnavailable:
			se.Message = fmt.Sprintf("%s service is unavailable. Please ensure Ollama is running.", label)
		default:
			se.Message = fmt.Sprintf("%s service returned %d", label, statusErr.StatusCode)
		}
		return se
	case errors.As(err, &connErr):
		return &StageError{Stage: stage, Kind: KindConnectionError, Err: err,
			Message: fmt.Sprintf("Could not connect to %s service. Please ensure Ollama is running and accessible.", label)}
	case errors.Is(err, llm.ErrInvalidResponse):
		return &StageError{Stage: stage, Kind: KindInvalidResponse, Err: err,
			Message: fmt.Sprintf("Invalid response from %s service: missing response field", label)}
	case errors.Is(err, context.Canceled):
		return &StageError{Stage: stage, Kind: KindCanceled, Err: err,
			Message: fmt.Sprintf("%s request was cancelled.", label)}
	default:
		return &StageError{Stage: stage, Kind: KindServiceError, Err: err,
			Message: fmt.Sprintf("%s service failed: %v", label, err)}
	}
}
