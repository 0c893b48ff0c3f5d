package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/EddyChen/diagno-core/internal/http/dto"
	"github.com/EddyChen/diagno-core/internal/pipeline"
	"github.com/EddyChen/diagno-core/internal/service"
	"github.com/gin-gonic/gin"
)

type CaptureHandler struct {
	captureService service.CaptureService
}

func NewCaptureHandler(captureService service.CaptureService) *CaptureHandler {
	return &CaptureHandler{captureService: captureService}
}

func (h *CaptureHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.captureService.Capture(ctx, req.ToInput())
	if err != nil {
		writePipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToCaptureResponse(res))
}

func (h *CaptureHandler) Current(c *gin.Context) {
	c.JSON(http.StatusOK, dto.ToCurrentRunResponse(h.captureService.Current(c.Request.Context())))
}

func (h *CaptureHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SubmitRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	issue, err := h.captureService.Submit(ctx, pipeline.SubmitInput{
		AdditionalDetails: req.AdditionalDetails,
		RunID:             req.RunID,
	})
	if err != nil {
		writePipelineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.ToIssueResponse(issue, false))
}

func (h *CaptureHandler) Resolve(c *gin.Context) {
	ctx := c.Request.Context()

	issueID, err := h.captureService.Resolve(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to resolve capture", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve capture"})
		return
	}

	c.JSON(http.StatusOK, dto.ResolveResponse{Resolved: true, IssueID: issueID})
}

func writePipelineError(c *gin.Context, err error) {
	ctx := c.Request.Context()

	var stageErr *pipeline.StageError
	switch {
	case errors.As(err, &stageErr):
		c.JSON(stageStatus(stageErr.Kind), dto.ErrorResponse{
			Error:    stageErr.Message,
			Stage:    string(stageErr.Stage),
			Kind:     string(stageErr.Kind),
			Upstream: stageErr.Status,
		})
	case errors.Is(err, pipeline.ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": "capture was replaced by a newer capture"})
	case errors.Is(err, pipeline.ErrNoActiveRun):
		c.JSON(http.StatusConflict, gin.H{"error": "no capture with suggestions to submit"})
	case errors.Is(err, pipeline.ErrStaleRun):
		c.JSON(http.StatusConflict, gin.H{"error": "capture is no longer current"})
	default:
		slog.ErrorContext(ctx, "capture request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func stageStatus(kind pipeline.ErrorKind) int {
	switch kind {
	case pipeline.KindInvalidCapture:
		return http.StatusUnprocessableEntity
	case pipeline.KindEndpointNotConfigured:
		return http.StatusBadRequest
	case pipeline.KindTimeout:
		return http.StatusGatewayTimeout
	case pipeline.KindServiceError, pipeline.KindConnectionError, pipeline.KindInvalidResponse:
		return http.StatusBadGateway
	case pipeline.KindCanceled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
