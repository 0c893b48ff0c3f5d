package handler

import (
	"log/slog"
	"net/http"

	"github.com/EddyChen/diagno-core/internal/http/dto"
	"github.com/EddyChen/diagno-core/internal/service"
	"github.com/gin-gonic/gin"
)

const defaultLogLimit = 100

type AuditHandler struct {
	auditService service.AuditService
}

func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ListLogsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultLogLimit
	}

	entries, err := h.auditService.List(ctx, req.Limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list logs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list logs"})
		return
	}

	c.JSON(http.StatusOK, entries)
}
