package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/EddyChen/diagno-core/internal/http/dto"
	"github.com/EddyChen/diagno-core/internal/model"
	"github.com/EddyChen/diagno-core/internal/service"
	"github.com/EddyChen/diagno-core/internal/store"
	"github.com/gin-gonic/gin"
)

type IssueHandler struct {
	issueService service.IssueService
}

func NewIssueHandler(issueService service.IssueService) *IssueHandler {
	return &IssueHandler{issueService: issueService}
}

func (h *IssueHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ListIssuesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	issues, err := h.issueService.List(ctx, store.IssueFilter{
		Query:  req.Query,
		Status: model.IssueStatus(req.Status),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to list issues", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list issues"})
		return
	}

	c.JSON(http.StatusOK, dto.ToIssueListResponse(issues))
}

func (h *IssueHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	issue, err := h.issueService.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "issue not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to get issue", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get issue"})
		return
	}

	c.JSON(http.StatusOK, dto.ToIssueResponse(issue, true))
}

func (h *IssueHandler) UpdateStatus(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.UpdateIssueStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	issue, err := h.issueService.UpdateStatus(ctx, c.Param("id"), model.IssueStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "issue not found"})
		case errors.Is(err, service.ErrInvalidStatus):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			slog.ErrorContext(ctx, "failed to update issue status", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update issue status"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.ToIssueResponse(issue, false))
}
