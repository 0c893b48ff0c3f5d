package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/EddyChen/diagno-core/internal/http/dto"
	"github.com/EddyChen/diagno-core/internal/service"
	"github.com/EddyChen/diagno-core/internal/settings"
	"github.com/gin-gonic/gin"
)

type SettingsHandler struct {
	settingsService service.SettingsService
}

func NewSettingsHandler(settingsService service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settingsService: settingsService}
}

func (h *SettingsHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.settingsService.Current(c.Request.Context()))
}

func (h *SettingsHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()

	var partial settings.Tree
	if err := c.ShouldBindJSON(&partial); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tree, err := h.settingsService.Update(ctx, partial)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, dto.ToValidationErrorResponse(verr.Validation))
			return
		}
		slog.ErrorContext(ctx, "failed to save settings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings"})
		return
	}

	c.JSON(http.StatusOK, tree)
}

// Validate checks the posted partial against the current settings, or the
// current settings alone when the body is empty.
func (h *SettingsHandler) Validate(c *gin.Context) {
	ctx := c.Request.Context()

	var partial settings.Tree
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&partial); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, h.settingsService.Validate(ctx, partial))
}
