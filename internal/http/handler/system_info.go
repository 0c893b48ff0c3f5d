package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/EddyChen/diagno-core/internal/model"
	"github.com/gin-gonic/gin"
)

const screenResolutionHeader = "X-Screen-Resolution"

type SystemInfoHandler struct {
	now func() time.Time
}

func NewSystemInfoHandler() *SystemInfoHandler {
	return &SystemInfoHandler{now: time.Now}
}

// Get describes the calling client from its request headers.
func (h *SystemInfoHandler) Get(c *gin.Context) {
	info := model.SystemInfo{
		Platform:         strings.Trim(c.GetHeader("Sec-CH-UA-Platform"), `"`),
		UserAgent:        c.Request.UserAgent(),
		Language:         primaryLanguage(c.GetHeader("Accept-Language")),
		ScreenResolution: c.GetHeader(screenResolutionHeader),
	}

	c.JSON(http.StatusOK, info.WithDefaults(h.now().UTC()))
}

// primaryLanguage returns the first tag of an Accept-Language header.
func primaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(first, ";")
	return strings.TrimSpace(tag)
}
