package router

import (
	"github.com/EddyChen/diagno-core/internal/http/handler"
	"github.com/EddyChen/diagno-core/internal/service"
	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, services *service.Services) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		captureHandler := handler.NewCaptureHandler(services.Captures())
		CaptureRouter(v1.Group("/captures"), captureHandler)

		issueHandler := handler.NewIssueHandler(services.Issues())
		IssueRouter(v1.Group("/issues"), issueHandler)

		settingsHandler := handler.NewSettingsHandler(services.Settings())
		SettingsRouter(v1.Group("/settings"), settingsHandler)

		auditHandler := handler.NewAuditHandler(services.Audit())
		v1.GET("/logs", auditHandler.List)

		systemInfoHandler := handler.NewSystemInfoHandler()
		v1.GET("/system-info", systemInfoHandler.Get)
	}
}

func CaptureRouter(rg *gin.RouterGroup, h *handler.CaptureHandler) {
	rg.POST("", h.Create)
	rg.GET("/current", h.Current)
	rg.POST("/current/submit", h.Submit)
	rg.POST("/current/resolve", h.Resolve)
}

func IssueRouter(rg *gin.RouterGroup, h *handler.IssueHandler) {
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	rg.PATCH("/:id/status", h.UpdateStatus)
}

func SettingsRouter(rg *gin.RouterGroup, h *handler.SettingsHandler) {
	rg.GET("", h.Get)
	rg.PUT("", h.Update)
	rg.POST("/validate", h.Validate)
}
