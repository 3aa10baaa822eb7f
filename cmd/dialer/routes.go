package main

import (
	"net/http"
	"time"

	"calling-agent/internal/auth"
	"calling-agent/internal/httpapi"
	"calling-agent/internal/outcome"
	"calling-agent/internal/rbac"
	"calling-agent/internal/reporting"
	"calling-agent/internal/telephony"
	"calling-agent/internal/transcript"
	"calling-agent/pkg/logger"
	"calling-agent/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app, hub *transcript.Hub, gw telephony.Gateway) {
	r.Use(logger.Middleware(a.log))

	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), a.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "open_rooms": len(hub.OpenRooms())})
	})

	// Carrier webhooks (public, signature-checked when the auth token is known).
	{
		wh := telephony.WebhookHandler{Gateway: gw, Sessions: a.sessions}
		if a.cfg.Telephony.Provider == telephony.ProviderTwilio && a.cfg.Twilio.AuthToken != "" && a.cfg.App.PublicBaseURL != "" {
			wh.Signatures = telephony.NewSignatureValidator(a.cfg.Twilio.AuthToken, a.cfg.App.PublicBaseURL)
		}
		hooks := r.Group("/webhooks/twilio", wh.VerifySignature())
		hooks.POST("/voice", wh.HandleVoice)
		hooks.GET("/voice", wh.HandleVoice)
		hooks.POST("/status", wh.HandleStatus)
		hooks.POST("/recording", wh.HandleRecording)
	}

	authManager, err := auth.NewManager(a.cfg.Auth)
	if err != nil {
		a.log.Warn("JWT_SECRET not set; /v1 API disabled")
		return
	}

	h := httpapi.Handlers{
		Contacts: a.contacts,
		History:  a.audit,
		Rooms:    hub,
		Tools:    outcome.NewTools(a.contacts, hub, a.log),
		Reports:  reporting.NewService(a.sessions, a.audit),
	}
	if a.publisher != nil {
		h.Stream = a.publisher
	}

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(authManager))
	{
		contactsGroup := v1.Group("/contacts", rbac.RequireAnyRole(rbac.RoleOperator))
		contactsGroup.POST("", h.AddContact)
		contactsGroup.GET("/stats", h.ContactStats)
		contactsGroup.GET("/:id", h.GetContact)
		contactsGroup.PUT("/:id", h.UpdateContact)
		contactsGroup.GET("/:id/history", h.ContactHistory)

		rooms := v1.Group("/rooms/:room")
		rooms.POST("/events", rbac.RequireAnyRole(rbac.RoleRuntime), h.PostRoomEvent)
		rooms.POST("/tools/:action", rbac.RequireAnyRole(rbac.RoleRuntime), h.PostRoomTool)
		rooms.GET("/tail", rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleRuntime), h.TailRoom)
		rooms.GET("/archive", rbac.RequireAnyRole(rbac.RoleOperator), h.RoomArchive)

		reports := v1.Group("/reports", rbac.RequireAnyRole(rbac.RoleOperator))
		reports.GET("/calls", h.CallsReport)
		reports.GET("/outcomes", h.OutcomesReport)
	}
}
