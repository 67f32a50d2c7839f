package main

import (
	"lead-qualifier/internal/config"
	"lead-qualifier/internal/httpapi"
	"lead-qualifier/internal/leads"
	"lead-qualifier/internal/rbac"
	"lead-qualifier/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	cfg  config.Config
	flow telephony.CallFlow
	ops  httpapi.Handlers
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", d.ops.Health)

	// Provider webhooks. Authenticated by signature, not bearer token.
	{
		var mw []gin.HandlerFunc
		if d.cfg.Twilio.ValidateSignature {
			mw = append(mw, telephony.RequireTwilioSignature(d.cfg.Twilio.AuthToken, d.cfg.App.PublicBaseURL))
		}
		h := telephony.TwilioWebhookHandler{Flow: d.flow, MaxQuestion: leads.NumQuestions}
		hooks := r.Group(telephony.WebhookPrefix, mw...)
		hooks.POST("/call-start", h.HandleCallStart)
		hooks.POST("/answer/:q", h.HandleAnswer)
		hooks.POST("/timeout/:q", h.HandleTimeout)
		hooks.POST("/call-status", h.HandleCallStatus)
		hooks.POST("/sms-status", h.HandleSMSStatus)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		read := rbac.RequireAnyRole(rbac.RoleViewer)
		write := rbac.RequireAnyRole(rbac.RoleOperator)

		agent := v1.Group("/agent")
		{
			agent.GET("/status", read, d.ops.AgentStatus)
			agent.POST("/command", write, d.ops.AgentCommand)
		}

		leadsGroup := v1.Group("/leads")
		{
			leadsGroup.GET("/:key/last-error", read, d.ops.LastError)
			leadsGroup.POST("/trigger", write, d.ops.TriggerLead)
		}

		v1.GET("/reports/:period", read, d.ops.LeadReport)
		v1.GET("/activity", read, d.ops.ListActivity)
	}
}
