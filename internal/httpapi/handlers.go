package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lead-qualifier/internal/audit"
	"lead-qualifier/internal/auth"
	"lead-qualifier/internal/control"
	"lead-qualifier/internal/leads"
	"lead-qualifier/internal/queue"
	"lead-qualifier/internal/reporting"
	"lead-qualifier/pkg/logger"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type AgentGate interface {
	Paused(ctx context.Context) (bool, error)
	Status(ctx context.Context) (control.Status, error)
	Apply(ctx context.Context, cmd control.Command, actor string) error
}

type QueueStats interface {
	Stats() (queue.Stats, error)
}

type LeadEnqueuer interface {
	EnqueueLead(ctx context.Context, lead leads.Lead) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Store    Pinger
	Gate     AgentGate
	Queue    QueueStats
	Leads    LeadEnqueuer
	Activity *audit.Service
	Reports  *reporting.Service

	// Region is the default phone region for manually triggered leads.
	Region string
	Now    func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Health ---

func (h Handlers) Health(c *gin.Context) {
	if h.Store != nil {
		if err := h.Store.Ping(c.Request.Context()); err != nil {
			logger.FromGin(c).Error("health: redis ping failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": "down"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Agent control ---

type agentStatusResponse struct {
	control.Status
	Queue *queue.Stats `json:"queue,omitempty"`
}

func (h Handlers) AgentStatus(c *gin.Context) {
	if h.Gate == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agent control not configured"})
		return
	}
	st, err := h.Gate.Status(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("agent status failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "status unavailable"})
		return
	}
	out := agentStatusResponse{Status: st}
	if h.Queue != nil {
		if qs, err := h.Queue.Stats(); err != nil {
			logger.FromGin(c).Warn("queue stats failed", "err", err)
		} else {
			out.Queue = &qs
		}
	}
	c.JSON(http.StatusOK, out)
}

type commandRequest struct {
	Command string `json:"command"`
}

func (r commandRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Command, validation.Required,
			validation.In(string(control.CommandPause), string(control.CommandResume))),
	)
}

// AgentCommand pauses or resumes lead intake.
// RBAC: operator.
func (h Handlers) AgentCommand(c *gin.Context) {
	if h.Gate == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agent control not configured"})
		return
	}
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.Command = strings.ToLower(strings.TrimSpace(req.Command))
	if err := req.Validate(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, _ := auth.UserID(c.Request.Context())
	if err := h.Gate.Apply(c.Request.Context(), control.Command(req.Command), actor); err != nil {
		if errors.Is(err, control.ErrUnknownCommand) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromGin(c).Error("agent command failed", "command", req.Command, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "command failed"})
		return
	}
	h.Activity.RecordCommand(c.Request.Context(), actor, req.Command)
	logger.FromGin(c).Info("agent command applied", "command", req.Command, "actor", actor)
	c.JSON(http.StatusOK, gin.H{"command": req.Command, "status": "applied"})
}

// --- Leads ---

func (h Handlers) LastError(c *gin.Context) {
	if h.Activity == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "activity not configured"})
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "key required"})
		return
	}
	ev, err := h.Activity.LastError(c.Request.Context(), key)
	if errors.Is(err, leads.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no errors recorded for lead"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("last error lookup failed", "lead_key", key, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"lead_key":    ev.LeadKey,
		"error_class": ev.ErrorClass,
		"message":     ev.Message,
		"at":          ev.CreatedAt,
	})
}

type triggerRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	OfficeInterest string `json:"office_interest"`
	Message        string `json:"message"`
	CampaignID     string `json:"campaign_id"`
}

func (r triggerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Phone, validation.Required, validation.Length(7, 32)),
		validation.Field(&r.Email, is.EmailFormat),
		validation.Field(&r.Message, validation.Length(0, 4000)),
	)
}

// TriggerLead queues a lead entered by hand, bypassing the mailbox.
// RBAC: operator.
func (h Handlers) TriggerLead(c *gin.Context) {
	if h.Leads == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "queue not configured"})
		return
	}
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := req.Validate(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.Gate != nil {
		paused, err := h.Gate.Paused(c.Request.Context())
		if err == nil && paused {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "agent is paused"})
			return
		}
	}

	lead := leads.Lead{
		Key:            "manual:" + uuid.NewString(),
		Name:           strings.TrimSpace(req.Name),
		Email:          strings.TrimSpace(req.Email),
		Phone:          leads.NormalizeE164(req.Phone, h.Region),
		OfficeInterest: strings.TrimSpace(req.OfficeInterest),
		Message:        strings.TrimSpace(req.Message),
		CampaignID:     strings.TrimSpace(req.CampaignID),
		ReceivedAt:     h.now().UTC(),
	}
	if lead.OfficeInterest == "" {
		lead.OfficeInterest = "Other"
	}
	if err := validateManualLead(lead); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Leads.EnqueueLead(c.Request.Context(), lead); err != nil {
		logger.FromGin(c).Error("manual lead enqueue failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "enqueue failed"})
		return
	}
	actor, _ := auth.UserID(c.Request.Context())
	h.Activity.RecordCommand(c.Request.Context(), actor, "trigger "+lead.Key)
	c.JSON(http.StatusAccepted, gin.H{"lead_key": lead.Key, "phone": lead.Phone})
}

// Hand-entered leads are rejected up front when they cannot be dialed.
func validateManualLead(l leads.Lead) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if err := l.Dialable(); err != nil {
		return fmt.Errorf("phone: %w", err)
	}
	return l.EmailValid()
}

// --- Reports ---

func (h Handlers) LeadReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reports not configured"})
		return
	}
	period, err := reporting.ParsePeriod(c.Param("period"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rep, err := h.Reports.LeadReport(c.Request.Context(), period)
	if err != nil {
		logger.FromGin(c).Error("lead report failed", "period", period, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

func (h Handlers) ListActivity(c *gin.Context) {
	if h.Activity == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "activity not configured"})
		return
	}
	f := audit.Filter{
		Type:    audit.EventType(c.Query("type")),
		LeadKey: c.Query("lead_key"),
		Limit:   defaultActivityLimit,
	}
	if f.Type != "" && !f.Type.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown event type"})
		return
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		f.Limit = min(n, maxActivityLimit)
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		f.Since = t
	}

	evs, err := h.Activity.List(c.Request.Context(), f)
	if err != nil {
		logger.FromGin(c).Error("activity list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "activity lookup failed"})
		return
	}
	if evs == nil {
		evs = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}
