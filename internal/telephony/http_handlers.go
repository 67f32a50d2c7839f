package telephony

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"lead-qualifier/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallFlow drives a live call. The webhook handlers translate provider
// callbacks into these calls and write back whatever TwiML the flow returns.
type CallFlow interface {
	Answered(ctx context.Context, callID string) (*Response, error)
	Answer(ctx context.Context, callID string, question int, transcript string) (*Response, error)
	Timeout(ctx context.Context, callID string, question int) (*Response, error)
	StatusChanged(ctx context.Context, ev StatusEvent) error

	// Fallback is played when the flow cannot continue the call.
	Fallback() *Response
}

// TwilioWebhookHandler converts Twilio webhooks to internal types,
// delegates to the call flow, and writes TwiML.
//
// No business logic here.
type TwilioWebhookHandler struct {
	Flow CallFlow

	// MaxQuestion bounds the :q path parameter.
	MaxQuestion int

	Now func() time.Time
}

func (h TwilioWebhookHandler) HandleCallStart(c *gin.Context) {
	form, ok := h.parse(c)
	if !ok {
		return
	}
	res, err := h.Flow.Answered(c.Request.Context(), form.CallSid)
	h.writeTwiML(c, res, err, "call start failed", form.CallSid)
}

func (h TwilioWebhookHandler) HandleAnswer(c *gin.Context) {
	q, ok := h.question(c)
	if !ok {
		return
	}
	form, ok := h.parse(c)
	if !ok {
		return
	}
	res, err := h.Flow.Answer(c.Request.Context(), form.CallSid, q, form.SpeechResult)
	h.writeTwiML(c, res, err, "answer handling failed", form.CallSid)
}

func (h TwilioWebhookHandler) HandleTimeout(c *gin.Context) {
	q, ok := h.question(c)
	if !ok {
		return
	}
	form, ok := h.parse(c)
	if !ok {
		return
	}
	res, err := h.Flow.Timeout(c.Request.Context(), form.CallSid, q)
	h.writeTwiML(c, res, err, "timeout handling failed", form.CallSid)
}

func (h TwilioWebhookHandler) HandleCallStatus(c *gin.Context) {
	log := logger.FromGin(c)
	form, ok := h.parse(c)
	if !ok {
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	ev := form.ToStatusEvent(now())
	if err := h.Flow.StatusChanged(c.Request.Context(), ev); err != nil {
		log.Error("call status handling failed", "call_id", ev.ProviderCallID, "status", ev.Status, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status handling failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleSMSStatus only records delivery progress in the logs.
func (h TwilioWebhookHandler) HandleSMSStatus(c *gin.Context) {
	log := logger.FromGin(c)
	form, err := ParseTwilioSMSStatus(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	attrs := []any{"message_id", form.MessageSid, "status", form.MessageStatus}
	if form.ErrorCode != "" {
		log.Warn("sms delivery problem", append(attrs, "error_code", form.ErrorCode)...)
	} else {
		log.Info("sms status", attrs...)
	}
	c.Status(http.StatusNoContent)
}

func (h TwilioWebhookHandler) parse(c *gin.Context) (TwilioCallForm, bool) {
	log := logger.FromGin(c)
	if h.Flow == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call flow not configured"})
		return TwilioCallForm{}, false
	}
	form, err := ParseTwilioCall(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return TwilioCallForm{}, false
	}
	if form.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "CallSid required"})
		return TwilioCallForm{}, false
	}
	return form, true
}

func (h TwilioWebhookHandler) question(c *gin.Context) (int, bool) {
	q, err := strconv.Atoi(c.Param("q"))
	if err != nil || q < 1 || (h.MaxQuestion > 0 && q > h.MaxQuestion) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid question"})
		return 0, false
	}
	return q, true
}

func (h TwilioWebhookHandler) writeTwiML(c *gin.Context, res *Response, err error, msg, callID string) {
	if err != nil {
		logger.FromGin(c).Error(msg, "call_id", callID, "err", err)
		res = h.Flow.Fallback()
	}
	twiml, rerr := res.Render()
	if rerr != nil {
		logger.FromGin(c).Error("twiml render failed", "call_id", callID, "err", rerr)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

// RequireTwilioSignature rejects webhooks whose X-Twilio-Signature does not match.
// publicBaseURL must be the scheme+host Twilio was given, since proxies rewrite the request URL.
func RequireTwilioSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		fullURL := publicBaseURL + c.Request.URL.RequestURI()
		sig := c.GetHeader("X-Twilio-Signature")
		if !ValidTwilioSignature(authToken, fullURL, c.Request.PostForm, sig) {
			logger.FromGin(c).Warn("twilio signature rejected", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
