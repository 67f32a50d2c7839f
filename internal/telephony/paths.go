package telephony

import "strconv"

// Webhook paths, relative to the public base URL.
const (
	WebhookPrefix  = "/webhooks/twilio"
	PathCallStart  = WebhookPrefix + "/call-start"
	PathCallStatus = WebhookPrefix + "/call-status"
	PathSMSStatus  = WebhookPrefix + "/sms-status"
)

// AnswerPath receives the transcript for question q.
func AnswerPath(q int) string { return WebhookPrefix + "/answer/" + strconv.Itoa(q) }

// TimeoutPath is redirected to when question q gets no speech.
func TimeoutPath(q int) string { return WebhookPrefix + "/timeout/" + strconv.Itoa(q) }
