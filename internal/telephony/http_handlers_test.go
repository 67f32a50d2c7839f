package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type fakeFlow struct {
	answered []string
	answers  []string
	timeouts []int
	events   []StatusEvent
	err      error
}

func (f *fakeFlow) Answered(_ context.Context, callID string) (*Response, error) {
	f.answered = append(f.answered, callID)
	if f.err != nil {
		return nil, f.err
	}
	return NewResponse().Say(Voice{}, "hello"), nil
}

func (f *fakeFlow) Answer(_ context.Context, _ string, q int, transcript string) (*Response, error) {
	f.answers = append(f.answers, transcript)
	return NewResponse().Say(Voice{}, "next").Redirect("/x"), nil
}

func (f *fakeFlow) Timeout(_ context.Context, _ string, q int) (*Response, error) {
	f.timeouts = append(f.timeouts, q)
	return NewResponse().Hangup(), nil
}

func (f *fakeFlow) StatusChanged(_ context.Context, ev StatusEvent) error {
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeFlow) Fallback() *Response {
	return NewResponse().Say(Voice{}, "technical difficulties").Hangup()
}

func newTestRouter(flow CallFlow, mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := TwilioWebhookHandler{Flow: flow, MaxQuestion: 5}
	g := r.Group("/webhooks/twilio", mw...)
	g.POST("/call-start", h.HandleCallStart)
	g.POST("/answer/:q", h.HandleAnswer)
	g.POST("/timeout/:q", h.HandleTimeout)
	g.POST("/call-status", h.HandleCallStatus)
	g.POST("/sms-status", h.HandleSMSStatus)
	return r
}

func post(r http.Handler, path string, form url.Values, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleCallStart_WritesTwiML(t *testing.T) {
	flow := &fakeFlow{}
	w := post(newTestRouter(flow), "/webhooks/twilio/call-start", url.Values{"CallSid": {"CA1"}}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("expected xml content type, got %q", ct)
	}
	if len(flow.answered) != 1 || flow.answered[0] != "CA1" {
		t.Fatalf("expected flow called with CA1, got %v", flow.answered)
	}
}

func TestHandleCallStart_FlowErrorPlaysFallback(t *testing.T) {
	flow := &fakeFlow{err: errors.New("session missing")}
	w := post(newTestRouter(flow), "/webhooks/twilio/call-start", url.Values{"CallSid": {"CA1"}}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "technical difficulties") {
		t.Fatalf("expected fallback twiml, got %s", w.Body.String())
	}
}

func TestHandleAnswer_ValidatesQuestion(t *testing.T) {
	flow := &fakeFlow{}
	r := newTestRouter(flow)

	if w := post(r, "/webhooks/twilio/answer/9", url.Values{"CallSid": {"CA1"}}, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := post(r, "/webhooks/twilio/answer/2", url.Values{}, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without CallSid, got %d", w.Code)
	}
	if w := post(r, "/webhooks/twilio/answer/2", url.Values{"CallSid": {"CA1"}, "SpeechResult": {"yes"}}, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(flow.answers) != 1 || flow.answers[0] != "yes" {
		t.Fatalf("unexpected answers %v", flow.answers)
	}
}

func TestHandleTimeout(t *testing.T) {
	flow := &fakeFlow{}
	w := post(newTestRouter(flow), "/webhooks/twilio/timeout/3", url.Values{"CallSid": {"CA1"}}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(flow.timeouts) != 1 || flow.timeouts[0] != 3 {
		t.Fatalf("unexpected timeouts %v", flow.timeouts)
	}
}

func TestHandleCallStatus(t *testing.T) {
	flow := &fakeFlow{}
	r := newTestRouter(flow)
	w := post(r, "/webhooks/twilio/call-status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}, "CallDuration": {"33"}}, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(flow.events) != 1 || flow.events[0].DurationSeconds != 33 {
		t.Fatalf("unexpected events %+v", flow.events)
	}

	flow.err = errors.New("store down")
	w = post(r, "/webhooks/twilio/call-status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestHandleSMSStatus(t *testing.T) {
	w := post(newTestRouter(&fakeFlow{}), "/webhooks/twilio/sms-status", url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

func TestRequireTwilioSignature(t *testing.T) {
	flow := &fakeFlow{}
	r := newTestRouter(flow, RequireTwilioSignature("secret", "https://leads.example.com"))
	form := url.Values{"CallSid": {"CA1"}}

	if w := post(r, "/webhooks/twilio/call-start", form, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", w.Code)
	}

	sig := TwilioSignature("secret", "https://leads.example.com/webhooks/twilio/call-start", form)
	w := post(r, "/webhooks/twilio/call-start", form, map[string]string{"X-Twilio-Signature": sig})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid signature, got %d", w.Code)
	}
}
