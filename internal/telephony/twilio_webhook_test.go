package telephony

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestParseTwilioCall(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&From=%2B15550000000&To=%2B15551234567&SpeechResult=+four+years+&CallStatus=in-progress")
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/answer/1", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioCall(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA123" {
		t.Fatalf("expected CallSid")
	}
	if form.SpeechResult != "four years" {
		t.Fatalf("expected trimmed speech result, got %q", form.SpeechResult)
	}
	if form.To != "+15551234567" {
		t.Fatalf("unexpected to: %q", form.To)
	}
}

func TestToStatusEvent(t *testing.T) {
	now := time.Unix(1700000000, 0)
	ev := TwilioCallForm{CallSid: "CA1", CallStatus: "completed", CallDuration: "47"}.ToStatusEvent(now)
	if ev.DurationSeconds != 47 || ev.Status != "completed" || ev.ProviderCallID != "CA1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.OccurredAt.Equal(now) {
		t.Fatalf("expected fallback timestamp")
	}

	ev = TwilioCallForm{CallSid: "CA1", CallStatus: "no-answer", CallDuration: "n/a"}.ToStatusEvent(now)
	if ev.DurationSeconds != 0 {
		t.Fatalf("expected 0 duration, got %d", ev.DurationSeconds)
	}
}

// Example values from Twilio's webhook security documentation.
func TestTwilioSignatureKnownVector(t *testing.T) {
	params := url.Values{}
	params.Set("CallSid", "CA1234567890ABCDE")
	params.Set("Caller", "+12349013030")
	params.Set("Digits", "1234")
	params.Set("From", "+12349013030")
	params.Set("To", "+18005551212")

	got := TwilioSignature("12345", "https://mycompany.com/myapp.php?foo=1&bar=2", params)
	if got != "0/KCTR6DLpKmkAf8muzZqo1nDgQ=" {
		t.Fatalf("unexpected signature %q", got)
	}
}

func TestValidTwilioSignature(t *testing.T) {
	params := url.Values{"CallSid": {"CA1"}}
	sig := TwilioSignature("secret", "https://leads.example.com/webhooks/twilio/call-start", params)

	if !ValidTwilioSignature("secret", "https://leads.example.com/webhooks/twilio/call-start", params, sig) {
		t.Fatalf("expected valid signature")
	}
	if ValidTwilioSignature("other", "https://leads.example.com/webhooks/twilio/call-start", params, sig) {
		t.Fatalf("expected invalid signature with wrong token")
	}
	if ValidTwilioSignature("secret", "https://leads.example.com/webhooks/twilio/call-start", params, "") {
		t.Fatalf("expected invalid empty signature")
	}
}
