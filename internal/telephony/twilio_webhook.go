package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TwilioCallForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
//
// Keep it minimal and provider-adapter-only.
type TwilioCallForm struct {
	CallSid      string
	AccountSid   string
	From         string
	To           string
	Direction    string
	CallStatus   string
	CallDuration string
	AnsweredBy   string
	SpeechResult string
	Confidence   string
	Timestamp    string
}

func ParseTwilioCall(r *http.Request) (TwilioCallForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioCallForm{}, err
	}
	f := TwilioCallForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:   r.PostFormValue("AccountSid"),
		From:         normalizePhone(r.PostFormValue("From")),
		To:           normalizePhone(r.PostFormValue("To")),
		Direction:    r.PostFormValue("Direction"),
		CallStatus:   strings.TrimSpace(r.PostFormValue("CallStatus")),
		CallDuration: r.PostFormValue("CallDuration"),
		AnsweredBy:   r.PostFormValue("AnsweredBy"),
		SpeechResult: strings.TrimSpace(r.PostFormValue("SpeechResult")),
		Confidence:   r.PostFormValue("Confidence"),
		Timestamp:    r.PostFormValue("Timestamp"),
	}
	return f, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

// ToStatusEvent converts a status callback. Missing or bad durations become 0.
func (f TwilioCallForm) ToStatusEvent(now time.Time) StatusEvent {
	dur, _ := strconv.Atoi(strings.TrimSpace(f.CallDuration))
	if dur < 0 {
		dur = 0
	}
	occurred := now
	if t, err := time.Parse(time.RFC1123Z, f.Timestamp); err == nil {
		occurred = t
	}
	return StatusEvent{
		ProviderCallID:  f.CallSid,
		Status:          f.CallStatus,
		DurationSeconds: dur,
		AnsweredBy:      f.AnsweredBy,
		OccurredAt:      occurred.UTC(),
	}
}

// TwilioSMSStatusForm is the message status callback.
type TwilioSMSStatusForm struct {
	MessageSid    string
	MessageStatus string
	To            string
	ErrorCode     string
}

func ParseTwilioSMSStatus(r *http.Request) (TwilioSMSStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioSMSStatusForm{}, err
	}
	return TwilioSMSStatusForm{
		MessageSid:    r.PostFormValue("MessageSid"),
		MessageStatus: r.PostFormValue("MessageStatus"),
		To:            normalizePhone(r.PostFormValue("To")),
		ErrorCode:     r.PostFormValue("ErrorCode"),
	}, nil
}

// TwilioSignature computes the X-Twilio-Signature for a POST to fullURL with params.
// Ref: https://www.twilio.com/docs/usage/webhooks/webhooks-security
func TwilioSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidTwilioSignature reports whether signature matches.
func ValidTwilioSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	expected := TwilioSignature(authToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}
