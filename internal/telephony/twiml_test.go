package telephony

import (
	"strings"
	"testing"
	"time"
)

func TestRenderGatherWithTimeoutRedirect(t *testing.T) {
	v := Voice{Name: "Polly.Matthew-Neural", Language: "en-US"}
	xml, err := NewResponse().
		Say(v, "Hello Jane").
		Gather(Gather{ActionURL: "/webhooks/twilio/answer/1", Timeout: 6 * time.Second, Language: "en-US", Prompt: "How many years?", Voice: v}).
		Redirect("/webhooks/twilio/timeout/1").
		Render()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		`<Say voice="Polly.Matthew-Neural" language="en-US">Hello Jane</Say>`,
		`<Gather input="speech" action="/webhooks/twilio/answer/1" method="POST" timeout="6" speechTimeout="auto" language="en-US">`,
		`How many years?</Say>`,
		`<Redirect method="POST">/webhooks/twilio/timeout/1</Redirect>`,
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
	if strings.Index(xml, "<Gather") > strings.Index(xml, "<Redirect") {
		t.Fatalf("redirect must follow gather: %s", xml)
	}
}

func TestRenderEscapesText(t *testing.T) {
	xml, err := NewResponse().Say(Voice{}, "Tom & Jerry <3").Hangup().Render()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, "Tom &amp; Jerry &lt;3") {
		t.Fatalf("expected escaped text: %s", xml)
	}
	if !strings.Contains(xml, "<Hangup></Hangup>") {
		t.Fatalf("expected hangup: %s", xml)
	}
}

func TestRenderRequiresVerbsAndGatherAction(t *testing.T) {
	if _, err := NewResponse().Render(); err == nil {
		t.Fatalf("expected error for empty response")
	}
	if _, err := NewResponse().Gather(Gather{Prompt: "x"}).Render(); err == nil {
		t.Fatalf("expected error for gather without action")
	}
}
