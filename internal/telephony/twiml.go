package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
	"time"
)

// Response is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary.
type Response struct {
	verbs []any
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName       xml.Name   `xml:"Gather"`
	Input         string     `xml:"input,attr"`
	Action        string     `xml:"action,attr"`
	Method        string     `xml:"method,attr"`
	Timeout       int        `xml:"timeout,attr"`
	SpeechTimeout string     `xml:"speechTimeout,attr,omitempty"`
	Language      string     `xml:"language,attr,omitempty"`
	Says          []twimlSay `xml:"Say"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr"`
	URL     string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Voice selects the text-to-speech voice and language for Say verbs.
type Voice struct {
	Name     string
	Language string
}

// Gather collects speech. When the caller stays silent Twilio falls through
// to the next verb, so a Redirect after the Gather handles the timeout.
type Gather struct {
	ActionURL string
	Timeout   time.Duration
	Language  string
	Prompt    string
	Voice     Voice
}

func NewResponse() *Response { return &Response{} }

func (r *Response) Say(v Voice, text string) *Response {
	r.verbs = append(r.verbs, twimlSay{Voice: v.Name, Language: v.Language, Text: text})
	return r
}

func (r *Response) Gather(g Gather) *Response {
	secs := int(g.Timeout / time.Second)
	if secs <= 0 {
		secs = 5
	}
	tg := twimlGather{
		Input:         "speech",
		Action:        g.ActionURL,
		Method:        "POST",
		Timeout:       secs,
		SpeechTimeout: "auto",
		Language:      g.Language,
	}
	if g.Prompt != "" {
		tg.Says = append(tg.Says, twimlSay{Voice: g.Voice.Name, Language: g.Voice.Language, Text: g.Prompt})
	}
	r.verbs = append(r.verbs, tg)
	return r
}

func (r *Response) Redirect(url string) *Response {
	r.verbs = append(r.verbs, twimlRedirect{Method: "POST", URL: url})
	return r
}

func (r *Response) Pause(d time.Duration) *Response {
	r.verbs = append(r.verbs, twimlPause{Length: int(d / time.Second)})
	return r
}

func (r *Response) Hangup() *Response {
	r.verbs = append(r.verbs, twimlHangup{})
	return r
}

// Render returns the TwiML document.
func (r *Response) Render() (string, error) {
	if r == nil || len(r.verbs) == 0 {
		return "", errors.New("telephony: empty twiml response")
	}
	for _, v := range r.verbs {
		if g, ok := v.(twimlGather); ok && strings.TrimSpace(g.Action) == "" {
			return "", errors.New("telephony: gather action url required")
		}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(twimlResponse{Verbs: r.verbs}); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// String renders the response, returning an empty document on error.
func (r *Response) String() string {
	s, err := r.Render()
	if err != nil {
		return xml.Header + "<Response></Response>"
	}
	return s
}
