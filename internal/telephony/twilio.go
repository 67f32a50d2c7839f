package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lead-qualifier/internal/config"
)

const defaultTwilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioProvider talks to the Twilio REST API over plain HTTP.
// Only Calls and Messages are used; call control happens through TwiML webhooks.
type TwilioProvider struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	httpClient *http.Client
	now        func() time.Time
}

func NewTwilioProvider(cfg config.TwilioConfig, httpClient *http.Client) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio account sid and auth token are required")
	}
	if cfg.FromNumber == "" {
		return nil, errors.New("telephony: twilio from number is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	if base == "" {
		base = defaultTwilioBaseURL
	}
	return &TwilioProvider{
		baseURL:    base,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.FromNumber,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

// HealthCheck fetches the account resource, which is cheap and authenticated.
func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	_, err := p.do(ctx, http.MethodGet, fmt.Sprintf("/Accounts/%s.json", p.accountSID), nil)
	return err
}

type twilioResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if req.To == "" || req.AnswerURL == "" {
		return PlaceCallResult{}, fmt.Errorf("%w: to and answer url are required", ErrPermanent)
	}
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", p.from)
	form.Set("Url", req.AnswerURL)
	form.Set("Method", http.MethodPost)
	if req.StatusURL != "" {
		form.Set("StatusCallback", req.StatusURL)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	if req.RingTimeout > 0 {
		form.Set("Timeout", strconv.Itoa(int(req.RingTimeout/time.Second)))
	}

	body, err := p.do(ctx, http.MethodPost, fmt.Sprintf("/Accounts/%s/Calls.json", p.accountSID), form)
	if err != nil {
		return PlaceCallResult{}, fmt.Errorf("place call: %w", err)
	}
	var res twilioResource
	if err := json.Unmarshal(body, &res); err != nil {
		return PlaceCallResult{}, fmt.Errorf("place call: parsing response: %w", err)
	}
	if res.SID == "" {
		return PlaceCallResult{}, errors.New("place call: response missing sid")
	}
	return PlaceCallResult{ProviderCallID: res.SID, Status: res.Status, InitiatedAt: p.now().UTC()}, nil
}

func (p *TwilioProvider) SendSMS(ctx context.Context, req SendSMSRequest) (SendSMSResult, error) {
	if req.To == "" || strings.TrimSpace(req.Body) == "" {
		return SendSMSResult{}, fmt.Errorf("%w: to and body are required", ErrPermanent)
	}
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", p.from)
	form.Set("Body", req.Body)
	if req.StatusURL != "" {
		form.Set("StatusCallback", req.StatusURL)
	}

	body, err := p.do(ctx, http.MethodPost, fmt.Sprintf("/Accounts/%s/Messages.json", p.accountSID), form)
	if err != nil {
		return SendSMSResult{}, fmt.Errorf("send sms: %w", err)
	}
	var res twilioResource
	if err := json.Unmarshal(body, &res); err != nil {
		return SendSMSResult{}, fmt.Errorf("send sms: parsing response: %w", err)
	}
	return SendSMSResult{ProviderMessageID: res.SID, Status: res.Status, SentAt: p.now().UTC()}, nil
}

// do sends a form-encoded request with basic auth.
// 4xx responses other than 429 wrap ErrPermanent.
func (p *TwilioProvider) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var te twilioError
		_ = json.Unmarshal(body, &te)
		msg := te.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: twilio status %d code %d: %s", ErrPermanent, resp.StatusCode, te.Code, msg)
		}
		return nil, fmt.Errorf("twilio status %d: %s", resp.StatusCode, msg)
	}
	return body, nil
}
