package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lead-qualifier/internal/config"

	"golang.org/x/time/rate"
)

const defaultAirtableBaseURL = "https://api.airtable.com/v0"

// AirtableClient upserts rows through the Airtable REST API.
// Requests are paced to stay under the per-base rate limit.
type AirtableClient struct {
	baseURL    string
	apiKey     string
	baseID     string
	table      string
	limiter    *rate.Limiter
	httpClient *http.Client
}

func NewAirtableClient(cfg config.AirtableConfig, httpClient *http.Client) (*AirtableClient, error) {
	if cfg.APIKey == "" || cfg.BaseID == "" {
		return nil, errors.New("sink: airtable api key and base id are required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	if base == "" {
		base = defaultAirtableBaseURL
	}
	table := cfg.Table
	if table == "" {
		table = "Leads"
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	return &AirtableClient{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		baseID:     cfg.BaseID,
		table:      table,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		httpClient: httpClient,
	}, nil
}

type airtableUpsertRequest struct {
	PerformUpsert struct {
		FieldsToMergeOn []string `json:"fieldsToMergeOn"`
	} `json:"performUpsert"`
	Records []airtableRecord `json:"records"`
	// Typecast stays off so an unexpected value is rejected with a 422
	// instead of silently becoming a new select option.
	Typecast bool `json:"typecast"`
}

type airtableRecord struct {
	ID     string `json:"id,omitempty"`
	Fields Fields `json:"fields"`
}

type airtableError struct {
	Error json.RawMessage `json:"error"`
}

func (c *AirtableClient) Upsert(ctx context.Context, f Fields) error {
	if err := f.Check(); err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body airtableUpsertRequest
	body.PerformUpsert.FieldsToMergeOn = []string{ColLeadKey}
	body.Records = []airtableRecord{{Fields: f}}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sink: encode airtable request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, c.baseID, url.PathEscape(c.table))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sink: airtable request: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(data))
	var ae airtableError
	if json.Unmarshal(data, &ae) == nil && len(ae.Error) > 0 {
		msg = string(ae.Error)
	}
	if resp.StatusCode == http.StatusUnprocessableEntity {
		// unknown field names and bad values
		return fmt.Errorf("%w: airtable %d: %s", ErrSchema, resp.StatusCode, msg)
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%w: airtable %d: %s", ErrPermanent, resp.StatusCode, msg)
	}
	return fmt.Errorf("sink: airtable %d: %s", resp.StatusCode, msg)
}
