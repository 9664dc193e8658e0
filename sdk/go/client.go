package creativelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Creativeline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Submissions wait for the
// rendering service, so the timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 3 * time.Minute,
	}
}

// Fields are the editable campaign fields of a draft.
type Fields struct {
	MainMessage     string `json:"main_message,omitempty"`
	SubMessage      string `json:"sub_message,omitempty"`
	CTAText         string `json:"cta_text,omitempty"`
	Style           string `json:"style,omitempty"`
	BackgroundColor string `json:"background_color,omitempty"`
	BadgeColor      string `json:"badge_color,omitempty"`
	BadgeShape      string `json:"badge_shape,omitempty"`
	ValueTileType   string `json:"value_tile_type,omitempty"`
	ClubcardPrice   string `json:"clubcard_price,omitempty"`
	RegularPrice    string `json:"regular_price,omitempty"`
	ClubcardEndDate string `json:"clubcard_end_date,omitempty"`
	TescoTag        string `json:"tesco_tag,omitempty"`
}

// Download is one encoding offered for a rendition or a saved creative.
type Download struct {
	Encoding string `json:"encoding"`
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	URL      string `json:"url,omitempty"`
}

// Rendition represents a generated creative for one format.
type Rendition struct {
	Format    string     `json:"format"`
	Display   string     `json:"display"`
	Downloads []Download `json:"downloads"`
}

// Draft represents the API draft model (partial).
type Draft struct {
	ID              string      `json:"id"`
	Fields          Fields      `json:"draft"`
	Overrides       []string    `json:"overrides"`
	Ready           bool        `json:"ready"`
	State           string      `json:"state"`
	Condition       string      `json:"condition"`
	Message         string      `json:"message"`
	Errors          []string    `json:"errors"`
	Pending         []string    `json:"pending"`
	Results         []Rendition `json:"results"`
	AlcoholAdvisory bool        `json:"alcohol_advisory"`
	Attempts        int         `json:"attempts"`
}

// Attempt represents one round trip with the rendering service.
type Attempt struct {
	ID        string   `json:"id"`
	Number    int      `json:"number"`
	Overrides []string `json:"overrides"`
	Actions   []string `json:"actions"`
	State     string   `json:"state"`
	Condition string   `json:"condition"`
	Errors    []string `json:"errors"`
	Formats   []string `json:"formats"`
}

// SubmitResult is returned by Submit and Retry.
type SubmitResult struct {
	Draft   Draft   `json:"draft"`
	Attempt Attempt `json:"attempt"`
}

// Event represents a log entry.
type Event struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	DraftID   string         `json:"draft_id"`
	AttemptID string         `json:"attempt_id"`
	Payload   map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Record is a creative saved to the account.
type Record struct {
	ID        string     `json:"id"`
	Format    string     `json:"format"`
	Color     string     `json:"color"`
	Location  string     `json:"location"`
	Downloads []Download `json:"downloads"`
}

// Batch groups saved creatives by the generation that produced them.
type Batch struct {
	Key       string   `json:"key"`
	Fallback  bool     `json:"fallback"`
	Color     string   `json:"color"`
	CreatedAt string   `json:"created_at"`
	Records   []Record `json:"records"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateDraft creates a draft; empty fields keep their defaults.
func (c *Client) CreateDraft(ctx context.Context, fields Fields) (Draft, error) {
	var resp Draft
	err := c.do(ctx, http.MethodPost, "drafts", fields, &resp)
	return resp, err
}

// GetDraft fetches a draft by id.
func (c *Client) GetDraft(ctx context.Context, id string) (Draft, error) {
	var resp Draft
	err := c.do(ctx, http.MethodGet, c.draftPath(id, ""), nil, &resp)
	return resp, err
}

// UpdateDraft patches the given fields, keyed by their JSON names.
func (c *Client) UpdateDraft(ctx context.Context, id string, changes map[string]string) (Draft, error) {
	var resp Draft
	err := c.do(ctx, http.MethodPatch, c.draftPath(id, ""), changes, &resp)
	return resp, err
}

// PutAsset uploads an image into a slot: logo or product_1..product_3.
func (c *Client) PutAsset(ctx context.Context, id, slot, name string, data []byte) (Draft, error) {
	endpoint := c.draftPath(id, "assets/"+url.PathEscape(slot))
	if name != "" {
		endpoint += "?name=" + url.QueryEscape(name)
	}
	var resp Draft
	err := c.send(ctx, http.MethodPut, endpoint, "application/octet-stream", bytes.NewReader(data), &resp)
	return resp, err
}

// Submit runs an attempt for the draft.
func (c *Client) Submit(ctx context.Context, id string) (SubmitResult, error) {
	var resp SubmitResult
	err := c.do(ctx, http.MethodPost, c.draftPath(id, "submit"), nil, &resp)
	return resp, err
}

// Retry answers pending confirmations and resubmits.
func (c *Client) Retry(ctx context.Context, id string, actions ...string) (SubmitResult, error) {
	var resp SubmitResult
	err := c.do(ctx, http.MethodPost, c.draftPath(id, "retry"), map[string]any{"actions": actions}, &resp)
	return resp, err
}

// Download fetches the decoded bytes of one rendition encoding.
func (c *Client) Download(ctx context.Context, id, format, encoding string) ([]byte, error) {
	var buf bytes.Buffer
	endpoint := c.draftPath(id, fmt.Sprintf("downloads/%s/%s", url.PathEscape(format), url.PathEscape(encoding)))
	err := c.send(ctx, http.MethodGet, endpoint, "", nil, &buf)
	return buf.Bytes(), err
}

// EventsPage returns a paginated event listing for a draft.
func (c *Client) EventsPage(ctx context.Context, id string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.draftPath(id, "events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Prescreen reports whether the copy mentions alcohol.
func (c *Client) Prescreen(ctx context.Context, mainMessage, subMessage string) (bool, error) {
	var resp struct {
		AlcoholAdvisory bool `json:"alcohol_advisory"`
	}
	body := map[string]string{"main_message": mainMessage, "sub_message": subMessage}
	err := c.do(ctx, http.MethodPost, "prescreen", body, &resp)
	return resp.AlcoholAdvisory, err
}

// Gallery lists the caller's saved creatives, most recent batch first.
func (c *Client) Gallery(ctx context.Context) ([]Batch, error) {
	var resp []Batch
	err := c.do(ctx, http.MethodGet, "gallery", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader, contentType = &buf, "application/json"
	}
	return c.send(ctx, method, endpoint, contentType, reader, out)
}

func (c *Client) send(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+"/v0/"+strings.TrimLeft(endpoint, "/"), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case io.Writer:
		_, err = io.Copy(dst, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func (c *Client) draftPath(id, p string) string {
	base := "drafts/" + url.PathEscape(id)
	if p == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
