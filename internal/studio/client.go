package studio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"creativeline/internal/domain"
)

// DefaultBaseURL is where the rendering service listens in development.
const DefaultBaseURL = "http://127.0.0.1:8000"

var (
	ErrExtractionFailed = errors.New("extraction failed")
	ErrGenerationFailed = errors.New("image generation failed")
	ErrCloudListFailed  = errors.New("cloud image listing failed")
	ErrMissingAssets    = errors.New("logo and product image required")
)

// HTTPClient matches the subset of http.Client used by Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the compliance-and-rendering service.
type Client struct {
	BaseURL    string
	HTTPClient HTTPClient
	Timeout    time.Duration
	Log        zerolog.Logger
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
		Timeout:    2 * time.Minute,
		Log:        zerolog.Nop(),
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Extract sends the draft fields and returns the normalized spec.
func (c *Client) Extract(ctx context.Context, fields domain.ExtractFields) (domain.Spec, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, kv := range fields.Pairs() {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	body, err := c.post(ctx, "extract", mw.FormDataContentType(), &buf, "")
	if err != nil {
		return nil, wrapFailure(ErrExtractionFailed, err)
	}
	var spec domain.Spec
	if err := json.Unmarshal(body, &spec); err != nil {
		return nil, fmt.Errorf("%w: decode spec: %w", ErrExtractionFailed, err)
	}
	if spec == nil {
		return nil, fmt.Errorf("%w: empty spec", ErrExtractionFailed)
	}
	return spec, nil
}

// Generate submits the spec and assets. The response is decoded into either
// a result set or an invalid verdict.
func (c *Client) Generate(ctx context.Context, spec domain.Spec, assets domain.AssetSet, token string) (domain.Outcome, error) {
	if !assets.Complete() {
		return domain.Outcome{}, ErrMissingAssets
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("encode spec: %w", err)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("spec", string(specJSON)); err != nil {
		return domain.Outcome{}, err
	}
	if err := writeFile(mw, "product_image", assets.Products[0]); err != nil {
		return domain.Outcome{}, err
	}
	for i := 1; i < len(assets.Products) && i < domain.MaxProducts; i++ {
		if !assets.Products[i].Present() {
			continue
		}
		if err := writeFile(mw, fmt.Sprintf("product_image_%d", i+1), assets.Products[i]); err != nil {
			return domain.Outcome{}, err
		}
	}
	if err := writeFile(mw, "logo_image", *assets.Logo); err != nil {
		return domain.Outcome{}, err
	}
	if err := mw.Close(); err != nil {
		return domain.Outcome{}, err
	}
	body, err := c.post(ctx, "generate-images", mw.FormDataContentType(), &buf, token)
	if err != nil {
		return domain.Outcome{}, wrapFailure(ErrGenerationFailed, err)
	}
	out, err := DecodeOutcome(body)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return out, nil
}

// CloudImages lists the creatives persisted for the credential's account.
func (c *Client) CloudImages(ctx context.Context, token string) ([]domain.ImageRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("cloud-images"), nil)
	if err != nil {
		return nil, err
	}
	setBearer(req, token)
	body, err := c.send(req)
	if err != nil {
		return nil, wrapFailure(ErrCloudListFailed, err)
	}
	var records []domain.ImageRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("%w: decode records: %w", ErrCloudListFailed, err)
	}
	return records, nil
}

// DecodeOutcome classifies a successful generation response body. Keys that
// are not plain format names, or whose images are not base64, are skipped.
func DecodeOutcome(body []byte) (domain.Outcome, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.Outcome{}, fmt.Errorf("decode response: %w", err)
	}
	if v, ok := raw["validation"]; ok && !isNullRaw(v) {
		var verdict domain.Verdict
		if err := json.Unmarshal(v, &verdict); err != nil {
			return domain.Outcome{}, fmt.Errorf("decode validation: %w", err)
		}
		if !verdict.Valid {
			return domain.Outcome{Kind: domain.OutcomeInvalid, Verdict: &verdict}, nil
		}
	}
	result := domain.Result{}
	for format, v := range raw {
		if format == "validation" || isNullRaw(v) || !domain.ValidFormat(format) {
			continue
		}
		rendition, ok := decodeRendition(v)
		if !ok {
			continue
		}
		result[format] = rendition
	}
	return domain.Outcome{Kind: domain.OutcomeResult, Result: result}, nil
}

func decodeRendition(raw json.RawMessage) (domain.Rendition, bool) {
	var inline string
	if err := json.Unmarshal(raw, &inline); err == nil {
		if !isBase64(inline) {
			return domain.Rendition{}, false
		}
		return domain.Rendition{Inline: inline}, true
	}
	var encoded struct {
		PNG string `json:"png"`
		JPG string `json:"jpg"`
	}
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return domain.Rendition{}, false
	}
	r := domain.Rendition{Encodings: map[domain.Encoding]string{}}
	if isBase64(encoded.PNG) {
		r.Encodings[domain.EncodingPNG] = encoded.PNG
	}
	if isBase64(encoded.JPG) {
		r.Encodings[domain.EncodingJPG] = encoded.JPG
	}
	if len(r.Encodings) == 0 {
		return domain.Rendition{}, false
	}
	return r, true
}

func (c *Client) post(ctx context.Context, endpoint, contentType string, body io.Reader, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(endpoint), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	setBearer(req, token)
	return c.send(req)
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: c.Timeout}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.Log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Bool("bearer", req.Header.Get("Authorization") != "").
		Msg("studio request")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return b, nil
}

func (c *Client) url(endpoint string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

func setBearer(req *http.Request, token string) {
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func writeFile(mw *multipart.Writer, field string, a domain.Asset) error {
	name := a.Name
	if name == "" {
		name = field
	}
	w, err := mw.CreateFormFile(field, name)
	if err != nil {
		return err
	}
	_, err = w.Write(a.Data)
	return err
}

func wrapFailure(kind error, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

func isBase64(s string) bool {
	if s == "" {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}

func isNullRaw(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
