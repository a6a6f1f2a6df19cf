// Package api is the typed gateway to the booking backend's REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"tileworks/internal/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// ErrUnauthorized is returned after a 401/403. The session has already been
// cleared by the time the caller sees it.
var ErrUnauthorized = errors.New("session rejected by backend")

const genericErrorMessage = "Something went wrong. Please try again."

// APIError is a failed call that is local to the caller: a non-2xx other than
// 401/403, or a 2xx body with success=false.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Credentials supplies the bearer token and receives forced logouts.
type Credentials interface {
	Token() *oauth2.Token
	ForceLogout(ctx context.Context, reason string)
}

// Client calls the backend on behalf of one session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      Credentials
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets a client timeout; zero keeps the platform default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d, Transport: c.httpClient.Transport}
		}
	}
}

// WithRateLimit throttles outgoing calls. A non-positive rps disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger.With().Str("component", "api").Logger() }
}

// NewClient constructs a client for baseURL. creds may be nil for anonymous use.
func NewClient(baseURL string, creds Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		creds:      creds,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Envelope is the backend's response shape. Callers must check Success even on HTTP 200.
type Envelope struct {
	Success bool
	Data    json.RawMessage
	Message string
	Status  int
}

// Multipart is a form body with ordered text fields and file parts.
type Multipart struct {
	Fields []Field
	Files  []Upload
}

type Field struct {
	Name  string
	Value string
}

// Upload is one file part.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Request performs one call. body may be nil, a *Multipart, or any JSON-encodable value.
// endpoint is a path relative to the base URL; label names it in metrics.
func (c *Client) Request(ctx context.Context, label, method, endpoint string, body any) (*Envelope, error) {
	return c.request(ctx, label, method, endpoint, body, true)
}

func (c *Client) request(ctx context.Context, label, method, endpoint string, body any, authed bool) (*Envelope, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if authed && c.creds != nil {
		if tok := c.creds.Token(); tok != nil && tok.AccessToken != "" {
			tok.SetAuthHeader(req)
		}
	}

	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		l = &c.logger
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.IncAPIRequest(label, 0)
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	metrics.IncAPIRequest(label, resp.StatusCode)
	l.Debug().
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(started)).
		Msg("api call")

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if authed && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		if c.creds != nil {
			c.creds.ForceLogout(ctx, fmt.Sprintf("http %d on %s %s", resp.StatusCode, method, endpoint))
		}
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}

	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", method, endpoint, err)
	}
	env.Status = resp.StatusCode
	return env, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	url := c.baseURL + endpoint

	switch b := body.(type) {
	case nil:
		return http.NewRequestWithContext(ctx, method, url, http.NoBody)
	case *Multipart:
		data, contentType, err := encodeMultipart(b)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}

func encodeMultipart(m *Multipart) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range m.Fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, "", err
		}
	}
	for _, f := range m.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Filename))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// decodeEnvelope accepts {success, data, message} bodies; a body without a
// success field is treated as the data of a successful call.
func decodeEnvelope(raw []byte) (*Envelope, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return &Envelope{Success: true}, nil
	}

	var wrap struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &wrap); err != nil {
		// Not an object: the whole body is data.
		return &Envelope{Success: true, Data: raw}, nil
	}
	if wrap.Success == nil {
		return &Envelope{Success: true, Data: raw, Message: wrap.Message}, nil
	}

	env := &Envelope{Success: *wrap.Success, Data: wrap.Data, Message: wrap.Message}
	if !env.Success && len(wrap.Error) > 0 {
		if msg := errorMessage(raw); msg != genericErrorMessage {
			env.Message = msg
		}
	}
	return env, nil
}

// errorMessage extracts error.message, then message, then error as a string.
func errorMessage(raw []byte) string {
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return genericErrorMessage
	}
	if len(body.Error) > 0 {
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body.Error, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
	}
	if body.Message != "" {
		return body.Message
	}
	var s string
	if len(body.Error) > 0 && json.Unmarshal(body.Error, &s) == nil && s != "" {
		return s
	}
	return genericErrorMessage
}

// do runs a call and decodes data into out, turning success=false into *APIError.
func (c *Client) do(ctx context.Context, label, method, endpoint string, body, out any) error {
	return c.doAuth(ctx, label, method, endpoint, body, out, true)
}

func (c *Client) doAuth(ctx context.Context, label, method, endpoint string, body, out any, authed bool) error {
	env, err := c.request(ctx, label, method, endpoint, body, authed)
	if err != nil {
		return err
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = genericErrorMessage
		}
		return &APIError{Status: env.Status, Message: msg}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", label, err)
	}
	return nil
}
