// Package client is a Go client for the smartform JSON API. It keeps the
// session cookie in a jar and turns error envelopes back into apperr values,
// so the autosave coordinator and wizard can drive a live server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dukerupert/smartform/internal/apperr"
	"github.com/dukerupert/smartform/internal/assist"
	"github.com/dukerupert/smartform/internal/form"
	"github.com/dukerupert/smartform/internal/model"
)

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithTransport replaces the default instrumented transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.Transport = rt }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Jar:       jar,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Message string            `json:"message"`
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields"`
	ResetAt int64             `json:"resetAt"`
}

// do sends a JSON request and decodes the envelope's data into out when out
// is non-nil. It reports whether data was present.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (bool, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return false, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return false, fmt.Errorf("%s %s: status %d: decode body: %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return false, responseError(resp.StatusCode, env)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return false, fmt.Errorf("decode data: %w", err)
		}
	}
	return true, nil
}

func responseError(status int, env envelope) error {
	switch status {
	case http.StatusUnauthorized:
		return apperr.New(apperr.KindAuth, env.Error)
	case http.StatusBadRequest:
		return apperr.Validation(env.Error, env.Fields)
	case http.StatusTooManyRequests:
		return apperr.RateLimited(time.UnixMilli(env.ResetAt))
	default:
		return apperr.Wrap(apperr.KindInternal, env.Error, fmt.Errorf("server returned status %d", status))
	}
}

type StartResult struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
	// MagicLink is only set when the server exposes links for development.
	MagicLink string `json:"magicLink"`
}

func (c *Client) StartAuth(ctx context.Context, email string) (StartResult, error) {
	var res StartResult
	_, err := c.do(ctx, http.MethodPost, "/api/auth/start", map[string]string{"email": email}, &res)
	return res, err
}

// Verify follows a magic link. On failure the login error code from the
// redirect is returned as an auth error message.
func (c *Client) Verify(ctx context.Context, link string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusSeeOther {
		return fmt.Errorf("verify: unexpected status %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		return fmt.Errorf("verify: bad redirect: %w", err)
	}
	if code := loc.Query().Get("error"); code != "" {
		return apperr.New(apperr.KindAuth, code)
	}
	return nil
}

func (c *Client) Session(ctx context.Context) (model.Session, error) {
	var s model.Session
	_, err := c.do(ctx, http.MethodGet, "/api/auth/session", nil, &s)
	return s, err
}

func (c *Client) Refresh(ctx context.Context) (model.Session, error) {
	var s model.Session
	_, err := c.do(ctx, http.MethodPost, "/api/auth/refresh", nil, &s)
	return s, err
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	return err
}

func (c *Client) SaveProgress(ctx context.Context, step int, data form.Data) error {
	_, err := c.do(ctx, http.MethodPost, "/api/forms/save", map[string]any{
		"currentStep": step,
		"formData":    data,
	}, nil)
	return err
}

// LoadProgress returns nil when the server has no draft for the user.
func (c *Client) LoadProgress(ctx context.Context) (*model.FormProgress, error) {
	var p model.FormProgress
	found, err := c.do(ctx, http.MethodGet, "/api/forms/progress", nil, &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

func (c *Client) ClearProgress(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/forms/progress", nil, nil)
	return err
}

func (c *Client) Submit(ctx context.Context, data form.Data) (string, error) {
	var res struct {
		SubmissionID string `json:"submissionId"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/forms/submit", data, &res); err != nil {
		return "", err
	}
	return res.SubmissionID, nil
}

func (c *Client) Submissions(ctx context.Context) ([]model.FormSubmission, error) {
	var subs []model.FormSubmission
	_, err := c.do(ctx, http.MethodGet, "/api/forms/submissions", nil, &subs)
	return subs, err
}

func (c *Client) Autofill(ctx context.Context, resumeText string) (assist.AutofillResult, error) {
	var res assist.AutofillResult
	_, err := c.do(ctx, http.MethodPost, "/api/ai/autofill", assist.AutofillRequest{ResumeText: resumeText}, &res)
	return res, err
}

func (c *Client) Improve(ctx context.Context, req assist.ImproveRequest) (assist.ImproveResult, error) {
	var res assist.ImproveResult
	_, err := c.do(ctx, http.MethodPost, "/api/ai/improve", req, &res)
	return res, err
}

func (c *Client) Validate(ctx context.Context, data form.Data) (assist.ValidateResult, error) {
	var res assist.ValidateResult
	_, err := c.do(ctx, http.MethodPost, "/api/ai/validate", assist.ValidateRequest{FormData: data}, &res)
	return res, err
}

func (c *Client) Usage(ctx context.Context) (assist.UsageReport, error) {
	var res assist.UsageReport
	_, err := c.do(ctx, http.MethodGet, "/api/ai/usage", nil, &res)
	return res, err
}
