package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const postmarkURL = "https://api.postmarkapp.com/email"

// PostmarkSender delivers links through the Postmark HTTP API.
type PostmarkSender struct {
	serverToken string
	fromEmail   string
	endpoint    string
	httpClient  *http.Client
}

type PostmarkOption func(*PostmarkSender)

func WithHTTPClient(c *http.Client) PostmarkOption {
	return func(s *PostmarkSender) {
		s.httpClient = c
	}
}

func WithEndpoint(u string) PostmarkOption {
	return func(s *PostmarkSender) {
		s.endpoint = u
	}
}

func NewPostmarkSender(serverToken, fromEmail string, opts ...PostmarkOption) *PostmarkSender {
	s := &PostmarkSender{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		endpoint:    postmarkURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

func (s *PostmarkSender) SendMagicLink(ctx context.Context, to, link string, expiresIn time.Duration) error {
	if s.serverToken == "" {
		return fmt.Errorf("postmark not configured: missing server token")
	}

	body, err := json.Marshal(postmarkEmail{
		From:     s.fromEmail,
		To:       to,
		Subject:  subject,
		HtmlBody: htmlBody(link, expiresIn),
		TextBody: textBody(link, expiresIn),
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", s.serverToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}
	return nil
}
