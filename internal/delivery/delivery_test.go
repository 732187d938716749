package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/resend/resend-go/v2"
)

func TestPostmarkSendMagicLink(t *testing.T) {
	var received postmarkEmail
	var gotToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	}))
	defer server.Close()

	s := NewPostmarkSender("test-token", "noreply@example.com", WithEndpoint(server.URL), WithHTTPClient(server.Client()))
	err := s.SendMagicLink(context.Background(), "alice@example.com", "https://app.test/api/auth/verify?token=abc", 15*time.Minute)
	if err != nil {
		t.Fatalf("send magic link: %v", err)
	}

	if gotToken != "test-token" {
		t.Errorf("server token = %q, want %q", gotToken, "test-token")
	}
	if received.To != "alice@example.com" {
		t.Errorf("To = %q, want %q", received.To, "alice@example.com")
	}
	if received.From != "noreply@example.com" {
		t.Errorf("From = %q, want %q", received.From, "noreply@example.com")
	}
	if !strings.Contains(received.TextBody, "token=abc") {
		t.Errorf("TextBody missing link: %q", received.TextBody)
	}
	if !strings.Contains(received.TextBody, "15 minutes") {
		t.Errorf("TextBody missing expiry: %q", received.TextBody)
	}
}

func TestPostmarkErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	s := NewPostmarkSender("test-token", "noreply@example.com", WithEndpoint(server.URL))
	if err := s.SendMagicLink(context.Background(), "a@example.com", "link", time.Minute); err == nil {
		t.Fatal("expected error for 422 response")
	}
}

func TestPostmarkNotConfigured(t *testing.T) {
	s := NewPostmarkSender("", "noreply@example.com")
	if err := s.SendMagicLink(context.Background(), "a@example.com", "link", time.Minute); err == nil {
		t.Fatal("expected error for unconfigured sender")
	}
}

func TestResendSendMagicLink(t *testing.T) {
	var gotPath, gotAuth string
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "email-1"}`))
	}))
	defer server.Close()

	client := resend.NewCustomClient(server.Client(), "re_test")
	base, err := url.Parse(server.URL + "/")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client.BaseURL = base

	s := newResendSenderWithClient(client, "login@example.com")
	if err := s.SendMagicLink(context.Background(), "bob@example.com", "https://app.test/verify", 15*time.Minute); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotPath != "/emails" {
		t.Errorf("path = %q, want /emails", gotPath)
	}
	if gotAuth != "Bearer re_test" {
		t.Errorf("authorization = %q", gotAuth)
	}
	to, _ := received["to"].([]any)
	if len(to) != 1 || to[0] != "bob@example.com" {
		t.Errorf("to = %v", received["to"])
	}
	if received["subject"] != subject {
		t.Errorf("subject = %v, want %q", received["subject"], subject)
	}
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	s := NewLogSender(logger)
	if err := s.SendMagicLink(context.Background(), "a@example.com", "https://app.test/x", time.Minute); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(buf.String(), "https://app.test/x") {
		t.Errorf("log output missing link: %q", buf.String())
	}
}

func TestHumanize(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{15 * time.Minute, "15 minutes"},
		{time.Minute, "1 minute"},
		{15*time.Minute - 130*time.Microsecond, "15 minutes"},
		{14*time.Minute + 59*time.Second, "15 minutes"},
		{100 * time.Second, "2 minutes"},
		{10 * time.Second, "10s"},
	}
	for _, tt := range tests {
		if got := humanize(tt.d); got != tt.want {
			t.Errorf("humanize(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
