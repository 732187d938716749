package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/dukerupert/smartform/internal/assist"
)

func TestImproveAndRateLimit(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "ada@example.com")
	req := map[string]string{"text": "did stuff at work", "field": "keyAchievements"}

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/api/ai/improve", req, token)
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d status = %d: %s", i+1, rec.Code, rec.Body)
		}
		var res assist.ImproveResult
		json.Unmarshal(decode(t, rec).Data, &res)
		if res.Remaining != 1-i {
			t.Errorf("call %d remaining = %d, want %d", i+1, res.Remaining, 1-i)
		}
	}

	rec := env.do(t, http.MethodPost, "/api/ai/improve", req, token)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	body := decode(t, rec)
	if body.Error != "Rate limit exceeded" || body.ResetIn == nil || body.ResetAt == nil {
		t.Errorf("envelope = %+v", body)
	}
	if *body.ResetIn <= 0 || *body.ResetIn > 60 {
		t.Errorf("resetIn = %d, want within the window", *body.ResetIn)
	}
}

func TestImproveRejectsUnknownField(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "ada@example.com")

	rec := env.do(t, http.MethodPost, "/api/ai/improve", map[string]string{"text": "hello world", "field": "company"}, token)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decode(t, rec); body.Fields["field"] == "" {
		t.Errorf("fields = %v", body.Fields)
	}
}

func TestUpstreamFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "ada@example.com")
	env.gen.err = errors.New("status 503: key=abc123")

	rec := env.do(t, http.MethodPost, "/api/ai/autofill", map[string]string{"resumeText": strings.Repeat("experience ", 10)}, token)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body := decode(t, rec); body.Error != "Failed to process resume" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestUsageReport(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "ada@example.com")
	env.do(t, http.MethodPost, "/api/ai/improve", map[string]string{"text": "did stuff at work", "field": "motivation"}, token)

	rec := env.do(t, http.MethodGet, "/api/ai/usage", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var rep assist.UsageReport
	if err := json.Unmarshal(decode(t, rec).Data, &rep); err != nil {
		t.Fatal(err)
	}
	if rep.RequestsUsed != 1 || rep.RequestsLimit != 2 || rep.Remaining != 1 || rep.TotalTokens != 50 {
		t.Errorf("usage = %+v", rep)
	}
}

func TestValidateReadsFormDataWrapper(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "ada@example.com")
	env.gen.reply = `[{"field":"step4.motivation","message":"Be specific","severity":"info"}]`

	rec := env.do(t, http.MethodPost, "/api/ai/validate", map[string]any{"formData": completeForm()}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var res assist.ValidateResult
	if err := json.Unmarshal(decode(t, rec).Data, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(res.Issues) != 1 || res.Issues[0].Field != "step4.motivation" {
		t.Errorf("issues = %+v", res.Issues)
	}
	if res.TokensUsed != 50 || res.Remaining != 1 {
		t.Errorf("result = %+v, want tokensUsed 50 remaining 1", res)
	}
}

func TestValidateRejectsIncompleteFormData(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "ada@example.com")

	d := completeForm()
	d.Step3 = nil
	rec := env.do(t, http.MethodPost, "/api/ai/validate", map[string]any{"formData": d}, token)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decode(t, rec)
	if body.Fields["step3"] == "" || body.Fields["step1"] != "" {
		t.Errorf("fields = %v, want only step3", body.Fields)
	}
}
