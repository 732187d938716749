// Package assist runs the metered text-generation actions offered while
// filling in the form.
package assist

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/smartform/internal/apperr"
	"github.com/dukerupert/smartform/internal/form"
	"github.com/dukerupert/smartform/internal/metrics"
	"github.com/dukerupert/smartform/internal/model"
	"github.com/dukerupert/smartform/internal/ratelimit"
	"github.com/dukerupert/smartform/internal/textgen"
)

type AutofillRequest struct {
	ResumeText string `json:"resumeText" validate:"required,min=50"`
}

type ImproveRequest struct {
	Text  string `json:"text" validate:"required,min=5"`
	Field string `json:"field" validate:"required,oneof=keyAchievements primarySkills motivation"`
}

// ValidateRequest wraps the complete form under "formData".
type ValidateRequest struct {
	FormData form.Data `json:"formData"`
}

type AutofillResult struct {
	Data       form.Data `json:"extracted"`
	TokensUsed int       `json:"tokensUsed"`
	Remaining  int       `json:"remaining"`
}

type ImproveResult struct {
	Improved   string `json:"improved"`
	TokensUsed int    `json:"tokensUsed"`
	Remaining  int    `json:"remaining"`
}

type Issue struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

type ValidateResult struct {
	Issues     []Issue `json:"issues"`
	TokensUsed int     `json:"tokensUsed"`
	Remaining  int     `json:"remaining"`
}

type UsageReport struct {
	RequestsUsed  int     `json:"requestsUsed"`
	RequestsLimit int     `json:"requestsLimit"`
	Remaining     int     `json:"remaining"`
	ResetAt       int64   `json:"resetAt"`
	TotalTokens   int     `json:"totalTokens"`
	TotalCost     float64 `json:"totalCost"`
}

type Service struct {
	limiter *ratelimit.Limiter
	gen     textgen.Generator
	logger  *slog.Logger
}

func NewService(limiter *ratelimit.Limiter, gen textgen.Generator, logger *slog.Logger) *Service {
	return &Service{limiter: limiter, gen: gen, logger: logger}
}

func (s *Service) Autofill(ctx context.Context, userID string, req AutofillRequest) (AutofillResult, error) {
	if fields := form.Check(req); fields != nil {
		return AutofillResult{}, apperr.Validation("Invalid request", fields)
	}
	out, remaining, err := s.run(ctx, userID, model.EndpointAutofill, buildAutofillPrompt(req.ResumeText))
	if err != nil {
		return AutofillResult{}, err
	}

	var data form.Data
	if err := json.Unmarshal([]byte(textgen.StripFences(out.Text)), &data); err != nil {
		return AutofillResult{}, apperr.Upstream("parse autofill reply", err)
	}
	// Autofill never proposes the motivation step.
	data.Step4 = nil
	return AutofillResult{Data: data, TokensUsed: out.TokensUsed, Remaining: remaining}, nil
}

func (s *Service) Improve(ctx context.Context, userID string, req ImproveRequest) (ImproveResult, error) {
	if fields := form.Check(req); fields != nil {
		return ImproveResult{}, apperr.Validation("Invalid request", fields)
	}
	out, remaining, err := s.run(ctx, userID, model.EndpointImprove, buildImprovePrompt(req.Text, req.Field))
	if err != nil {
		return ImproveResult{}, err
	}
	return ImproveResult{Improved: strings.TrimSpace(out.Text), TokensUsed: out.TokensUsed, Remaining: remaining}, nil
}

// Validate asks the model to review a complete form. A reply that is not a
// JSON list of issues is treated as no issues.
func (s *Service) Validate(ctx context.Context, userID string, data form.Data) (ValidateResult, error) {
	if err := form.ValidateComplete(data); err != nil {
		return ValidateResult{}, err
	}
	prompt, err := buildValidatePrompt(data)
	if err != nil {
		return ValidateResult{}, err
	}
	out, remaining, err := s.run(ctx, userID, model.EndpointValidate, prompt)
	if err != nil {
		return ValidateResult{}, err
	}

	issues := []Issue{}
	if err := json.Unmarshal([]byte(textgen.StripFences(out.Text)), &issues); err != nil {
		s.logger.Warn("unparseable validation reply", "error", err)
		issues = []Issue{}
	}
	return ValidateResult{Issues: issues, TokensUsed: out.TokensUsed, Remaining: remaining}, nil
}

// Usage reports the user's consumption in the current window.
func (s *Service) Usage(ctx context.Context, userID string) (UsageReport, error) {
	res, err := s.limiter.CheckLimit(ctx, userID)
	if err != nil {
		return UsageReport{}, err
	}
	st, err := s.limiter.WindowStats(ctx, userID, s.limiter.Window())
	if err != nil {
		return UsageReport{}, err
	}
	return UsageReport{
		RequestsUsed:  st.Count,
		RequestsLimit: s.limiter.Max(),
		Remaining:     res.Remaining,
		ResetAt:       res.ResetAt.UnixMilli(),
		TotalTokens:   st.TotalTokens,
		TotalCost:     st.TotalCost,
	}, nil
}

// run gates one generation call on the usage limit and records it after it
// succeeds. It returns the reply and the calls left in the window.
func (s *Service) run(ctx context.Context, userID string, endpoint model.Endpoint, prompt string) (textgen.Result, int, error) {
	res, err := s.limiter.CheckLimit(ctx, userID)
	if err != nil {
		return textgen.Result{}, 0, err
	}
	if !res.Allowed {
		return textgen.Result{}, 0, apperr.RateLimited(res.ResetAt)
	}

	start := time.Now()
	out, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		metrics.GenerationFailures.WithLabelValues(string(endpoint)).Inc()
		return textgen.Result{}, 0, apperr.Upstream("text generation failed", err)
	}
	metrics.GenerationTokens.WithLabelValues(string(endpoint)).Add(float64(out.TokensUsed))

	if err := s.limiter.Record(ctx, userID, endpoint, out.TokensUsed, textgen.EstimateCost(out.TokensUsed)); err != nil {
		s.logger.Error("record usage", "endpoint", endpoint, "user_id", userID, "error", err)
	}
	s.logger.Debug("generation", "endpoint", endpoint, "tokens", out.TokensUsed, "duration", time.Since(start))

	return out, res.Remaining - 1, nil
}
