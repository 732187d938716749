package model

import "time"

// Endpoint names the kind of metered text-generation call.
type Endpoint string

const (
	EndpointAutofill Endpoint = "autofill"
	EndpointImprove  Endpoint = "improve"
	EndpointValidate Endpoint = "validate"
)

func (e Endpoint) Valid() bool {
	switch e {
	case EndpointAutofill, EndpointImprove, EndpointValidate:
		return true
	}
	return false
}

type UsageRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Endpoint     Endpoint  `json:"endpoint"`
	TokensUsed   int       `json:"tokensUsed"`
	CostEstimate float64   `json:"costEstimate"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UsageStats aggregates every usage record inside a window.
type UsageStats struct {
	Count       int     `json:"count"`
	TotalTokens int     `json:"totalTokens"`
	TotalCost   float64 `json:"totalCost"`
}
