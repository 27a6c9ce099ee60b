package http

import (
	"time"

	"github.com/sawpanic/perpboard/internal/exclusion"
	"github.com/sawpanic/perpboard/internal/ranking"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                   `json:"status"` // ok or loading
	Timestamp time.Time                `json:"timestamp"`
	Uptime    string                   `json:"uptime"`
	Version   string                   `json:"version,omitempty"`
	Sections  map[string]*time.Time    `json:"sections"`
	Circuits  map[string]CircuitHealth `json:"circuits,omitempty"`
}

// CircuitHealth is the health view of one upstream breaker
type CircuitHealth struct {
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// MoversResponse is one gainers/losers table
type MoversResponse struct {
	Timeframe  string          `json:"timeframe"`
	LastUpdate time.Time       `json:"last_update"`
	Sampled    int             `json:"sampled"`
	Gainers    []ranking.Mover `json:"gainers"`
	Losers     []ranking.Mover `json:"losers"`
}

// VolumeResponse is one volume table with the bases filtered out of it
type VolumeResponse struct {
	Timeframe    string              `json:"timeframe"`
	LastUpdate   time.Time           `json:"last_update"`
	Sampled      int                 `json:"sampled"`
	Gaining      []ranking.VolumeRow `json:"gaining"`
	Losing       []ranking.VolumeRow `json:"losing"`
	Excluded     []string            `json:"excluded"`
	ExcludedRows int                 `json:"excluded_rows"`
}

// FundingResponse is the funding table pair
type FundingResponse struct {
	LastUpdate time.Time            `json:"last_update"`
	Positive   []ranking.FundingRow `json:"positive"`
	Negative   []ranking.FundingRow `json:"negative"`
}

// ExclusionsResponse exposes the volume history behind the exclusion set
type ExclusionsResponse struct {
	Excluded  []string           `json:"excluded"`
	Counts    map[string]int     `json:"counts"`
	Records   []exclusion.Record `json:"records"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// LoadingResponse answers requests for a section that has not been populated
type LoadingResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorResponse represents API error responses
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}
