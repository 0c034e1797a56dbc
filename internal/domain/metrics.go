package domain

// Metrics aggregates agent counts and usage for a session (or globally
// when SessionID is the zero UUID). Maintained incrementally on every
// status transition, never recomputed by full scan on the hot path.
type Metrics struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Deleted   int `json:"deleted"`

	TotalTokens  int64   `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}
