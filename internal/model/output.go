package model

import "time"

// Output types
const (
	OutputTypePrediction   = "prediction"
	OutputTypeOptimisation = "optimisation"
)

// TopPlayer is one row of a prediction ranking
type TopPlayer struct {
	Rank           int     `json:"rank"`
	Player         string  `json:"player"`
	ExpectedPoints float64 `json:"expected_points"`
	Position       string  `json:"position,omitempty"`
}

// Transfer pairs an incoming player with the one they replace
type Transfer struct {
	In  string `json:"in"`
	Out string `json:"out"`
}

// LineupEntry places a player in a squad position group
type LineupEntry struct {
	Name          string `json:"name"`
	PositionGroup string `json:"position_group"`
}

// JobOutput is the structured result parsed from a predict or optimize run.
// The Type field discriminates which group of fields is populated. The
// owning type's list fields stay non-nil so they serialize as [] rather
// than disappearing, while the other type's lists are omitted entirely;
// captain, vice_captain and expected_points are always emitted, null
// when the run's output never named them.
type JobOutput struct {
	Type        string         `json:"type"`
	GeneratedAt time.Time      `json:"generated_at"`
	Parameters  map[string]any `json:"parameters,omitempty"`

	// Prediction fields
	Headline string      `json:"headline,omitempty"`
	Players  []TopPlayer `json:"players,omitzero"`

	// Optimisation fields
	Transfers      []Transfer    `json:"transfers,omitzero"`
	Captain        *string       `json:"captain"`
	ViceCaptain    *string       `json:"vice_captain"`
	ExpectedPoints *float64      `json:"expected_points"`
	BaselinePoints *float64      `json:"baseline_points,omitempty"`
	BestPoints     *float64      `json:"best_points,omitempty"`
	StartingLineup []LineupEntry `json:"starting_lineup,omitempty"`
	Bench          []LineupEntry `json:"bench,omitempty"`

	SummaryText string `json:"summary_text,omitempty"`
}

// LatestReport wraps a job output with provenance for the reports endpoint
type LatestReport struct {
	JobOutput
	JobID       string     `json:"job_id"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LatestReports is the combined latest prediction and optimisation view
type LatestReports struct {
	Prediction   *LatestReport `json:"prediction"`
	Optimisation *LatestReport `json:"optimisation"`
}
