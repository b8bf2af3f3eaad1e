package domain

import "time"

type RunFilter struct {
	State RunState
	Limit int
}

// RunEvent is published whenever a run changes state.
type RunEvent struct {
	RunID      string    `json:"run_id"`
	DocumentID string    `json:"document_id"`
	From       RunState  `json:"from"`
	To         RunState  `json:"to"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}

type Statistics struct {
	TotalRuns           int                  `json:"total_runs"`
	ByState             map[RunState]int     `json:"by_state"`
	ByDocumentType      map[DocumentType]int `json:"by_document_type"`
	AverageProcessing   time.Duration        `json:"average_processing"`
	AverageConfidence   float64              `json:"average_confidence"`
	AutoValidationRate  float64              `json:"auto_validation_rate"`
	HumanValidationRate float64              `json:"human_validation_rate"`
	CacheHitRate        float64              `json:"cache_hit_rate"`
	CurrentThreshold    float64              `json:"current_threshold"`
}
