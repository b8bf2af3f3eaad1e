package domain

import "time"

type CompetencyDomain string

const (
	CompetencyOCRText        CompetencyDomain = "ocr_text"
	CompetencyOCRAmounts     CompetencyDomain = "ocr_amounts"
	CompetencyClassification CompetencyDomain = "document_classification"
	CompetencyEntries        CompetencyDomain = "entry_generation"
)

// CompetencyDomains lists every tracked domain in a stable order.
var CompetencyDomains = []CompetencyDomain{
	CompetencyOCRText,
	CompetencyOCRAmounts,
	CompetencyClassification,
	CompetencyEntries,
}

type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// LearningSample is the triple a validated or rejected run contributes to a session.
type LearningSample struct {
	RunID      string            `json:"run_id"`
	Extraction ExtractionResult  `json:"extraction"`
	Analysis   SemanticAnalysis  `json:"analysis"`
	Outcome    ValidationOutcome `json:"outcome"`
	Fused      float64           `json:"fused"`
}

type LearningSession struct {
	ID              string                       `json:"id"`
	WindowStart     time.Time                    `json:"window_start"`
	WindowEnd       time.Time                    `json:"window_end"`
	Samples         []LearningSample             `json:"samples,omitempty"`
	SampleCount     int                          `json:"sample_count"`
	Deltas          map[CompetencyDomain]float64 `json:"deltas"`
	ThresholdBefore float64                      `json:"threshold_before"`
	ThresholdAfter  float64                      `json:"threshold_after"`
	Status          SessionStatus                `json:"status"`
	Error           string                       `json:"error,omitempty"`
}

// CompetencySnapshot is a copy of the learning state safe to hand out.
type CompetencySnapshot struct {
	Competencies      map[CompetencyDomain]float64 `json:"competencies"`
	Threshold         float64                      `json:"threshold"`
	AcceptStreak      int                          `json:"accept_streak"`
	CorrectionStreak  int                          `json:"correction_streak"`
	SessionsCompleted int                          `json:"sessions_completed"`
	UpdatedAt         time.Time                    `json:"updated_at"`
}
