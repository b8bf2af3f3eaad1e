package domain

import (
	"errors"
	"fmt"
	"time"
)

type RunState string

const (
	StatePending            RunState = "pending"
	StateExtracting         RunState = "extracting"
	StateAnalyzing          RunState = "analyzing"
	StateGenerating         RunState = "generating"
	StateAwaitingValidation RunState = "awaiting_validation"
	StateValidated          RunState = "validated"
	StateRejected           RunState = "rejected"
	StateError              RunState = "error"
	StateCancelled          RunState = "cancelled"
)

var AllRunStates = []RunState{
	StatePending,
	StateExtracting,
	StateAnalyzing,
	StateGenerating,
	StateAwaitingValidation,
	StateValidated,
	StateRejected,
	StateError,
	StateCancelled,
}

var transitions = map[RunState][]RunState{
	StatePending:            {StateExtracting, StateError, StateCancelled},
	StateExtracting:         {StateAnalyzing, StateError, StateCancelled},
	StateAnalyzing:          {StateGenerating, StateError, StateCancelled},
	StateGenerating:         {StateAwaitingValidation, StateError, StateCancelled},
	StateAwaitingValidation: {StateValidated, StateRejected, StateError, StateCancelled},
}

func ParseRunState(v string) (RunState, bool) {
	for _, s := range AllRunStates {
		if string(s) == v {
			return s, true
		}
	}
	return "", false
}

func (s RunState) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

func CanTransition(from, to RunState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Stage string

const (
	StageIntake     Stage = "intake"
	StageExtraction Stage = "extraction"
	StageAnalysis   Stage = "analysis"
	StageGeneration Stage = "generation"
	StageValidation Stage = "validation"
)

// StageOf returns the stage a processing state belongs to.
func StageOf(s RunState) Stage {
	switch s {
	case StateExtracting:
		return StageExtraction
	case StateAnalyzing:
		return StageAnalysis
	case StateGenerating:
		return StageGeneration
	case StateAwaitingValidation:
		return StageValidation
	default:
		return StageIntake
	}
}

type StageError struct {
	Stage   Stage     `json:"stage"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type SubmitOptions struct {
	AutoValidate bool   `json:"auto_validate"`
	Journal      string `json:"journal,omitempty"`
}

// PipelineRun binds one document to its state and the artifacts each stage produced.
// Version is bumped by the repository on every successful save.
type PipelineRun struct {
	ID              string             `json:"id"`
	Document        Document           `json:"document"`
	State           RunState           `json:"state"`
	Extraction      *ExtractionResult  `json:"extraction,omitempty"`
	Analysis        *SemanticAnalysis  `json:"analysis,omitempty"`
	Entry           *GeneratedEntry    `json:"entry,omitempty"`
	Validation      *ValidationOutcome `json:"validation,omitempty"`
	Errors          []StageError       `json:"errors,omitempty"`
	CacheHit        bool               `json:"cache_hit"`
	CancelRequested bool               `json:"cancel_requested"`
	Options         SubmitOptions      `json:"options"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	Elapsed         time.Duration      `json:"elapsed"`
	Version         int64              `json:"version"`
}

func NewPipelineRun(id string, doc Document, opts SubmitOptions, now time.Time) *PipelineRun {
	return &PipelineRun{
		ID:        id,
		Document:  doc,
		State:     StatePending,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *PipelineRun) TransitionTo(next RunState, now time.Time) error {
	if !CanTransition(r.State, next) {
		return WrapError(ErrInvalidStateTransition, "transition run",
			fmt.Errorf("run %s: %s -> %s", r.ID, r.State, next))
	}
	r.State = next
	r.UpdatedAt = now
	if next.Terminal() {
		done := now
		r.CompletedAt = &done
		r.Elapsed = now.Sub(r.CreatedAt)
	}
	return nil
}

func (r *PipelineRun) guardArtifact(op string, want RunState, present bool) error {
	if r.State != want {
		return WrapError(ErrInvalidStateTransition, op, fmt.Errorf("run %s is %s, want %s", r.ID, r.State, want))
	}
	if present {
		return WrapError(ErrInvalidStateTransition, op, fmt.Errorf("run %s already has this artifact", r.ID))
	}
	return nil
}

func (r *PipelineRun) RecordExtraction(res ExtractionResult, cacheHit bool, now time.Time) error {
	if err := r.guardArtifact("record extraction", StateExtracting, r.Extraction != nil); err != nil {
		return err
	}
	r.Extraction = &res
	r.CacheHit = cacheHit
	r.UpdatedAt = now
	return nil
}

func (r *PipelineRun) RecordAnalysis(analysis SemanticAnalysis, now time.Time) error {
	if err := r.guardArtifact("record analysis", StateAnalyzing, r.Analysis != nil); err != nil {
		return err
	}
	r.Analysis = &analysis
	r.UpdatedAt = now
	return nil
}

func (r *PipelineRun) RecordEntry(entry GeneratedEntry, now time.Time) error {
	if err := r.guardArtifact("record entry", StateGenerating, r.Entry != nil); err != nil {
		return err
	}
	r.Entry = &entry
	r.UpdatedAt = now
	return nil
}

// RecordValidation stores the outcome and moves the run to its final state.
// amended replaces the entry for modified decisions.
func (r *PipelineRun) RecordValidation(outcome ValidationOutcome, amended *GeneratedEntry, now time.Time) error {
	if err := r.guardArtifact("record validation", StateAwaitingValidation, r.Validation != nil); err != nil {
		return err
	}
	next := StateValidated
	if outcome.Decision == DecisionRejected {
		next = StateRejected
	}
	if err := r.TransitionTo(next, now); err != nil {
		return err
	}
	if amended != nil {
		r.Entry = amended
	}
	r.Validation = &outcome
	return nil
}

// Fail moves a non-terminal run to error. Artifacts already written stay.
func (r *PipelineRun) Fail(stage Stage, cause error, now time.Time) error {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	if err := r.TransitionTo(StateError, now); err != nil {
		return err
	}
	r.Errors = append(r.Errors, StageError{
		Stage:   stage,
		Kind:    KindOf(cause),
		Message: cause.Error(),
		At:      now,
	})
	return nil
}

func (r *PipelineRun) Cancel(now time.Time) error {
	if err := r.TransitionTo(StateCancelled, now); err != nil {
		return err
	}
	r.CancelRequested = true
	return nil
}

func (r *PipelineRun) Clone() *PipelineRun {
	if r == nil {
		return nil
	}
	out := *r
	if r.Document.Quality != nil {
		q := *r.Document.Quality
		out.Document.Quality = &q
	}
	if r.Extraction != nil {
		ex := r.Extraction.Clone()
		out.Extraction = &ex
	}
	if r.Analysis != nil {
		an := *r.Analysis
		an.CandidateAccounts = append([]CandidateAccount(nil), r.Analysis.CandidateAccounts...)
		an.Entities = append([]Entity(nil), r.Analysis.Entities...)
		an.Relations = append([]Relation(nil), r.Analysis.Relations...)
		an.Anomalies = append([]Anomaly(nil), r.Analysis.Anomalies...)
		an.MatchedKeywords = append([]string(nil), r.Analysis.MatchedKeywords...)
		out.Analysis = &an
	}
	if r.Entry != nil {
		en := r.Entry.Clone()
		out.Entry = &en
	}
	if r.Validation != nil {
		v := *r.Validation
		v.Modifications = append([]LineModification(nil), r.Validation.Modifications...)
		v.Difficulties = append([]string(nil), r.Validation.Difficulties...)
		out.Validation = &v
	}
	out.Errors = append([]StageError(nil), r.Errors...)
	out.CompletedAt = cloneTime(r.CompletedAt)
	return &out
}
