package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

type runRepoFake struct {
	mu   sync.Mutex
	runs map[string]*domain.PipelineRun
}

func newRunRepoFake() *runRepoFake {
	return &runRepoFake{runs: map[string]*domain.PipelineRun{}}
}

func (f *runRepoFake) Create(_ context.Context, run *domain.PipelineRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.Version = 1
	f.runs[run.ID] = run.Clone()
	return nil
}

func (f *runRepoFake) Get(_ context.Context, id string) (*domain.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrRunNotFound, "get run", fmt.Errorf("id=%s", id))
	}
	return run.Clone(), nil
}

func (f *runRepoFake) Update(_ context.Context, run *domain.PipelineRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.runs[run.ID]
	if !ok {
		return domain.WrapError(domain.ErrRunNotFound, "update run", fmt.Errorf("id=%s", run.ID))
	}
	if stored.Version != run.Version {
		return domain.WrapError(domain.ErrConcurrentUpdate, "update run", fmt.Errorf("id=%s", run.ID))
	}
	run.Version++
	f.runs[run.ID] = run.Clone()
	return nil
}

func (f *runRepoFake) List(_ context.Context, filter domain.RunFilter) ([]domain.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PipelineRun
	for _, run := range f.runs {
		if filter.State != "" && run.State != filter.State {
			continue
		}
		out = append(out, *run.Clone())
	}
	return out, nil
}

func (f *runRepoFake) put(run *domain.PipelineRun) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run.Version == 0 {
		run.Version = 1
	}
	f.runs[run.ID] = run.Clone()
}

type storageFake struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files == nil {
		f.files = map[string][]byte{}
	}
	f.files[key] = b
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type extractorFake struct {
	mu    sync.Mutex
	calls int
	res   domain.ExtractionResult
	err   error
	hook  func()
}

func (f *extractorFake) Extract(context.Context, domain.Document) (domain.ExtractionResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.hook != nil {
		f.hook()
	}
	if f.err != nil {
		return domain.ExtractionResult{}, f.err
	}
	return f.res.Clone(), nil
}

type cacheFake struct {
	mu      sync.Mutex
	entries map[domain.Fingerprint]domain.ExtractionResult
}

func (f *cacheFake) Get(_ context.Context, fp domain.Fingerprint) (domain.ExtractionResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.entries[fp]
	if !ok {
		return domain.ExtractionResult{}, false, nil
	}
	return res.Clone(), true, nil
}

func (f *cacheFake) Put(_ context.Context, fp domain.Fingerprint, res domain.ExtractionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = map[domain.Fingerprint]domain.ExtractionResult{}
	}
	f.entries[fp] = res.Clone()
	return nil
}

type classifierFake struct {
	analysis domain.SemanticAnalysis
	err      error
}

func (f *classifierFake) Classify(_ context.Context, res domain.ExtractionResult) (domain.SemanticAnalysis, error) {
	if f.err != nil {
		return domain.SemanticAnalysis{}, f.err
	}
	out := f.analysis
	out.Confidence = res.Confidence * 0.9
	return out, nil
}

type taxProviderFake struct {
	configs []domain.TaxConfiguration
	err     error
}

func (f *taxProviderFake) TaxConfigurations(context.Context) ([]domain.TaxConfiguration, error) {
	return f.configs, f.err
}

type dispatcherFake struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *dispatcherFake) Dispatch(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, runID)
	return nil
}

type notifierFake struct {
	mu     sync.Mutex
	events []domain.RunEvent
}

func (f *notifierFake) RunStateChanged(_ context.Context, event domain.RunEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *notifierFake) states() []domain.RunState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RunState, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.To)
	}
	return out
}

type posterFake struct {
	mu      sync.Mutex
	entries []domain.GeneratedEntry
}

func (f *posterFake) PostEntry(_ context.Context, _ string, entry domain.GeneratedEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

type observerFake struct {
	mu      sync.Mutex
	samples []domain.LearningSample
}

func (f *observerFake) Observe(sample domain.LearningSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, sample)
}

type thresholdFake float64

func (t thresholdFake) Threshold() float64 { return float64(t) }

type learningStoreFake struct {
	mu       sync.Mutex
	sessions []domain.LearningSession
	snapshot *domain.CompetencySnapshot
}

func (f *learningStoreFake) SaveSession(_ context.Context, s domain.LearningSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *learningStoreFake) ListSessions(_ context.Context, limit int) ([]domain.LearningSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.sessions) {
		limit = len(f.sessions)
	}
	return append([]domain.LearningSession(nil), f.sessions[:limit]...), nil
}

func (f *learningStoreFake) SaveSnapshot(_ context.Context, s domain.CompetencySnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = &s
	return nil
}

func (f *learningStoreFake) LoadSnapshot(context.Context) (*domain.CompetencySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot, nil
}

func amount(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func purchaseExtraction() domain.ExtractionResult {
	date := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	return domain.ExtractionResult{
		Text: "FACTURE FA-2024-001 Fournisseur SOBEPAT Total HT 50 000 TVA 18% 9 000 Total TTC 59 000",
		Fields: domain.ExtractedFields{
			DocumentNumber: "FA-2024-001",
			DocumentDate:   &date,
			AmountExclTax:  amount("50000"),
			TaxAmount:      amount("9000"),
			AmountInclTax:  amount("59000"),
			TaxRate:        amount("18"),
			Currency:       "XOF",
			Counterparty:   &domain.Party{Name: "SOBEPAT"},
		},
		Confidence: 95,
		Language:   "fr",
		Format:     domain.FormatPDFNative,
		Engine:     "pdf",
	}
}

func purchaseAnalysis() domain.SemanticAnalysis {
	return domain.SemanticAnalysis{
		DocumentType: domain.DocPurchaseInvoice,
		Intent:       domain.IntentPurchase,
		CandidateAccounts: []domain.CandidateAccount{
			{Number: "601", Label: "Achats", Role: domain.SideDebit},
			{Number: "4451", Label: "TVA recuperable", Role: domain.SideDebit},
			{Number: "401", Label: "Fournisseurs", Role: domain.SideCredit},
		},
		Language:   "fr",
		Confidence: 85.5,
	}
}

func saleAnalysis() domain.SemanticAnalysis {
	return domain.SemanticAnalysis{
		DocumentType: domain.DocSalesInvoice,
		Intent:       domain.IntentSale,
		CandidateAccounts: []domain.CandidateAccount{
			{Number: "411", Label: "Clients", Role: domain.SideDebit},
			{Number: "701", Label: "Ventes", Role: domain.SideCredit},
			{Number: "4431", Label: "TVA facturee", Role: domain.SideCredit},
		},
		Confidence: 85.5,
	}
}

func vatConfigs() []domain.TaxConfiguration {
	return []domain.TaxConfiguration{
		{
			Code: "TVA_COLLECTEE", Label: "TVA collectee", Nature: domain.TaxNatureCollected,
			Mode: domain.TaxModePercentage, Rate: decimal.NewFromInt(18),
			Accounts: domain.TaxAccounts{Collection: "4432"}, Journals: []string{"VTE"},
			Active: true, Automatic: true,
		},
		{
			Code: "TVA_DEDUCTIBLE", Label: "TVA deductible", Nature: domain.TaxNatureDeductible,
			Mode: domain.TaxModePercentage, Rate: decimal.NewFromInt(18),
			Accounts: domain.TaxAccounts{Deduction: "4451"}, Journals: []string{"ACH"},
			Active: true, Automatic: true,
		},
		{
			Code: "TAP", Label: "Taxe patronale", Nature: domain.TaxNaturePayable,
			Mode: domain.TaxModePercentage, Rate: decimal.NewFromInt(2),
			Accounts: domain.TaxAccounts{Charge: "6311", Liability: "4421"}, Journals: []string{"PAIE"},
			Active: true, Automatic: true,
		},
	}
}
