package usecase

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/core/tax"
)

const (
	weightExtraction = 0.3
	weightSemantic   = 0.4
	weightTax        = 0.3

	taxCertainty   = 100.0
	taxEdgePenalty = 15.0

	suspenseAccount    = "471"
	receivablesAccount = "411"
)

type baseSource int

const (
	baseStated baseSource = iota
	// baseFromTotal: no tax applies and the total stands in for the base.
	baseFromTotal
	// baseDerived: the base was derived from the total at the applicable rates.
	baseDerived
)

var journalsByIntent = map[domain.Intent]string{
	domain.IntentPurchase: "ACH",
	domain.IntentSale:     "VTE",
	domain.IntentPayment:  "BQ",
	domain.IntentOther:    "OD",
}

// JournalFor returns the journal code an intent is posted to.
func JournalFor(intent domain.Intent) string {
	if j, ok := journalsByIntent[intent]; ok {
		return j
	}
	return journalsByIntent[domain.IntentOther]
}

type GenerationRequest struct {
	DocumentID string
	Analysis   domain.SemanticAnalysis
	Extraction domain.ExtractionResult
	Configs    []domain.TaxConfiguration
	Threshold  float64
	// Journal overrides the intent's journal when set.
	Journal string
}

type EntryGenerator struct {
	precision int32
	now       func() time.Time
}

func NewEntryGenerator(precision int32) *EntryGenerator {
	return &EntryGenerator{
		precision: precision,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// FuseConfidence combines stage confidences with fixed weights.
func FuseConfidence(extraction, semantic float64, edgeCase bool) float64 {
	certainty := taxCertainty
	if edgeCase {
		certainty -= taxEdgePenalty
	}
	fused := weightExtraction*extraction + weightSemantic*semantic + weightTax*certainty
	return math.Round(fused*100) / 100
}

func (g *EntryGenerator) Generate(req GenerationRequest) (domain.GeneratedEntry, error) {
	intent := req.Analysis.Intent
	journal := req.Journal
	if journal == "" {
		journal = JournalFor(intent)
	}

	var date time.Time
	if req.Extraction.Fields.DocumentDate != nil {
		date = *req.Extraction.Fields.DocumentDate
	}

	fields := req.Extraction.Fields
	var (
		adjustments []domain.Adjustment
		base        decimal.Decimal
		inflow      bool
		baseWhy     = "amount excluding tax read from the document"
	)
	if intent == domain.IntentPayment && !fields.AmountInclTax.Valid && len(fields.StatementLines) > 0 {
		movement, err := netMovement(fields.StatementLines)
		if err != nil {
			return domain.GeneratedEntry{}, err
		}
		base, inflow = movement.amount, movement.inflow
		baseWhy = "net movement of the statement lines"
		if movement.mixed {
			adjustments = append(adjustments, domain.Adjustment{
				Code:    "mixed_statement",
				Message: "statement mixes withdrawals and deposits; only the net movement was posted",
			})
		}
	} else {
		var (
			source baseSource
			err    error
		)
		base, source, err = baseAmount(intent, fields, req.Configs, journal, date)
		if err != nil {
			return domain.GeneratedEntry{}, err
		}
		switch source {
		case baseFromTotal:
			adjustments = append(adjustments, domain.Adjustment{
				Code:    "base_from_total",
				Message: "no amount excluding tax was found; the total was used as base",
			})
		case baseDerived:
			baseWhy = "amount excluding tax derived from the total"
			adjustments = append(adjustments, domain.Adjustment{
				Code:    "base_derived_from_total",
				Message: "only the total was found; the amount excluding tax was derived from the applicable tax rates",
			})
		}
	}
	base = base.Round(g.precision)

	ops, err := tax.CalculateOperation(base, req.Configs, journal, date, g.precision)
	if err != nil {
		return domain.GeneratedEntry{}, fmt.Errorf("calculate taxes: %w", err)
	}

	primarySide := domain.SideDebit
	if intent == domain.IntentSale {
		primarySide = domain.SideCredit
	}
	primary, ok := req.Analysis.Account(primarySide)
	if !ok {
		primary = domain.CandidateAccount{Number: suspenseAccount, Label: "Compte d'attente", Role: primarySide}
		adjustments = append(adjustments, domain.Adjustment{Code: "missing_primary_account", Message: "no candidate account for the operation; posted to suspense"})
	}
	counter, ok := req.Analysis.Account(opposite(primarySide))
	if !ok {
		counter = domain.CandidateAccount{Number: suspenseAccount, Label: "Compte d'attente", Role: opposite(primarySide)}
		adjustments = append(adjustments, domain.Adjustment{Code: "missing_counter_account", Message: "no counterpart account for the operation; posted to suspense"})
	}
	if inflow {
		// A net deposit debits the bank and settles customers.
		primary = counter
		counter = domain.CandidateAccount{Number: receivablesAccount, Label: "Clients", Role: domain.SideCredit}
		adjustments = append(adjustments, domain.Adjustment{
			Code:    "statement_inflow",
			Message: "net deposit posted against customers; confirm the payer",
		})
	}

	lines := []domain.EntryLine{
		newLine(primary.Number, primary.Label, primarySide, base,
			req.Extraction.Confidence, baseWhy, domain.OriginExtraction),
	}

	taxConfidence := taxCertainty
	if ops.HasEdgeCase() {
		taxConfidence -= taxEdgePenalty
	}
	for _, res := range ops.Results {
		for _, p := range res.Postings {
			lines = append(lines, newLine(p.Account, p.Label, p.Side, p.Amount, taxConfidence,
				fmt.Sprintf("%s at %s%% on %s", res.Code, res.RateApplied, res.Base), domain.OriginTaxEngine))
		}
	}

	debit, credit := totals(lines)
	net := debit.Sub(credit)
	switch {
	case net.IsPositive():
		lines = append(lines, newLine(counter.Number, counter.Label, domain.SideCredit, net,
			req.Analysis.Confidence, "balancing counterpart for the total amount", domain.OriginSemanticAnalysis))
	case net.IsNegative():
		lines = append(lines, newLine(counter.Number, counter.Label, domain.SideDebit, net.Neg(),
			req.Analysis.Confidence, "balancing counterpart for the total amount", domain.OriginSemanticAnalysis))
	}
	for i := range lines {
		lines[i].Order = i + 1
	}

	adjustments = append(adjustments, g.reviewAdjustments(req, ops)...)

	fused := FuseConfidence(req.Extraction.Confidence, req.Analysis.Confidence, ops.HasEdgeCase())
	entry := domain.GeneratedEntry{
		ID:                  uuid.NewString(),
		Label:               entryLabel(req.Analysis, req.Extraction.Fields),
		Journal:             journal,
		Lines:               lines,
		SourceDocumentID:    req.DocumentID,
		Currency:            req.Extraction.Fields.Currency,
		Confidence:          fused,
		AppliedRules:        appliedRules(req.Analysis, ops),
		AutoValidatable:     fused >= req.Threshold,
		RequiredAdjustments: adjustments,
		Taxes:               &ops,
		CreatedAt:           g.now(),
	}
	if err := entry.CheckBalance(g.precision); err != nil {
		return domain.GeneratedEntry{}, err
	}
	return entry, nil
}

// baseAmount picks the taxable base from the amounts the document states.
func baseAmount(
	intent domain.Intent,
	fields domain.ExtractedFields,
	configs []domain.TaxConfiguration,
	journal string,
	date time.Time,
) (decimal.Decimal, baseSource, error) {
	if intent == domain.IntentPayment && fields.AmountInclTax.Valid {
		return fields.AmountInclTax.Decimal, baseStated, nil
	}
	if fields.AmountExclTax.Valid {
		return fields.AmountExclTax.Decimal, baseStated, nil
	}
	if fields.AmountInclTax.Valid {
		total := fields.AmountInclTax.Decimal
		if fields.TaxAmount.Valid {
			return total.Sub(fields.TaxAmount.Decimal), baseStated, nil
		}
		if !anyApplicable(configs, journal, date) {
			return total, baseFromTotal, nil
		}
		if rate, ok := inclusiveRate(configs, journal, date); ok {
			divisor := decimal.NewFromInt(1).Add(rate.Div(decimal.NewFromInt(100)))
			return total.Div(divisor), baseDerived, nil
		}
	}
	return decimal.Decimal{}, baseStated, domain.WrapError(domain.ErrExtraction, "base amount", errors.New("no base amount in extracted fields"))
}

// inclusiveRate sums the rates of the applicable taxes when every one of them
// is a percentage VAT-like tax, the only case a total can be split back.
func inclusiveRate(configs []domain.TaxConfiguration, journal string, date time.Time) (decimal.Decimal, bool) {
	sum := decimal.Zero
	for _, cfg := range configs {
		if !tax.Applicable(cfg, journal, date) {
			continue
		}
		if cfg.Mode != domain.TaxModePercentage {
			return decimal.Decimal{}, false
		}
		if cfg.Nature != domain.TaxNatureCollected && cfg.Nature != domain.TaxNatureDeductible {
			return decimal.Decimal{}, false
		}
		sum = sum.Add(cfg.Rate)
	}
	return sum, sum.IsPositive()
}

type statementMovement struct {
	amount decimal.Decimal
	inflow bool
	mixed  bool
}

// netMovement nets statement deposits against withdrawals.
func netMovement(lines []domain.StatementLine) (statementMovement, error) {
	in, out := decimal.Zero, decimal.Zero
	for _, l := range lines {
		in = in.Add(l.Credit)
		out = out.Add(l.Debit)
	}
	net := in.Sub(out)
	if net.IsZero() {
		return statementMovement{}, domain.WrapError(domain.ErrExtraction, "statement movement", errors.New("statement lines net to zero"))
	}
	return statementMovement{
		amount: net.Abs(),
		inflow: net.IsPositive(),
		mixed:  in.IsPositive() && out.IsPositive(),
	}, nil
}

func anyApplicable(configs []domain.TaxConfiguration, journal string, date time.Time) bool {
	for _, cfg := range configs {
		if tax.Applicable(cfg, journal, date) {
			return true
		}
	}
	return false
}

func (g *EntryGenerator) reviewAdjustments(req GenerationRequest, ops domain.OperationTaxes) []domain.Adjustment {
	var out []domain.Adjustment
	for _, a := range req.Analysis.Anomalies {
		out = append(out, domain.Adjustment{Code: a.Code, Message: a.Message})
	}

	if declared := req.Extraction.Fields.TaxAmount; declared.Valid && len(ops.Results) > 0 {
		computed := ops.AmountInclTax.Sub(ops.AmountExclTax)
		if !declared.Decimal.Round(g.precision).Equal(computed.Round(g.precision)) {
			out = append(out, domain.Adjustment{
				Code:    "tax_amount_mismatch",
				Message: fmt.Sprintf("document states tax %s, computed %s", declared.Decimal.StringFixed(g.precision), computed.StringFixed(g.precision)),
			})
		}
	}
	if req.Analysis.Intent == domain.IntentOther {
		out = append(out, domain.Adjustment{Code: "suspense_account", Message: "unclassified operation posted to the suspense account"})
	}
	return out
}

func newLine(account, label string, side domain.Side, amount decimal.Decimal, confidence float64, why string, origin domain.DetectionOrigin) domain.EntryLine {
	line := domain.EntryLine{
		Account:       account,
		Label:         label,
		Debit:         decimal.Zero,
		Credit:        decimal.Zero,
		Confidence:    confidence,
		Justification: why,
		Origin:        origin,
	}
	if side == domain.SideDebit {
		line.Debit = amount
	} else {
		line.Credit = amount
	}
	return line
}

func totals(lines []domain.EntryLine) (decimal.Decimal, decimal.Decimal) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

func opposite(side domain.Side) domain.Side {
	if side == domain.SideDebit {
		return domain.SideCredit
	}
	return domain.SideDebit
}

func appliedRules(analysis domain.SemanticAnalysis, ops domain.OperationTaxes) []domain.AppliedRule {
	rules := []domain.AppliedRule{{
		Name:       "intent_" + string(analysis.Intent),
		Kind:       string(domain.OriginPredefinedRule),
		Confidence: analysis.Confidence,
	}}
	for _, res := range ops.Results {
		confidence := taxCertainty
		if res.EdgeCase {
			confidence -= taxEdgePenalty
		}
		rules = append(rules, domain.AppliedRule{Name: res.Code, Kind: "tax", Confidence: confidence})
	}
	return rules
}

func entryLabel(analysis domain.SemanticAnalysis, fields domain.ExtractedFields) string {
	parts := []string{strings.ReplaceAll(string(analysis.DocumentType), "_", " ")}
	if fields.DocumentNumber != "" {
		parts = append(parts, fields.DocumentNumber)
	}
	if fields.Counterparty != nil && fields.Counterparty.Name != "" {
		parts = append(parts, fields.Counterparty.Name)
	}
	return strings.Join(parts, " - ")
}
