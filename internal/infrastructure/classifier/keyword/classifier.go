// Package keyword classifies extracted documents with ordered keyword rules.
package keyword

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/textnorm"
)

// confidenceDiscount is applied to the extraction confidence to score the analysis.
const confidenceDiscount = 0.9

const selfEntity = "entity"

type Classifier struct {
	vocab     Vocabulary
	precision int32
	now       func() time.Time
}

func New(vocab Vocabulary, precision int32) *Classifier {
	return &Classifier{vocab: vocab, precision: precision, now: time.Now}
}

func (c *Classifier) Classify(ctx context.Context, res domain.ExtractionResult) (domain.SemanticAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return domain.SemanticAnalysis{}, err
	}

	words := " " + strings.Join(strings.FieldsFunc(textnorm.Fold(res.Text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ") + " "

	docType, matched := c.match(res.Language, words)
	intent := domain.IntentFor(docType)
	confidence := math.Round(res.Confidence*confidenceDiscount*100) / 100

	analysis := domain.SemanticAnalysis{
		DocumentType:    docType,
		Intent:          intent,
		MatchedKeywords: matched,
		Language:        res.Language,
		Confidence:      confidence,
	}
	for _, tpl := range c.vocab.Accounts[intent] {
		analysis.CandidateAccounts = append(analysis.CandidateAccounts, domain.CandidateAccount{
			Number:     tpl.Number,
			Label:      tpl.Label,
			Role:       tpl.Role,
			Confidence: confidence,
		})
	}
	analysis.Entities, analysis.Relations = entities(res.Fields, intent, confidence)
	analysis.Anomalies = c.anomalies(res.Fields, docType)
	return analysis, nil
}

// match returns the type of the first rule whose keywords all start a word.
// Unknown languages are tried against every language in name order.
func (c *Classifier) match(lang string, words string) (domain.DocumentType, []string) {
	langs := []string{lang}
	if _, ok := c.vocab.Languages[lang]; !ok {
		langs = langs[:0]
		for l := range c.vocab.Languages {
			langs = append(langs, l)
		}
		sort.Strings(langs)
	}
	for _, l := range langs {
		for _, rule := range c.vocab.Languages[l] {
			if matchesAll(words, rule.All) {
				return rule.Type, append([]string(nil), rule.All...)
			}
		}
	}
	return domain.DocOther, nil
}

func matchesAll(words string, keywords []string) bool {
	for _, kw := range keywords {
		if !strings.Contains(words, " "+kw) {
			return false
		}
	}
	return true
}

func entities(f domain.ExtractedFields, intent domain.Intent, confidence float64) ([]domain.Entity, []domain.Relation) {
	var ents []domain.Entity
	var rels []domain.Relation
	if f.Counterparty != nil && f.Counterparty.Name != "" {
		ents = append(ents, domain.Entity{Text: f.Counterparty.Name, Kind: "organization", Confidence: confidence})
		switch intent {
		case domain.IntentPurchase:
			rels = append(rels, domain.Relation{From: f.Counterparty.Name, Kind: "supplier_of", To: selfEntity, Confidence: confidence})
		case domain.IntentSale:
			rels = append(rels, domain.Relation{From: f.Counterparty.Name, Kind: "client_of", To: selfEntity, Confidence: confidence})
		}
	}
	if f.DocumentNumber != "" {
		ents = append(ents, domain.Entity{Text: f.DocumentNumber, Kind: "document_number", Confidence: confidence})
	}
	if f.DocumentDate != nil {
		ents = append(ents, domain.Entity{Text: f.DocumentDate.Format("2006-01-02"), Kind: "date", Confidence: confidence})
	}
	for _, a := range []struct {
		kind  string
		value bool
		text  string
	}{
		{"amount_excl_tax", f.AmountExclTax.Valid, f.AmountExclTax.Decimal.String()},
		{"tax_amount", f.TaxAmount.Valid, f.TaxAmount.Decimal.String()},
		{"amount_incl_tax", f.AmountInclTax.Valid, f.AmountInclTax.Decimal.String()},
	} {
		if a.value {
			ents = append(ents, domain.Entity{Text: a.text, Kind: a.kind, Confidence: confidence})
		}
	}
	return ents, rels
}

func (c *Classifier) anomalies(f domain.ExtractedFields, docType domain.DocumentType) []domain.Anomaly {
	var out []domain.Anomaly
	if docType == domain.DocOther {
		out = append(out, domain.Anomaly{Code: "unknown_document_type", Message: "no rule recognised the document type"})
	}
	if !f.AmountExclTax.Valid && !f.AmountInclTax.Valid && len(f.StatementLines) == 0 {
		out = append(out, domain.Anomaly{Code: "missing_amount", Message: "no amount could be read from the document"})
	}
	if f.AmountExclTax.Valid && f.TaxAmount.Valid && f.AmountInclTax.Valid {
		sum := f.AmountExclTax.Decimal.Add(f.TaxAmount.Decimal).Round(c.precision)
		if !sum.Equal(f.AmountInclTax.Decimal.Round(c.precision)) {
			out = append(out, domain.Anomaly{
				Code:    "amount_mismatch",
				Message: "excl. tax " + f.AmountExclTax.Decimal.String() + " + tax " + f.TaxAmount.Decimal.String() + " != incl. tax " + f.AmountInclTax.Decimal.String(),
			})
		}
	}
	if f.DocumentDate == nil {
		out = append(out, domain.Anomaly{Code: "missing_date", Message: "no document date found"})
	} else if f.DocumentDate.After(c.now().Add(24 * time.Hour)) {
		out = append(out, domain.Anomaly{Code: "future_date", Message: "document is dated " + f.DocumentDate.Format("2006-01-02")})
	}
	return out
}
