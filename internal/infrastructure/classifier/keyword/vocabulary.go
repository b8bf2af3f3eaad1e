package keyword

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/textnorm"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

type Rule struct {
	Type domain.DocumentType `yaml:"type"`
	All  []string            `yaml:"all"`
}

type AccountTemplate struct {
	Number string      `yaml:"number"`
	Label  string      `yaml:"label"`
	Role   domain.Side `yaml:"role"`
}

type Vocabulary struct {
	Languages map[string][]Rule                   `yaml:"languages"`
	Accounts  map[domain.Intent][]AccountTemplate `yaml:"accounts"`
}

var knownTypes = []domain.DocumentType{
	domain.DocPurchaseInvoice,
	domain.DocSalesInvoice,
	domain.DocReceipt,
	domain.DocBankStatement,
	domain.DocOther,
}

var knownIntents = []domain.Intent{
	domain.IntentPurchase,
	domain.IntentSale,
	domain.IntentPayment,
	domain.IntentOther,
}

func DefaultVocabulary() (Vocabulary, error) {
	return ParseVocabulary(defaultVocabulary)
}

// LoadVocabulary reads a vocabulary file; an empty path selects the built-in one.
func LoadVocabulary(path string) (Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, domain.WrapError(domain.ErrConfiguration, "load vocabulary", err)
	}
	return ParseVocabulary(raw)
}

func ParseVocabulary(raw []byte) (Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return Vocabulary{}, domain.WrapError(domain.ErrConfiguration, "parse vocabulary", err)
	}
	if err := v.normalize(); err != nil {
		return Vocabulary{}, domain.WrapError(domain.ErrConfiguration, "check vocabulary", err)
	}
	return v, nil
}

// normalize folds every keyword and checks that each intent can be balanced.
func (v *Vocabulary) normalize() error {
	if len(v.Languages) == 0 {
		return errors.New("no language rules")
	}
	for lang, rules := range v.Languages {
		for i := range rules {
			if !slices.Contains(knownTypes, rules[i].Type) {
				return fmt.Errorf("%s rule %d: unknown document type %q", lang, i+1, rules[i].Type)
			}
			if len(rules[i].All) == 0 {
				return fmt.Errorf("%s rule %d: no keywords", lang, i+1)
			}
			for j, kw := range rules[i].All {
				rules[i].All[j] = textnorm.Fold(kw)
			}
		}
	}
	for _, intent := range knownIntents {
		accounts := v.Accounts[intent]
		hasDebit := slices.ContainsFunc(accounts, func(a AccountTemplate) bool { return a.Role == domain.SideDebit && a.Number != "" })
		hasCredit := slices.ContainsFunc(accounts, func(a AccountTemplate) bool { return a.Role == domain.SideCredit && a.Number != "" })
		if !hasDebit || !hasCredit {
			return fmt.Errorf("intent %s needs a debit and a credit account", intent)
		}
	}
	return nil
}
