// Package taxconfig loads the tax configurations of the legal entity from YAML.
package taxconfig

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/core/tax"
)

//go:embed presets/*.yaml
var presetFS embed.FS

// Provider serves a fixed, validated set of configurations.
type Provider struct {
	country string
	configs []domain.TaxConfiguration
}

func NewProvider(country string, configs []domain.TaxConfiguration) *Provider {
	return &Provider{country: country, configs: configs}
}

func (p *Provider) Country() string {
	return p.country
}

func (p *Provider) TaxConfigurations(ctx context.Context) ([]domain.TaxConfiguration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.TaxConfiguration, len(p.configs))
	for i, cfg := range p.configs {
		cfg.Brackets = append([]domain.Bracket(nil), cfg.Brackets...)
		cfg.Journals = append([]string(nil), cfg.Journals...)
		out[i] = cfg
	}
	return out, nil
}

// Load reads path when set, otherwise the embedded preset.
func Load(filePath, preset string) (*Provider, error) {
	if filePath != "" {
		return LoadFile(filePath)
	}
	return LoadPreset(preset)
}

func LoadFile(filePath string) (*Provider, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "read tax configuration", err)
	}
	return Parse(raw)
}

func LoadPreset(name string) (*Provider, error) {
	raw, err := presetFS.ReadFile(path.Join("presets", strings.ToLower(name)+".yaml"))
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "load tax preset",
			fmt.Errorf("unknown preset %q (available: %s)", name, strings.Join(Presets(), ", ")))
	}
	return Parse(raw)
}

// Presets lists the embedded country presets.
func Presets() []string {
	entries, err := presetFS.ReadDir("presets")
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		out = append(out, strings.ToUpper(strings.TrimSuffix(e.Name(), ".yaml")))
	}
	sort.Strings(out)
	return out
}

// Parse decodes and validates a configuration file. Every entry must pass
// tax.Validate and ids must be unique.
func Parse(raw []byte) (*Provider, error) {
	var file fileDTO
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "parse tax configuration", err)
	}
	if len(file.Taxes) == 0 {
		return nil, domain.WrapError(domain.ErrConfiguration, "parse tax configuration", errors.New("no taxes defined"))
	}

	seen := make(map[string]struct{}, len(file.Taxes))
	configs := make([]domain.TaxConfiguration, 0, len(file.Taxes))
	var errs []error
	for i, dto := range file.Taxes {
		cfg, err := dto.toDomain(file.Country, i)
		if err != nil {
			errs = append(errs, domain.WrapError(domain.ErrConfiguration, fmt.Sprintf("tax %d", i+1), err))
			continue
		}
		if _, dup := seen[cfg.ID]; dup {
			errs = append(errs, domain.WrapError(domain.ErrConfiguration, fmt.Sprintf("tax %d", i+1), fmt.Errorf("duplicate id %q", cfg.ID)))
			continue
		}
		seen[cfg.ID] = struct{}{}
		if err := tax.Validate(cfg); err != nil {
			errs = append(errs, err)
			continue
		}
		configs = append(configs, cfg)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return NewProvider(strings.ToUpper(file.Country), configs), nil
}

type fileDTO struct {
	Country string   `yaml:"country"`
	Taxes   []taxDTO `yaml:"taxes"`
}

type taxDTO struct {
	ID          string       `yaml:"id"`
	Code        string       `yaml:"code"`
	Label       string       `yaml:"label"`
	Type        string       `yaml:"type"`
	Nature      string       `yaml:"nature"`
	Mode        string       `yaml:"mode"`
	Rate        yamlDecimal  `yaml:"rate"`
	FixedAmount yamlDecimal  `yaml:"fixed_amount"`
	Threshold   yamlDecimal  `yaml:"threshold"`
	Brackets    []bracketDTO `yaml:"brackets"`
	Accounts    struct {
		Collection string `yaml:"collection"`
		Deduction  string `yaml:"deduction"`
		Charge     string `yaml:"charge"`
		Liability  string `yaml:"liability"`
	} `yaml:"accounts"`
	ValidFrom string   `yaml:"valid_from"`
	ValidTo   string   `yaml:"valid_to"`
	Journals  []string `yaml:"journals"`
	Active    *bool    `yaml:"active"`
	Automatic *bool    `yaml:"automatic"`
}

type bracketDTO struct {
	From yamlDecimal `yaml:"from"`
	To   yamlDecimal `yaml:"to"`
	Rate yamlDecimal `yaml:"rate"`
}

// yamlDecimal keeps amounts exact: the scalar text goes straight to decimal.
type yamlDecimal struct {
	value decimal.Decimal
	set   bool
}

func (d *yamlDecimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number", node.Line)
	}
	if node.Tag == "!!null" || node.Value == "" {
		return nil
	}
	v, err := decimal.NewFromString(strings.ReplaceAll(node.Value, "_", ""))
	if err != nil {
		return fmt.Errorf("line %d: invalid number %q", node.Line, node.Value)
	}
	d.value, d.set = v, true
	return nil
}

func (t taxDTO) toDomain(country string, idx int) (domain.TaxConfiguration, error) {
	cfg := domain.TaxConfiguration{
		ID:          t.ID,
		Code:        t.Code,
		Label:       t.Label,
		Type:        t.Type,
		Nature:      domain.TaxNature(strings.ToLower(t.Nature)),
		Mode:        domain.TaxMode(strings.ToLower(t.Mode)),
		Rate:        t.Rate.value,
		FixedAmount: t.FixedAmount.value,
		Threshold:   t.Threshold.value,
		Accounts: domain.TaxAccounts{
			Collection: t.Accounts.Collection,
			Deduction:  t.Accounts.Deduction,
			Charge:     t.Accounts.Charge,
			Liability:  t.Accounts.Liability,
		},
		Journals:  t.Journals,
		Active:    t.Active == nil || *t.Active,
		Automatic: t.Automatic == nil || *t.Automatic,
	}
	if cfg.Code == "" {
		return domain.TaxConfiguration{}, errors.New("code is required")
	}
	if cfg.ID == "" {
		cfg.ID = strings.ToLower(fmt.Sprintf("%s-%s-%d", country, cfg.Code, idx+1))
	}
	if cfg.Mode == domain.TaxModePercentage && !t.Rate.set {
		return domain.TaxConfiguration{}, errors.New("percentage mode requires a rate")
	}
	if cfg.Mode == domain.TaxModeFixed && !t.FixedAmount.set {
		return domain.TaxConfiguration{}, errors.New("fixed mode requires a fixed_amount")
	}
	for i, b := range t.Brackets {
		br := domain.Bracket{Order: i + 1, From: b.From.value, Rate: b.Rate.value}
		if b.To.set {
			br.To = decimal.NewNullDecimal(b.To.value)
		}
		cfg.Brackets = append(cfg.Brackets, br)
	}

	var err error
	if cfg.ValidFrom, err = parseDate(t.ValidFrom); err != nil {
		return domain.TaxConfiguration{}, fmt.Errorf("valid_from: %w", err)
	}
	if cfg.ValidTo, err = parseDate(t.ValidTo); err != nil {
		return domain.TaxConfiguration{}, fmt.Errorf("valid_to: %w", err)
	}
	return cfg, nil
}

func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
