package lru

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

func sample() domain.ExtractionResult {
	return domain.ExtractionResult{
		Text:       "Facture\nTotal TTC 59 000",
		Confidence: 95,
		Format:     domain.FormatText,
		Zones:      []domain.Zone{{ID: "z1", Kind: domain.ZoneTitle, Text: "Facture"}},
		Fields: domain.ExtractedFields{
			AmountInclTax: decimal.NewNullDecimal(decimal.NewFromInt(59000)),
			Counterparty:  &domain.Party{Name: "SARL Sahel"},
		},
	}
}

func TestHitReturnsIdenticalCopy(t *testing.T) {
	ctx := context.Background()
	c := New(4, time.Hour)
	want := sample()
	if err := c.Put(ctx, "fp1", want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "fp1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("hit differs from stored result:\n%+v\n%+v", got, want)
	}

	got.Zones[0].Text = "mutated"
	got.Fields.Counterparty.Name = "mutated"
	again, _, _ := c.Get(ctx, "fp1")
	if again.Zones[0].Text != "Facture" || again.Fields.Counterparty.Name != "SARL Sahel" {
		t.Fatalf("cached value was aliased by caller: %+v", again)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := New(2, time.Hour)
	_ = c.Put(ctx, "a", sample())
	_ = c.Put(ctx, "b", sample())
	_, _, _ = c.Get(ctx, "a")
	_ = c.Put(ctx, "c", sample())

	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Fatalf("expected a to survive")
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
}

func TestExpires(t *testing.T) {
	ctx := context.Background()
	c := New(2, 20*time.Millisecond)
	_ = c.Put(ctx, "a", sample())
	time.Sleep(60 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Fatalf("expected entry to expire")
	}
}
