package redis

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/extractor"
)

type memStorage map[string][]byte

func (m memStorage) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	m[key] = raw
	return err
}

func (m memStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := m[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return New(client, time.Hour), mr
}

func TestPutThenGet(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	res := domain.ExtractionResult{
		Text:       "Facture",
		Confidence: 92.5,
		Format:     domain.FormatPDFNative,
		Fields: domain.ExtractedFields{
			AmountExclTax: decimal.NewNullDecimal(decimal.RequireFromString("50000.25")),
		},
	}
	if err := c.Put(ctx, "abc", res); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !mr.Exists("ledger:extraction:abc") {
		t.Fatalf("expected namespaced key")
	}
	if ttl := mr.TTL("ledger:extraction:abc"); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	got, ok, err := c.Get(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Text != res.Text || got.Format != res.Format || got.Confidence != 92.5 {
		t.Fatalf("unexpected result %+v", got)
	}
	if !got.Fields.AmountExclTax.Decimal.Equal(res.Fields.AmountExclTax.Decimal) {
		t.Fatalf("amount = %s", got.Fields.AmountExclTax.Decimal)
	}
}

func TestMissAndExpiry(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	_ = c.Put(ctx, "abc", domain.ExtractionResult{Text: "x"})
	mr.FastForward(2 * time.Hour)
	if _, ok, _ := c.Get(ctx, "abc"); ok {
		t.Fatalf("expected expired entry to miss")
	}
}

func TestCorruptValueIsError(t *testing.T) {
	c, mr := setupCache(t)
	_ = mr.Set("ledger:extraction:bad", "{not json")
	if _, ok, err := c.Get(context.Background(), "bad"); ok || err == nil {
		t.Fatalf("expected decode error, got ok=%v err=%v", ok, err)
	}
}

func TestCachedStatementEqualsOriginal(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	statement := "Relevé de compte\nDate;Libellé;Débit;Crédit\n02/01/2025;Virement fournisseur;150 000;\n05/01/2025;Remise chèque;;80 000,50\n"
	engine := extractor.NewEngine(memStorage{"k": []byte(statement)})
	res, err := engine.Extract(ctx, domain.Document{ID: "d1", StorageKey: "k", Filename: "releve.csv", MimeType: "text/csv"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Fields.StatementLines) != 2 {
		t.Fatalf("expected 2 statement lines, got %+v", res.Fields.StatementLines)
	}

	if err := c.Put(ctx, "stmt", res); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, ok, err := c.Get(ctx, "stmt")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(res, got) {
		t.Fatalf("cached result differs:\n got %+v\nwant %+v", got, res)
	}
}
