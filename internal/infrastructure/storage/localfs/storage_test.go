package localfs

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

func TestSaveAndOpen(t *testing.T) {
	dir := t.TempDir()
	st, err := New(dir)
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}

	ctx := context.Background()
	if err := st.Save(ctx, "doc-1_ab12cd34_invoice.txt", strings.NewReader("FACTURE 12")); err != nil {
		t.Fatalf("save: %v", err)
	}

	rc, err := st.Open(ctx, "doc-1_ab12cd34_invoice.txt")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	raw, _ := io.ReadAll(rc)
	if string(raw) != "FACTURE 12" {
		t.Fatalf("unexpected content %q", raw)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the committed file, got %d entries", len(entries))
	}
}

func TestOpenMissing(t *testing.T) {
	st, _ := New(t.TempDir())
	_, err := st.Open(context.Background(), "missing.pdf")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestRejectsPathKeys(t *testing.T) {
	st, _ := New(t.TempDir())
	for _, key := range []string{"", "..", "../etc/passwd", `a\b`} {
		if err := st.Save(context.Background(), key, strings.NewReader("x")); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}
