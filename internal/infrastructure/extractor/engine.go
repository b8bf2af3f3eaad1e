// Package extractor turns stored documents into text, layout zones and typed fields.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/core/ports"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/extractor/ocr"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/textnorm"
)

const defaultMaxBytes = 32 << 20

var errNoOCR = errors.New("no OCR engine configured")

// Recognizer is the remote OCR engine used for images and scanned PDFs.
type Recognizer interface {
	Recognize(ctx context.Context, req ocr.Request) (ocr.Result, error)
}

type Option func(*Engine)

func WithRecognizer(r Recognizer) Option {
	return func(e *Engine) { e.ocr = r }
}

func WithConfidence(fn ConfidenceFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.confidence = fn
		}
	}
}

func WithMaxBytes(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

type Engine struct {
	storage    ports.ObjectStorage
	ocr        Recognizer
	confidence ConfidenceFunc
	maxBytes   int64
}

func NewEngine(storage ports.ObjectStorage, opts ...Option) *Engine {
	e := &Engine{
		storage:    storage,
		confidence: QualityConfidence,
		maxBytes:   defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type sourceKind int

const (
	kindUnsupported sourceKind = iota
	kindText
	kindCSV
	kindPDF
	kindSpreadsheet
	kindImage
)

func kindOf(doc domain.Document) sourceKind {
	switch strings.ToLower(doc.MimeType) {
	case "text/plain", "text/markdown":
		return kindText
	case "text/csv", "application/csv":
		return kindCSV
	case "application/pdf":
		return kindPDF
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return kindSpreadsheet
	case "image/jpeg", "image/png", "image/tiff", "image/bmp":
		return kindImage
	}
	switch strings.ToLower(filepath.Ext(doc.Filename)) {
	case ".txt":
		return kindText
	case ".csv":
		return kindCSV
	case ".pdf":
		return kindPDF
	case ".xlsx":
		return kindSpreadsheet
	case ".jpg", ".jpeg", ".png", ".tif", ".tiff", ".bmp":
		return kindImage
	}
	return kindUnsupported
}

func (e *Engine) Extract(ctx context.Context, doc domain.Document) (domain.ExtractionResult, error) {
	op := "extract " + doc.ID
	raw, err := e.read(ctx, doc)
	if err != nil {
		return domain.ExtractionResult{}, domain.WrapError(domain.ErrExtraction, op, err)
	}

	var res domain.ExtractionResult
	switch kindOf(doc) {
	case kindText:
		res, err = e.fromText(raw, doc)
	case kindCSV:
		res, err = e.fromCSV(raw, doc)
	case kindPDF:
		res, err = e.fromPDF(ctx, raw, doc)
	case kindSpreadsheet:
		res, err = e.fromSpreadsheet(raw, doc)
	case kindImage:
		res, err = e.fromImage(ctx, raw, doc)
	default:
		err = fmt.Errorf("unsupported mime type %q", doc.MimeType)
	}
	if err != nil {
		return domain.ExtractionResult{}, domain.WrapError(domain.ErrExtraction, op, err)
	}
	if strings.TrimSpace(res.Text) == "" {
		return domain.ExtractionResult{}, domain.WrapError(domain.ErrExtraction, op, errors.New("document has no readable text"))
	}

	canonicalAmounts(&res.Fields)
	res.Language = textnorm.DetectLanguage(res.Text)
	return res, nil
}

func (e *Engine) read(ctx context.Context, doc domain.Document) ([]byte, error) {
	reader, err := e.storage.Open(ctx, doc.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, e.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	if int64(len(raw)) > e.maxBytes {
		return nil, fmt.Errorf("document exceeds %d bytes", e.maxBytes)
	}
	return raw, nil
}

func (e *Engine) recognize(ctx context.Context, raw []byte, doc domain.Document, mimeType string) (ocr.Result, error) {
	if e.ocr == nil {
		return ocr.Result{}, errNoOCR
	}
	return e.ocr.Recognize(ctx, ocr.Request{
		Filename: doc.Filename,
		MimeType: mimeType,
		Content:  raw,
	})
}
