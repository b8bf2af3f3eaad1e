package extractor

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/extractor/ocr"
)

const (
	engineText        = "text"
	engineCSV         = "csv"
	engineNativePDF   = "pdf-native"
	engineSpreadsheet = "spreadsheet"
)

func (e *Engine) fromText(raw []byte, doc domain.Document) (domain.ExtractionResult, error) {
	if !utf8.Valid(raw) {
		return domain.ExtractionResult{}, fmt.Errorf("text document %s is not valid UTF-8", doc.Filename)
	}
	text := strings.TrimSpace(string(raw))
	confidence := e.confidence(doc, domain.FormatText)
	return domain.ExtractionResult{
		Text:       text,
		Fields:     ParseFields(text),
		Zones:      zonesFromLines(strings.Split(text, "\n"), confidence),
		Confidence: confidence,
		Format:     domain.FormatText,
		Engine:     engineText,
		PageCount:  1,
	}, nil
}

func (e *Engine) fromCSV(raw []byte, doc domain.Document) (domain.ExtractionResult, error) {
	if !utf8.Valid(raw) {
		return domain.ExtractionResult{}, fmt.Errorf("csv document %s is not valid UTF-8", doc.Filename)
	}
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = guessDelimiter(raw)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("parse csv: %w", err)
	}
	return e.fromRows(rows, doc, domain.FormatText, engineCSV, 1), nil
}

func (e *Engine) fromSpreadsheet(raw []byte, doc domain.Document) (domain.ExtractionResult, error) {
	book, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	var all [][]string
	for _, sheet := range sheets {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return domain.ExtractionResult{}, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		all = append(all, rows...)
	}
	return e.fromRows(all, doc, domain.FormatSpreadsheet, engineSpreadsheet, len(sheets)), nil
}

// fromRows renders tabular content as pipe-separated text and reads statement lines from it.
func (e *Engine) fromRows(rows [][]string, doc domain.Document, format domain.Format, engine string, pages int) domain.ExtractionResult {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, 0, len(row))
		for _, c := range row {
			if c = strings.TrimSpace(c); c != "" {
				cells = append(cells, c)
			}
		}
		if len(cells) > 0 {
			lines = append(lines, strings.Join(cells, " | "))
		}
	}
	text := strings.Join(lines, "\n")
	confidence := e.confidence(doc, format)

	fields := ParseFields(text)
	fields.StatementLines = statementFromRows(rows)

	zones := zonesFromLines(lines, confidence)
	if len(fields.StatementLines) > 0 {
		zones = append(zones, domain.Zone{
			ID:         "table-1",
			Kind:       domain.ZoneTable,
			Box:        domain.Box{Width: 1, Height: float64(len(lines))},
			Text:       strconv.Itoa(len(fields.StatementLines)) + " statement lines",
			Confidence: confidence,
		})
	}
	return domain.ExtractionResult{
		Text:       text,
		Fields:     fields,
		Zones:      zones,
		Confidence: confidence,
		Format:     format,
		Engine:     engine,
		PageCount:  max(pages, 1),
	}
}

func (e *Engine) fromPDF(ctx context.Context, raw []byte, doc domain.Document) (domain.ExtractionResult, error) {
	lines, boxes, pages, err := readPDFRows(raw)
	if err != nil {
		return domain.ExtractionResult{}, err
	}
	if len(lines) == 0 {
		res, err := e.fromOCR(ctx, raw, doc, "application/pdf", domain.FormatPDFScanned)
		if err != nil {
			return domain.ExtractionResult{}, fmt.Errorf("scanned pdf: %w", err)
		}
		return res, nil
	}

	text := strings.Join(lines, "\n")
	confidence := e.confidence(doc, domain.FormatPDFNative)
	zones := zonesFromLines(lines, confidence)
	for i := range zones {
		zones[i].Box = boxes[i]
	}
	return domain.ExtractionResult{
		Text:       text,
		Fields:     ParseFields(text),
		Zones:      zones,
		Confidence: confidence,
		Format:     domain.FormatPDFNative,
		Engine:     engineNativePDF,
		PageCount:  pages,
	}, nil
}

// readPDFRows returns the non-empty text rows of every page with their positions.
func readPDFRows(raw []byte) (lines []string, boxes []domain.Box, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("corrupt pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, nil, 0, fmt.Errorf("open pdf: %w", err)
	}
	pages = reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, nil, 0, fmt.Errorf("read page %d: %w", i, err)
		}
		for _, row := range rows {
			line, box := joinRow(row.Content)
			if line == "" {
				continue
			}
			box.Y = float64(row.Position)
			lines = append(lines, line)
			boxes = append(boxes, box)
		}
	}
	return lines, boxes, pages, nil
}

// joinRow glues text runs, inserting a space where the horizontal gap looks like one.
func joinRow(runs pdf.TextHorizontal) (string, domain.Box) {
	if len(runs) == 0 {
		return "", domain.Box{}
	}
	var b strings.Builder
	for i, run := range runs {
		if i > 0 {
			prev := runs[i-1]
			if run.X-(prev.X+prev.W) > prev.FontSize*0.25 && !strings.HasSuffix(prev.S, " ") {
				b.WriteByte(' ')
			}
		}
		b.WriteString(run.S)
	}
	first, last := runs[0], runs[len(runs)-1]
	return strings.TrimSpace(b.String()), domain.Box{
		X:      first.X,
		Width:  last.X + last.W - first.X,
		Height: first.FontSize,
	}
}

func (e *Engine) fromImage(ctx context.Context, raw []byte, doc domain.Document) (domain.ExtractionResult, error) {
	return e.fromOCR(ctx, raw, doc, doc.MimeType, domain.FormatImage)
}

func (e *Engine) fromOCR(ctx context.Context, raw []byte, doc domain.Document, mimeType string, format domain.Format) (domain.ExtractionResult, error) {
	out, err := e.recognize(ctx, raw, doc, mimeType)
	if err != nil {
		return domain.ExtractionResult{}, err
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return domain.ExtractionResult{}, errors.New("ocr engine returned no text")
	}

	confidence := blend(e.confidence(doc, format), out.Confidence)
	zones := zonesFromOCR(out.Lines, text, confidence)
	engine := "ocr"
	if out.Engine != "" {
		engine = "ocr:" + out.Engine
	}
	return domain.ExtractionResult{
		Text:       text,
		Fields:     ParseFields(text),
		Zones:      zones,
		Confidence: confidence,
		Format:     format,
		Engine:     engine,
		PageCount:  max(out.Pages, 1),
	}, nil
}

func zonesFromOCR(lines []ocr.Line, text string, fallback float64) []domain.Zone {
	if len(lines) == 0 {
		return zonesFromLines(strings.Split(text, "\n"), fallback)
	}
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	zones := zonesFromLines(texts, fallback)
	j := 0
	for _, l := range lines {
		if strings.TrimSpace(l.Text) == "" {
			continue
		}
		zones[j].Box = l.Box
		if l.Confidence > 0 {
			zones[j].Confidence = l.Confidence
		}
		j++
	}
	return zones
}

// zonesFromLines types each non-empty line. The first one is the title.
func zonesFromLines(lines []string, confidence float64) []domain.Zone {
	var zones []domain.Zone
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		zones = append(zones, domain.Zone{
			ID:         "z" + strconv.Itoa(len(zones)+1),
			Kind:       zoneKind(line, len(zones) == 0),
			Box:        domain.Box{Y: float64(i), Width: float64(utf8.RuneCountInString(line)), Height: 1},
			Text:       line,
			Confidence: confidence,
		})
	}
	return zones
}

func zoneKind(line string, first bool) domain.ZoneKind {
	switch {
	case first:
		return domain.ZoneTitle
	case amountLine(line):
		return domain.ZoneAmount
	case isoDatePattern.MatchString(line) || dmyPattern.MatchString(line):
		return domain.ZoneDate
	case docNumberPattern.MatchString(line):
		return domain.ZoneNumber
	case strings.Contains(line, " | "):
		return domain.ZoneTable
	default:
		return domain.ZoneText
	}
}

func guessDelimiter(raw []byte) rune {
	head := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		head = raw[:i]
	}
	if bytes.Count(head, []byte(";")) > bytes.Count(head, []byte(",")) {
		return ';'
	}
	return ','
}
