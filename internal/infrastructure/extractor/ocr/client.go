// Package ocr is the HTTP client of the remote character-recognition engine.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/resilience"
)

type Request struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	Content      []byte `json:"content"`
	LanguageHint string `json:"language,omitempty"`
}

type Line struct {
	Text       string     `json:"text"`
	Box        domain.Box `json:"box"`
	Confidence float64    `json:"confidence"`
}

type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Pages      int     `json:"pages"`
	Engine     string  `json:"engine"`
	Lines      []Line  `json:"lines"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL string, timeout time.Duration, executor *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

// Recognize sends the document bytes to the engine. Retryable failures are
// returned as domain.ErrTemporary.
func (c *Client) Recognize(ctx context.Context, req Request) (Result, error) {
	res, err := resilience.Call(ctx, c.executor, "ocr.recognize", func(ctx context.Context) (Result, error) {
		var out Result
		if err := c.postJSON(ctx, "/v1/ocr", req, &out, "recognize"); err != nil {
			return Result{}, err
		}
		return out, nil
	}, resilience.ClassifyHTTP)
	if err != nil {
		return Result{}, wrapTemporaryIfNeeded("ocr recognize", err)
	}
	if res.Pages <= 0 {
		res.Pages = 1
	}
	return res, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ocr %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &resilience.HTTPStatusError{
			Service:    "ocr",
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if resilience.ClassifyHTTP(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
