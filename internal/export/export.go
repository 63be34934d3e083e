// Package export streams filtered auction windows out as CSV files and
// delivers them to a caller-supplied webhook.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"skyvault/internal/models"
	"skyvault/internal/query"
	"skyvault/internal/tier"
)

// MaxRows caps one export. Anything larger belongs in the archive blobs.
const MaxRows = 10_000

// ErrBadRequest marks caller mistakes, as opposed to delivery failures.
var ErrBadRequest = errors.New("export: bad request")

// Request describes one export job.
type Request struct {
	Tag     string            `json:"tag"`
	Filters map[string]string `json:"filters,omitempty"`
	From    time.Time         `json:"from"`
	To      time.Time         `json:"to"`
	Webhook string            `json:"webhook"`
}

type Exporter struct {
	filtered func(ctx context.Context, tag string, filters map[string]string,
		t0, t1 time.Time, sold *bool, limit int) (tier.Stream, error)
	client *http.Client
}

func NewExporter(engine *query.Engine) *Exporter {
	return &Exporter{
		filtered: engine.Filtered,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Run collects the requested window as CSV and POSTs the file to the
// webhook. It returns the number of data rows delivered.
func (e *Exporter) Run(ctx context.Context, req Request) (int, error) {
	if req.Tag == "" {
		return 0, fmt.Errorf("%w: tag is required", ErrBadRequest)
	}
	u, err := url.Parse(req.Webhook)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return 0, fmt.Errorf("%w: webhook %q is not an http url", ErrBadRequest, req.Webhook)
	}

	stream, err := e.filtered(ctx, req.Tag, req.Filters, req.From, req.To, nil, MaxRows)
	if err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}
	defer stream.Close()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"uuid", "tag", "item_name", "price", "seller", "end"}); err != nil {
		return 0, fmt.Errorf("export: write header: %w", err)
	}
	rows := 0
	for rows < MaxRows {
		a, ok := stream.Next()
		if !ok {
			break
		}
		if err := w.Write(csvRow(a)); err != nil {
			return 0, fmt.Errorf("export: write row: %w", err)
		}
		rows++
	}
	if err := stream.Err(); err != nil {
		return 0, fmt.Errorf("export: read window: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("export: flush: %w", err)
	}

	if err := e.deliver(ctx, req.Webhook, req.Tag, buf.Bytes()); err != nil {
		return 0, err
	}
	return rows, nil
}

func csvRow(a models.Auction) []string {
	return []string{
		a.UUID,
		a.Tag,
		a.ItemName,
		strconv.FormatInt(a.SellPrice(), 10),
		a.Seller,
		a.End.UTC().Format(time.RFC3339),
	}
}

func (e *Exporter) deliver(ctx context.Context, webhook, tag string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("export: create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("X-Skyvault-Event", "auction_export")
	req.Header.Set("X-Skyvault-Tag", tag)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("export: POST %s: %w", webhook, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("export: POST %s returned %d", webhook, resp.StatusCode)
	}
	log.Printf("[export] delivered %s export to %s: %d", tag, webhook, resp.StatusCode)
	return nil
}
