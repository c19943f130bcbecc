// Package export renders detected conflicts and the production plan as CSV,
// JSON or Excel files.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hurttlocker/linewatch/internal/logging"
	"github.com/hurttlocker/linewatch/internal/store"
)

var (
	// ErrEmpty reports an export with no rows. The output is still written
	// (header only, or an empty JSON array).
	ErrEmpty = errors.New("nothing to export")
	// ErrUnsupportedFormat rejects a format the export does not offer.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// Format is an output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/octet-stream"
}

// FileName builds a download name like conflicts_20260512_101500.csv.
func (f Format) FileName(prefix string, at time.Time) string {
	return fmt.Sprintf("%s_%s.%s", prefix, at.Format("20060102_150405"), f)
}

// ParseFormat accepts one of allowed, case-insensitively. Empty selects the
// first allowed format.
func ParseFormat(raw string, allowed ...Format) (Format, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" && len(allowed) > 0 {
		return allowed[0], nil
	}
	for _, f := range allowed {
		if string(f) == raw {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
}

// Notifier persists notifications.
type Notifier interface {
	Notify(ctx context.Context, code store.NotificationCode, text string, payload map[string]any) (bool, error)
}

// Exporter writes exports and reports empty ones.
type Exporter struct {
	notifier Notifier
	log      *logging.Logger
	now      func() time.Time
}

// NewExporter creates an Exporter. notifier may be nil.
func NewExporter(n Notifier, log *logging.Logger) *Exporter {
	return &Exporter{notifier: n, log: logging.OrNop(log), now: time.Now}
}

// empty records an EXPORT_EMPTY notification and returns ErrEmpty.
func (e *Exporter) empty(ctx context.Context, what string, f Format) error {
	if e.notifier != nil {
		// the timestamp keeps each empty export a separate notification
		_, err := e.notifier.Notify(ctx, store.CodeExportEmpty,
			fmt.Sprintf("%s export is empty", what),
			map[string]any{"export": what, "format": string(f), "at": e.now().UTC().Format(time.RFC3339Nano)})
		if err != nil {
			e.log.Warn("notification failed", "code", string(store.CodeExportEmpty), "error", err)
		}
	}
	return fmt.Errorf("%s: %w", what, ErrEmpty)
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("writing json: %w", err)
	}
	return nil
}
