// Package report builds the end-of-day sales summary from closed ledger rows
// and renders it as fixed-column text or CSV.
package report

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"bancart/internal/domain"
	"bancart/internal/money"
	"bancart/internal/store"
)

const dateLayout = "2006-01-02"

var ErrEmptyReport = errors.New("no closed sales on this date")

// SalesReader is the read-only slice of the ledger the report needs.
type SalesReader interface {
	ListClosedSales(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleLine, error)
}

type Engine struct {
	sales    SalesReader
	location *time.Location
	clock    func() time.Time
}

func New(sales SalesReader, location *time.Location) *Engine {
	if location == nil {
		location = time.Local
	}
	return &Engine{sales: sales, location: location, clock: time.Now}
}

// WithClock replaces the clock used to resolve "today".
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// ParseDate resolves a user-supplied date to local midnight. Empty means
// today; anything dateparse understands is accepted ("2024-05-10",
// "05/10/2024", "May 10, 2024").
func (e *Engine) ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return startOfDay(e.clock().In(e.location)), nil
	}
	parsed, err := dateparse.ParseIn(raw, e.location)
	if err != nil {
		return time.Time{}, errors.Wrapf(store.ErrValidation, "unrecognised date %q", raw)
	}
	return startOfDay(parsed.In(e.location)), nil
}

// DailySummary returns the CLOSED rows of one local calendar day, most recent
// first, with the day total and a per-payment breakdown.
func (e *Engine) DailySummary(ctx context.Context, day time.Time) (domain.DailySummary, error) {
	from := startOfDay(day.In(e.location))
	to := from.AddDate(0, 0, 1)

	rows, err := e.sales.ListClosedSales(ctx, from, to)
	if err != nil {
		return domain.DailySummary{}, err
	}

	summary := domain.DailySummary{
		Date:      from.Format(dateLayout),
		Lines:     make([]domain.DailySummaryLine, 0, len(rows)),
		ByPayment: []domain.DailySummaryPayment{},
	}
	byPayment := make(map[string]*domain.DailySummaryPayment)
	for _, row := range rows {
		summary.Lines = append(summary.Lines, domain.DailySummaryLine{SaleLine: row, Origin: Origin(row.TabID)})
		summary.TotalCents += row.TotalCents

		agg, ok := byPayment[row.PaymentMethod]
		if !ok {
			agg = &domain.DailySummaryPayment{PaymentMethod: row.PaymentMethod}
			byPayment[row.PaymentMethod] = agg
		}
		agg.Lines++
		agg.TotalCents += row.TotalCents
	}
	for _, agg := range byPayment {
		summary.ByPayment = append(summary.ByPayment, *agg)
	}
	slices.SortFunc(summary.ByPayment, func(a, b domain.DailySummaryPayment) int {
		if c := cmp.Compare(b.TotalCents, a.TotalCents); c != 0 {
			return c
		}
		return cmp.Compare(a.PaymentMethod, b.PaymentMethod)
	})
	return summary, nil
}

// RenderReport renders the day as text and returns it with the day total.
func (e *Engine) RenderReport(ctx context.Context, day time.Time) (string, int64, error) {
	summary, err := e.DailySummary(ctx, day)
	if err != nil {
		return "", 0, err
	}
	if len(summary.Lines) == 0 {
		return "", 0, errors.Wrap(ErrEmptyReport, summary.Date)
	}
	return Render(summary, e.location), summary.TotalCents, nil
}

type csvRow struct {
	Date    string `csv:"date"`
	Time    string `csv:"time"`
	Origin  string `csv:"origin"`
	Product string `csv:"product"`
	Qty     int    `csv:"qty"`
	Total   string `csv:"total"`
	Payment string `csv:"payment"`
}

// RenderCSV writes the same rows as RenderReport as CSV with a header.
func (e *Engine) RenderCSV(ctx context.Context, day time.Time, w io.Writer) error {
	summary, err := e.DailySummary(ctx, day)
	if err != nil {
		return err
	}
	if len(summary.Lines) == 0 {
		return errors.Wrap(ErrEmptyReport, summary.Date)
	}

	rows := make([]*csvRow, 0, len(summary.Lines))
	for _, line := range summary.Lines {
		at := line.CreatedAt.In(e.location)
		rows = append(rows, &csvRow{
			Date:    at.Format(dateLayout),
			Time:    at.Format(time.TimeOnly),
			Origin:  line.Origin,
			Product: line.ProductName,
			Qty:     line.Qty,
			Total:   money.FormatCents(line.TotalCents),
			Payment: line.PaymentMethod,
		})
	}
	return errors.Wrap(gocsv.Marshal(rows, w), "write csv report")
}

// WriteReportFile renders the day into dir/Report_YYYY-MM-DD.txt and returns
// the path. An existing file for the same day is replaced.
func (e *Engine) WriteReportFile(ctx context.Context, dir string, day time.Time) (string, error) {
	text, _, err := e.RenderReport(ctx, day)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create report dir")
	}

	path := filepath.Join(dir, FileName(startOfDay(day.In(e.location))))
	tmp, err := os.CreateTemp(dir, ".report-*")
	if err != nil {
		return "", errors.Wrap(err, "create report file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.WriteString(tmp, text); err != nil {
		_ = tmp.Close()
		return "", errors.Wrap(err, "write report file")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "close report file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrap(err, "rename report file")
	}
	return path, nil
}

func FileName(day time.Time) string {
	return "Report_" + day.Format(dateLayout) + ".txt"
}

// Origin labels a ledger row by where it was sold.
func Origin(tabID int) string {
	if tabID > domain.CounterTabID {
		return fmt.Sprintf("Tab %d", tabID)
	}
	return "Counter"
}

// Render lays out a summary as the fixed-column day report.
func Render(summary domain.DailySummary, location *time.Location) string {
	var b strings.Builder
	rule := strings.Repeat("-", 80)

	fmt.Fprintf(&b, "=== SALES REPORT: %s ===\n\n", summary.Date)
	fmt.Fprintf(&b, "%-10s %-10s %-20s %-5s %-10s %s\n", "TIME", "ORIGIN", "PRODUCT", "QTY", "TOTAL", "PAYMENT")
	b.WriteString(rule + "\n")
	for _, line := range summary.Lines {
		fmt.Fprintf(&b, "%-10s %-10s %-20s %-5d $%-9s %s\n",
			line.CreatedAt.In(location).Format(time.TimeOnly),
			line.Origin,
			truncate(line.ProductName, 20),
			line.Qty,
			money.FormatCents(line.TotalCents),
			line.PaymentMethod)
	}
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "DAY TOTAL: $ %s\n", money.FormatCents(summary.TotalCents))
	b.WriteString(strings.Repeat("=", 80))
	return b.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
