package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"stocksim/internal/domain"
)

// Compile-time interface check.
var _ SnapshotStore = (*ParquetStore)(nil)

// ParquetStore implements SnapshotStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string

	// mu guards the read-merge-write cycle of each file.
	mu sync.Mutex
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// SnapshotRecord is the Parquet schema for one market snapshot. Prices are
// stored as decimal strings so no precision is lost.
type SnapshotRecord struct {
	Ticker    string `parquet:"ticker"`
	Timestamp int64  `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Price     string `parquet:"price"`
	Company   string `parquet:"company"`
	Industry  string `parquet:"industry"`
	Resolved  bool   `parquet:"resolved"`
}

func recordFromStock(s domain.Stock) SnapshotRecord {
	return SnapshotRecord{
		Ticker:    s.Ticker,
		Timestamp: s.UpdatedAt.UnixMilli(),
		Price:     s.Price.String(),
		Company:   s.Profile.Company,
		Industry:  s.Profile.Industry,
		Resolved:  s.Profile.Resolved,
	}
}

func (r SnapshotRecord) stock() (domain.Stock, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return domain.Stock{}, fmt.Errorf("parsing price %q of %s: %w", r.Price, r.Ticker, err)
	}
	return domain.Stock{
		Ticker: r.Ticker,
		Profile: domain.Profile{
			Company:  r.Company,
			Industry: r.Industry,
			Resolved: r.Resolved,
		},
		Price:     price,
		UpdatedAt: time.UnixMilli(r.Timestamp).UTC(),
	}, nil
}

// ---------------------------------------------------------------------------
// SnapshotStore implementation
// ---------------------------------------------------------------------------

// WriteSnapshots writes snapshots to Parquet files organized by ticker and
// date. Each ticker+date combination produces a separate file at:
//
//	<DataDir>/snapshots/<TICKER>/<YYYY-MM-DD>.parquet
func (s *ParquetStore) WriteSnapshots(_ context.Context, stocks []domain.Stock) error {
	if len(stocks) == 0 {
		return nil
	}

	type key struct {
		ticker string
		date   string // YYYY-MM-DD
	}
	groups := make(map[key][]SnapshotRecord)
	var errs []error
	for _, st := range stocks {
		if !domain.ValidTicker(st.Ticker) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidTicker, st.Ticker))
			continue
		}
		k := key{ticker: strings.ToUpper(st.Ticker), date: st.UpdatedAt.UTC().Format(time.DateOnly)}
		groups[k] = append(groups[k], recordFromStock(st))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, records := range groups {
		t, _ := time.Parse(time.DateOnly, k.date)
		path := s.snapshotPath(k.ticker, t)

		existing, err := readParquetFile[SnapshotRecord](path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading snapshots for %s/%s: %w", k.ticker, k.date, err)
		}
		merged := mergeSnapshotRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing snapshots for %s/%s: %w", k.ticker, k.date, err)
		}
	}
	return errors.Join(errs...)
}

// ReadHistory reads snapshots for ticker within [start, end].
func (s *ParquetStore) ReadHistory(_ context.Context, ticker string, start, end time.Time) ([]domain.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !domain.ValidTicker(ticker) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTicker, ticker)
	}

	var out []domain.Stock
	first := truncateDay(start)
	for d := first; !d.After(end); d = d.AddDate(0, 0, 1) {
		records, err := readParquetFile[SnapshotRecord](s.snapshotPath(ticker, d))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading snapshots for %s/%s: %w", ticker, d.Format(time.DateOnly), err)
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp)
			if ts.Before(start) || ts.After(end) {
				continue
			}
			st, err := r.stock()
			if err != nil {
				return nil, err
			}
			out = append(out, st)
		}
	}
	return out, nil
}

// LatestSnapshots returns the newest recorded snapshot of every ticker.
func (s *ParquetStore) LatestSnapshots(ctx context.Context) ([]domain.Stock, error) {
	tickers, err := s.ListTickers(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Stock
	for _, ticker := range tickers {
		dir := filepath.Join(s.DataDir, "snapshots", ticker)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", dir, err)
		}
		// Date-named files sort chronologically; walk back from the newest.
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			if e.IsDir() || filepath.Ext(e.Name()) != ".parquet" {
				continue
			}
			records, err := readParquetFile[SnapshotRecord](filepath.Join(dir, e.Name()))
			if err != nil || len(records) == 0 {
				continue
			}
			st, err := records[len(records)-1].stock()
			if err != nil {
				return nil, err
			}
			out = append(out, st)
			break
		}
	}
	return out, nil
}

// ListTickers lists all tickers that have recorded snapshots.
func (s *ParquetStore) ListTickers(_ context.Context) ([]string, error) {
	dir := filepath.Join(s.DataDir, "snapshots")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tickers []string
	for _, e := range entries {
		if e.IsDir() {
			tickers = append(tickers, e.Name())
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// snapshotPath returns the filesystem path for a snapshot Parquet file.
// Layout: <dataDir>/snapshots/<TICKER>/<YYYY-MM-DD>.parquet
func (s *ParquetStore) snapshotPath(ticker string, t time.Time) string {
	date := t.UTC().Format(time.DateOnly)
	return filepath.Join(s.DataDir, "snapshots", strings.ToUpper(ticker), date+".parquet")
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeSnapshotRecords deduplicates records by (ticker, timestamp),
// preferring new records over existing ones. Results are sorted by timestamp.
func mergeSnapshotRecords(existing, incoming []SnapshotRecord) []SnapshotRecord {
	type key struct {
		ticker string
		ts     int64
	}
	seen := make(map[key]SnapshotRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Ticker, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Ticker, r.Timestamp}] = r
	}

	merged := make([]SnapshotRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
