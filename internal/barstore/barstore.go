// Package barstore implements the local, columnar bar cache: one
// Arrow IPC (feather) file per (symbol, timeframe) under
// <root>/<SYMBOL>/<timeframe>.arrow, via `github.com/apache/arrow-go/v18`.
// Each series is a single-table read-modify-write file rather than a
// row-group writer, since a whole series comfortably fits in memory.
package barstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "barstore")

var barSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "timestamp", Type: arrow.FixedWidthTypes.Timestamp_ns},
		{Name: "open", Type: arrow.PrimitiveTypes.Float64},
		{Name: "high", Type: arrow.PrimitiveTypes.Float64},
		{Name: "low", Type: arrow.PrimitiveTypes.Float64},
		{Name: "close", Type: arrow.PrimitiveTypes.Float64},
		{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
	},
	nil,
)

// Store is a filesystem-backed columnar bar cache rooted at Root.
type Store struct {
	Root string
	pool memory.Allocator
}

// New returns a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("barstore: create root %s: %w", root, err)
	}
	return &Store{Root: root, pool: memory.NewGoAllocator()}, nil
}

func (s *Store) symbolDir(symbol string) string {
	return filepath.Join(s.Root, strings.ToUpper(symbol))
}

func (s *Store) path(symbol string, tf models.Timeframe) string {
	return filepath.Join(s.symbolDir(symbol), string(tf)+".arrow")
}

// Save writes series to disk, overwriting any existing file for that
// (symbol, timeframe).
func (s *Store) Save(symbol string, tf models.Timeframe, series models.BarSeries) error {
	dir := s.symbolDir(symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("barstore: create symbol dir %s: %w", dir, err)
	}
	rec := s.buildRecord(series)
	defer rec.Release()

	path := s.path(symbol, tf)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("barstore: create %s: %w", tmp, err)
	}
	w, err := ipc.NewFileWriter(f, ipc.WithSchema(barSchema), ipc.WithAllocator(s.pool))
	if err != nil {
		f.Close()
		return fmt.Errorf("barstore: new writer for %s: %w", path, err)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		f.Close()
		return fmt.Errorf("barstore: write record for %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("barstore: close writer for %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("barstore: close file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("barstore: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

func (s *Store) buildRecord(series models.BarSeries) arrow.Record {
	b := array.NewRecordBuilder(s.pool, barSchema)
	defer b.Release()

	tsB := b.Field(0).(*array.TimestampBuilder)
	openB := b.Field(1).(*array.Float64Builder)
	highB := b.Field(2).(*array.Float64Builder)
	lowB := b.Field(3).(*array.Float64Builder)
	closeB := b.Field(4).(*array.Float64Builder)
	volB := b.Field(5).(*array.Float64Builder)

	for _, bar := range series.Bars {
		tsB.Append(arrow.Timestamp(bar.Timestamp.UnixNano()))
		openB.Append(bar.Open)
		highB.Append(bar.High)
		lowB.Append(bar.Low)
		closeB.Append(bar.Close)
		volB.Append(bar.Volume)
	}
	return b.NewRecord()
}

// Load reads the series for (symbol, tf), optionally bounded by
// [start, end]. A missing file returns an empty series, never an
// error. Timezone policy: stored timestamps are always
// UTC (see models.Bar); a bound passed in time.UTC is treated as
// "naive" and coerced as-is, while a bound carrying any other
// *time.Location is converted to UTC before comparison.
func (s *Store) Load(symbol string, tf models.Timeframe, start, end *time.Time) (models.BarSeries, error) {
	path := s.path(symbol, tf)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return models.NewBarSeries(symbol, tf, nil), nil
	}
	if err != nil {
		return models.BarSeries{}, fmt.Errorf("barstore: open %s: %w", path, err)
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(s.pool))
	if err != nil {
		return models.BarSeries{}, fmt.Errorf("barstore: new reader for %s: %w", path, err)
	}
	defer r.Close()

	var startUTC, endUTC *time.Time
	if start != nil {
		t := start.UTC()
		startUTC = &t
	}
	if end != nil {
		t := end.UTC()
		endUTC = &t
	}

	var bars []models.Bar
	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		bars = append(bars, decodeRecord(rec, startUTC, endUTC)...)
	}
	return models.NewBarSeries(symbol, tf, bars), nil
}

func decodeRecord(rec arrow.Record, start, end *time.Time) []models.Bar {
	n := int(rec.NumRows())
	ts := rec.Column(0).(*array.Timestamp)
	open := rec.Column(1).(*array.Float64)
	high := rec.Column(2).(*array.Float64)
	low := rec.Column(3).(*array.Float64)
	cls := rec.Column(4).(*array.Float64)
	vol := rec.Column(5).(*array.Float64)

	out := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		t := time.Unix(0, int64(ts.Value(i))).UTC()
		if start != nil && t.Before(*start) {
			continue
		}
		if end != nil && t.After(*end) {
			continue
		}
		out = append(out, models.Bar{
			Timestamp: t,
			Open:      open.Value(i),
			High:      high.Value(i),
			Low:       low.Value(i),
			Close:     cls.Value(i),
			Volume:    vol.Value(i),
		})
	}
	return out
}

// Update merges newSeries into the stored series: concat, dedupe by
// timestamp keeping the latest value, sort ascending, overwrite. It
// returns the number of bars genuinely new to the store (timestamps
// not previously present).
func (s *Store) Update(symbol string, tf models.Timeframe, newSeries models.BarSeries) (int, error) {
	existing, err := s.Load(symbol, tf, nil, nil)
	if err != nil {
		return 0, err
	}
	existingTS := make(map[int64]bool, existing.Len())
	for _, b := range existing.Bars {
		existingTS[b.Timestamp.UnixNano()] = true
	}
	nNew := 0
	for _, b := range newSeries.Bars {
		if !existingTS[b.Timestamp.UnixNano()] {
			nNew++
		}
	}
	merged := append(append([]models.Bar{}, existing.Bars...), newSeries.Bars...)
	out := models.NewBarSeries(symbol, tf, merged)
	if err := s.Save(symbol, tf, out); err != nil {
		return 0, err
	}
	return nNew, nil
}

// Has reports whether a file exists for (symbol, tf).
func (s *Store) Has(symbol string, tf models.Timeframe) bool {
	_, err := os.Stat(s.path(symbol, tf))
	return err == nil
}

// BarRange returns the stored [first, last] timestamps for (symbol, tf).
func (s *Store) BarRange(symbol string, tf models.Timeframe) (time.Time, time.Time, error) {
	series, err := s.Load(symbol, tf, nil, nil)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	first, last := series.Range()
	return first, last, nil
}

// BarCount returns the number of stored bars for (symbol, tf).
func (s *Store) BarCount(symbol string, tf models.Timeframe) (int, error) {
	series, err := s.Load(symbol, tf, nil, nil)
	if err != nil {
		return 0, err
	}
	return series.Len(), nil
}

// ListSymbols returns every symbol directory present under Root.
func (s *Store) ListSymbols() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("barstore: read root %s: %w", s.Root, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// ListTimeframes returns every timeframe stored for symbol.
func (s *Store) ListTimeframes(symbol string) ([]models.Timeframe, error) {
	dir := s.symbolDir(symbol)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("barstore: read symbol dir %s: %w", dir, err)
	}
	var out []models.Timeframe
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".arrow")
		if name == e.Name() {
			continue
		}
		out = append(out, models.Timeframe(name))
	}
	return out, nil
}

// Summary describes one (symbol, timeframe) entry in the store.
type Summary struct {
	Symbol    string
	Timeframe models.Timeframe
	BarCount  int
	Start     time.Time
	End       time.Time
}

// Summary returns one entry per stored (symbol, timeframe) pair.
func (s *Store) Summary() ([]Summary, error) {
	symbols, err := s.ListSymbols()
	if err != nil {
		return nil, err
	}
	var out []Summary
	for _, sym := range symbols {
		tfs, err := s.ListTimeframes(sym)
		if err != nil {
			return nil, err
		}
		for _, tf := range tfs {
			first, last, err := s.BarRange(sym, tf)
			if err != nil {
				return nil, err
			}
			n, err := s.BarCount(sym, tf)
			if err != nil {
				return nil, err
			}
			out = append(out, Summary{Symbol: sym, Timeframe: tf, BarCount: n, Start: first, End: last})
		}
	}
	return out, nil
}

// Delete removes the (symbol, tf) file, cleaning up the symbol
// directory if it becomes empty.
func (s *Store) Delete(symbol string, tf models.Timeframe) error {
	path := s.path(symbol, tf)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("barstore: remove %s: %w", path, err)
	}
	return s.cleanupIfEmpty(symbol)
}

// DeleteSymbol removes every timeframe file for symbol and the
// directory itself.
func (s *Store) DeleteSymbol(symbol string) error {
	dir := s.symbolDir(symbol)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("barstore: remove symbol dir %s: %w", dir, err)
	}
	return nil
}

func (s *Store) cleanupIfEmpty(symbol string) error {
	dir := s.symbolDir(symbol)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("barstore: read symbol dir %s: %w", dir, err)
	}
	if len(entries) == 0 {
		if err := os.Remove(dir); err != nil {
			return fmt.Errorf("barstore: remove empty symbol dir %s: %w", dir, err)
		}
		log.Debugf("barstore: removed empty symbol dir %s", dir)
	}
	return nil
}
