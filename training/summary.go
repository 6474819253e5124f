package training

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// SummaryFile is the ledger file name inside a strategy's working
// directory.
const SummaryFile = "summary.csv"

// Row is one ledger record, keyed by column name.
type Row map[string]float64

// TrainingPeriod is the outcome of one learning period: the per-epoch
// training losses, their mean, and the validation loss measured after the
// last epoch.
type TrainingPeriod struct {
	TrainingLoss   []float64
	ValidationLoss float64
}

// TrainingLossMean is the mean of the period's per-epoch training losses.
func (p TrainingPeriod) TrainingLossMean() float64 {
	var sum float64
	for _, v := range p.TrainingLoss {
		sum += v
	}
	return sum / float64(len(p.TrainingLoss))
}

// Summary is the append-only CSV ledger of completed periods. The column
// layout is fixed when the file is created: training_loss_mean,
// validation_loss, one training_loss_i column per epoch, then any extra
// columns the owning strategy registers (stage, repeat, period). Appends
// are flushed and synced before returning, so a row is on disk before the
// period that produced it is considered complete.
type Summary struct {
	path    string
	file    *os.File
	w       *csv.Writer
	columns []string
	rows    []Row
}

// SummaryExists reports whether dir already holds a ledger.
func SummaryExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, SummaryFile))
	return err == nil
}

// summaryColumns builds the fixed column layout for a period shape.
func summaryColumns(epochsPerPeriod int, extra []string) []string {
	cols := []string{"training_loss_mean", "validation_loss"}
	for i := 0; i < epochsPerPeriod; i++ {
		cols = append(cols, fmt.Sprintf("training_loss_%d", i))
	}
	return append(cols, extra...)
}

// OpenSummary opens the ledger in dir, creating it with a header when
// absent and replaying existing rows into memory when present. An existing
// header must match the expected layout exactly.
func OpenSummary(dir string, epochsPerPeriod int, extra []string) (*Summary, error) {
	if epochsPerPeriod <= 0 {
		return nil, fmt.Errorf("summary requires at least one epoch per period, got %d", epochsPerPeriod)
	}
	columns := summaryColumns(epochsPerPeriod, extra)
	path := filepath.Join(dir, SummaryFile)

	var rows []Row
	if _, err := os.Stat(path); err == nil {
		rows, err = readSummary(path, columns)
		if err != nil {
			return nil, err
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	s := &Summary{
		path:    path,
		file:    file,
		w:       csv.NewWriter(file),
		columns: columns,
		rows:    rows,
	}
	if rows == nil {
		s.rows = []Row{}
		if err := s.writeRecord(columns); err != nil {
			file.Close()
			return nil, fmt.Errorf("write ledger header: %w", err)
		}
	}
	return s, nil
}

func readSummary(path string, columns []string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("ledger %s has no header", path)
	}
	header := records[0]
	if len(header) != len(columns) {
		return nil, fmt.Errorf("ledger %s has %d columns, expected %d", path, len(header), len(columns))
	}
	for i, name := range header {
		if name != columns[i] {
			return nil, fmt.Errorf("ledger %s column %d is %q, expected %q", path, i, name, columns[i])
		}
	}

	rows := make([]Row, 0, len(records)-1)
	for n, rec := range records[1:] {
		if len(rec) != len(columns) {
			return nil, fmt.Errorf("ledger %s row %d has %d fields, expected %d", path, n+1, len(rec), len(columns))
		}
		row := make(Row, len(columns))
		for i, field := range rec {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("ledger %s row %d column %q: %w", path, n+1, columns[i], err)
			}
			row[columns[i]] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Summary) writeRecord(rec []string) error {
	if err := s.w.Write(rec); err != nil {
		return err
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	return s.file.Sync()
}

// Append records one completed period together with the strategy's extra
// column values. Every extra column registered at open time must be
// supplied.
func (s *Summary) Append(p TrainingPeriod, extra Row) error {
	row := make(Row, len(s.columns))
	row["training_loss_mean"] = p.TrainingLossMean()
	row["validation_loss"] = p.ValidationLoss
	for i, v := range p.TrainingLoss {
		row[fmt.Sprintf("training_loss_%d", i)] = v
	}
	for k, v := range extra {
		row[k] = v
	}

	rec := make([]string, len(s.columns))
	for i, col := range s.columns {
		v, ok := row[col]
		if !ok {
			return fmt.Errorf("ledger row is missing column %q", col)
		}
		rec[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	if err := s.writeRecord(rec); err != nil {
		return fmt.Errorf("append ledger row: %w", err)
	}
	s.rows = append(s.rows, row)
	return nil
}

// Len reports the number of recorded periods.
func (s *Summary) Len() int { return len(s.rows) }

// Rows returns the recorded periods in append order. The slice is shared;
// callers must not modify it.
func (s *Summary) Rows() []Row { return s.rows }

// Lookup returns the most recent row whose values match every key in want
// exactly.
func (s *Summary) Lookup(want Row) (Row, bool) {
	for i := len(s.rows) - 1; i >= 0; i-- {
		row := s.rows[i]
		match := true
		for k, v := range want {
			if row[k] != v {
				match = false
				break
			}
		}
		if match {
			return row, true
		}
	}
	return nil, false
}

// Close releases the underlying file.
func (s *Summary) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
