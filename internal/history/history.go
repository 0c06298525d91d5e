// Package history keeps an append-only CSV record of computed tax results,
// one row per entity per run, so scenarios can be compared later.
package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/farmtax/internal/model"
)

// Header is the CSV header for tax-history.csv.
const Header = "timestamp,scenario,tax_year,entity_id,net_profit,depreciation,section179,se_tax,federal_tax,state_tax,total_liability,effective_rate"

// ConsolidatedID marks the row holding the combined taxpayer result.
const ConsolidatedID = "*"

const (
	numFields       = 12
	logDir          = "logs"
	logFile         = "logs/tax-history.csv"
	colTimestamp    = 0
	colScenario     = 1
	colYear         = 2
	colEntityID     = 3
	colNetProfit    = 4
	colDepreciation = 5
	colSection179   = 6
	colSETax        = 7
	colFederalTax   = 8
	colStateTax     = 9
	colLiability    = 10
	colRate         = 11
)

// Record is one computed result.
type Record struct {
	Timestamp      time.Time
	Scenario       string
	Year           int
	EntityID       string
	NetProfit      decimal.Decimal
	Depreciation   decimal.Decimal
	Section179     decimal.Decimal
	SETax          decimal.Decimal
	FederalTax     decimal.Decimal
	StateTax       decimal.Decimal
	TotalLiability decimal.Decimal
	EffectiveRate  decimal.Decimal
}

// FromResult builds a Record from a tax result. The consolidated result has
// no entity ID and is stored as ConsolidatedID.
func FromResult(ts time.Time, scenario string, res model.TaxResult, depreciation, section179 decimal.Decimal) Record {
	id := res.EntityID
	if id == "" {
		id = ConsolidatedID
	}
	return Record{
		Timestamp:      ts,
		Scenario:       scenario,
		Year:           res.Year,
		EntityID:       id,
		NetProfit:      res.NetProfit,
		Depreciation:   depreciation,
		Section179:     section179,
		SETax:          res.SE.Total,
		FederalTax:     res.FederalTax,
		StateTax:       res.StateTax,
		TotalLiability: res.TotalLiability,
		EffectiveRate:  res.EffectiveRate,
	}
}

// MarshalRecord converts a Record to a CSV row.
func MarshalRecord(r Record) []string {
	row := make([]string, numFields)
	row[colTimestamp] = r.Timestamp.Format(time.RFC3339)
	row[colScenario] = r.Scenario
	row[colYear] = strconv.Itoa(r.Year)
	row[colEntityID] = r.EntityID
	row[colNetProfit] = r.NetProfit.StringFixed(2)
	row[colDepreciation] = r.Depreciation.StringFixed(2)
	row[colSection179] = r.Section179.StringFixed(2)
	row[colSETax] = r.SETax.StringFixed(2)
	row[colFederalTax] = r.FederalTax.StringFixed(2)
	row[colStateTax] = r.StateTax.StringFixed(2)
	row[colLiability] = r.TotalLiability.StringFixed(2)
	row[colRate] = r.EffectiveRate.String()
	return row
}

// UnmarshalRecord converts a CSV row to a Record.
func UnmarshalRecord(record []string) (Record, error) {
	if len(record) != numFields {
		return Record{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Record{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}
	year, err := strconv.Atoi(record[colYear])
	if err != nil {
		return Record{}, fmt.Errorf("parsing tax_year %q: %w", record[colYear], err)
	}

	r := Record{Timestamp: ts, Scenario: record[colScenario], Year: year, EntityID: record[colEntityID]}
	amounts := []struct {
		col int
		dst *decimal.Decimal
	}{
		{colNetProfit, &r.NetProfit},
		{colDepreciation, &r.Depreciation},
		{colSection179, &r.Section179},
		{colSETax, &r.SETax},
		{colFederalTax, &r.FederalTax},
		{colStateTax, &r.StateTax},
		{colLiability, &r.TotalLiability},
		{colRate, &r.EffectiveRate},
	}
	for _, a := range amounts {
		d, err := decimal.NewFromString(record[a.col])
		if err != nil {
			return Record{}, fmt.Errorf("parsing column %d %q: %w", a.col+1, record[a.col], err)
		}
		*a.dst = d
	}
	return r, nil
}

// Append writes records to <root>/logs/tax-history.csv, creating the file
// and header if needed.
func Append(root string, records []Record) error {
	if err := os.MkdirAll(filepath.Join(root, logDir), 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	path := filepath.Join(root, logFile)
	needsHeader := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening tax history: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for i, r := range records {
		if err := cw.Write(MarshalRecord(r)); err != nil {
			return fmt.Errorf("writing record %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read returns every record in <root>/logs/tax-history.csv, or nil if the
// file does not exist.
func Read(root string) ([]Record, error) {
	f, err := os.Open(filepath.Join(root, logFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening tax history: %w", err)
	}
	defer f.Close()

	return readRecords(f)
}

// Filter returns the records for year (0 = any) and scenario ("" = any).
func Filter(records []Record, year int, scenario string) []Record {
	var out []Record
	for _, r := range records {
		if year != 0 && r.Year != year {
			continue
		}
		if scenario != "" && r.Scenario != scenario {
			continue
		}
		out = append(out, r)
	}
	return out
}

func readRecords(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading tax history CSV: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	var records []Record
	for i, row := range rows[1:] {
		rec, err := UnmarshalRecord(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
