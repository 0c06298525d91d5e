package snapshot

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cleared-dev/farmtax/internal/model"
)

// EntityHeader is the CSV header for entities.csv.
const EntityHeader = "entity_id,name,entity_type,accounting_basis,tax_id,formation_date,state"

const (
	entityFields  = 7
	dateFormat    = "2006-01-02"
	colEntityID   = 0
	colEntityName = 1
	colEntityType = 2
	colBasis      = 3
	colTaxID      = 4
	colFormation  = 5
	colState      = 6
)

// ReadEntities reads entities.csv.
func ReadEntities(r io.Reader) ([]model.Entity, error) {
	records, err := readAll(r, entityFields)
	if err != nil {
		return nil, fmt.Errorf("reading entities CSV: %w", err)
	}

	var entities []model.Entity
	for i, rec := range records {
		e, err := UnmarshalEntity(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// WriteEntities writes entities.csv, including the header.
func WriteEntities(w io.Writer, entities []model.Entity) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(strings.Split(EntityHeader, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, e := range entities {
		if err := cw.Write(MarshalEntity(e)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	return cw.Error()
}

// MarshalEntity converts an Entity to a CSV row.
func MarshalEntity(e model.Entity) []string {
	row := make([]string, entityFields)
	row[colEntityID] = e.ID
	row[colEntityName] = e.Name
	row[colEntityType] = string(e.Type)
	row[colBasis] = string(e.Basis)
	row[colTaxID] = e.TaxID
	if !e.FormationDate.IsZero() {
		row[colFormation] = e.FormationDate.Format(dateFormat)
	}
	row[colState] = e.State
	return row
}

// UnmarshalEntity converts a CSV row to an Entity.
func UnmarshalEntity(record []string) (model.Entity, error) {
	if len(record) != entityFields {
		return model.Entity{}, fmt.Errorf("expected %d fields, got %d", entityFields, len(record))
	}

	var formed time.Time
	if record[colFormation] != "" {
		var err error
		formed, err = time.Parse(dateFormat, record[colFormation])
		if err != nil {
			return model.Entity{}, fmt.Errorf("parsing formation_date %q: %w", record[colFormation], err)
		}
	}

	return model.Entity{
		ID:            record[colEntityID],
		Name:          record[colEntityName],
		Type:          model.EntityType(record[colEntityType]),
		Basis:         model.AccountingBasis(record[colBasis]),
		TaxID:         record[colTaxID],
		FormationDate: formed,
		State:         strings.ToUpper(record[colState]),
	}, nil
}

// readAll reads every row after the header.
func readAll(r io.Reader, fields int) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = fields
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) <= 1 {
		return nil, nil
	}
	return records[1:], nil
}
