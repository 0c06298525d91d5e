package taxtable

import (
	"fmt"
	"sort"

	"github.com/cleared-dev/farmtax/internal/model"
)

// Registry maps tax years to their tables. It is read-only once built and
// safe for concurrent lookups.
type Registry struct {
	years map[int]*Year
}

// NewRegistry creates a registry from tables. Duplicate years are rejected.
func NewRegistry(years ...*Year) (*Registry, error) {
	r := &Registry{years: make(map[int]*Year, len(years))}
	for _, y := range years {
		if err := r.Register(y); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Builtin returns a registry loaded with the embedded statutory tables.
func Builtin() (*Registry, error) {
	years, err := Parse(builtinTables)
	if err != nil {
		return nil, fmt.Errorf("builtin tables: %w", err)
	}
	return NewRegistry(years...)
}

// Register adds a year. Registering the same year twice is an error; use
// Override to replace a year deliberately.
func (r *Registry) Register(y *Year) error {
	if _, ok := r.years[y.Year]; ok {
		return fmt.Errorf("tax table %d already registered", y.Year)
	}
	r.years[y.Year] = y
	return nil
}

// Override registers y, replacing any table already registered for its year.
func (r *Registry) Override(y *Year) {
	r.years[y.Year] = y
}

// Lookup returns the table for year or an UnsupportedTaxYearError.
func (r *Registry) Lookup(year int) (*Year, error) {
	y, ok := r.years[year]
	if !ok {
		return nil, &model.UnsupportedTaxYearError{Year: year}
	}
	return y, nil
}

// Years returns the registered years in ascending order.
func (r *Registry) Years() []int {
	out := make([]int, 0, len(r.years))
	for y := range r.years {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

// Tables returns the registered tables in ascending year order.
func (r *Registry) Tables() []*Year {
	out := make([]*Year, 0, len(r.years))
	for _, y := range r.Years() {
		out = append(out, r.years[y])
	}
	return out
}
