// Package dataset turns the raw KSI source frame into an immutable Table of
// collision Records and memoizes that work per load parameters.
package dataset

import (
	"errors"
	"maps"

	"github.com/go-gota/gota/dataframe"

	"KSIDashboard/src/config"
)

// ErrDataUnavailable source missing, unreadable, or lacking a required column.
var ErrDataUnavailable = errors.New("data unavailable")

// Unknown marks a year or hour that could not be parsed; it matches no selector.
const Unknown = -1

// Columns names the source columns behind each required attribute.
type Columns struct {
	Latitude      string
	Longitude     string
	AgeGroup      string
	Neighbourhood string
	Year          string
	Hour          string
}

func DefaultColumns() Columns {
	return ColumnsFrom(config.DefaultDataConfig())
}

func ColumnsFrom(dcfg *config.DataConfig) Columns {
	return Columns{
		Latitude:      dcfg.GetColumn(config.ColLatitude),
		Longitude:     dcfg.GetColumn(config.ColLongitude),
		AgeGroup:      dcfg.GetColumn(config.ColAgeGroup),
		Neighbourhood: dcfg.GetColumn(config.ColNeighbourhood),
		Year:          dcfg.GetColumn(config.ColYear),
		Hour:          dcfg.GetColumn(config.ColHour),
	}
}

// Required returns the columns a source must carry.
func (c Columns) Required() []string {
	return []string{c.Latitude, c.Longitude, c.AgeGroup, c.Neighbourhood, c.Year, c.Hour}
}

// Record is one collision event.
type Record struct {
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Year          int     `json:"year"`
	Hour          int     `json:"hour"`
	Neighbourhood int     `json:"neighbourhood_id"`
	AgeGroup      string  `json:"age_group"`
	// Fields holds every other source column as read; NA is "".
	Fields map[string]string `json:"fields,omitempty"`
}

// Clone returns r with its own copy of Fields.
func (r Record) Clone() Record {
	r.Fields = maps.Clone(r.Fields)
	return r
}

// Stats describes what cleaning did to the raw rows.
type Stats struct {
	Read    int `json:"read"`
	Kept    int `json:"kept"`
	Dropped int `json:"dropped"`
	Coerced int `json:"coerced"`
}

// Table is the cleaned, read-only record set for one load.
type Table struct {
	records []Record
	frame   dataframe.DataFrame
	columns Columns
	stats   Stats
}

func (t *Table) Len() int {
	return len(t.records)
}

// At returns the i-th record. Fields is shared with the table and must not be modified.
func (t *Table) At(i int) Record {
	return t.records[i]
}

// Records returns a deep copy of the records in source order.
func (t *Table) Records() []Record {
	out := make([]Record, len(t.records))
	for i, r := range t.records {
		out[i] = r.Clone()
	}
	return out
}

func (t *Table) Columns() Columns {
	return t.columns
}

func (t *Table) Stats() Stats {
	return t.stats
}

// Names lists the cleaned frame's columns in source order.
func (t *Table) Names() []string {
	return t.frame.Names()
}

// Subframe returns a new frame holding the rows at idx.
func (t *Table) Subframe(idx []int) dataframe.DataFrame {
	if idx == nil {
		idx = []int{}
	}
	return t.frame.Subset(idx)
}
