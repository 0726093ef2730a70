package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"KSIDashboard/src/utils"
)

// Build cleans raw and materialises the Table.
func Build(raw dataframe.DataFrame, cols Columns) (*Table, error) {
	df, stats, err := Clean(raw, cols)
	if err != nil {
		return nil, err
	}
	return newTable(df, cols, stats), nil
}

// Clean coerces the neighbourhood column to int (0 when unparseable), drops
// rows without latitude, longitude or age group, and types the numeric columns.
func Clean(raw dataframe.DataFrame, cols Columns) (dataframe.DataFrame, Stats, error) {
	if raw.Err != nil {
		return dataframe.DataFrame{}, Stats{}, fmt.Errorf("%w: %w", ErrDataUnavailable, raw.Err)
	}
	for _, name := range cols.Required() {
		if !utils.HasColumn(raw, name) {
			return dataframe.DataFrame{}, Stats{}, fmt.Errorf("%w: missing column %q", ErrDataUnavailable, name)
		}
	}

	stats := Stats{Read: raw.Nrow()}

	hood := raw.Col(cols.Neighbourhood)
	ids := make([]int, hood.Len())
	for i := range ids {
		id, ok := parseNeighbourhood(hood.Elem(i))
		if !ok {
			stats.Coerced++
		}
		ids[i] = id
	}
	df := raw.Mutate(series.New(ids, series.Int, cols.Neighbourhood))

	lat, lon, age := df.Col(cols.Latitude), df.Col(cols.Longitude), df.Col(cols.AgeGroup)
	keep := make([]int, 0, df.Nrow())
	lats := make([]float64, 0, df.Nrow())
	lons := make([]float64, 0, df.Nrow())
	for i := 0; i < df.Nrow(); i++ {
		if age.Elem(i).IsNA() {
			continue
		}
		la, ok := parseFloat(lat.Elem(i))
		if !ok {
			continue
		}
		lo, ok := parseFloat(lon.Elem(i))
		if !ok {
			continue
		}
		keep = append(keep, i)
		lats = append(lats, la)
		lons = append(lons, lo)
	}
	stats.Dropped = df.Nrow() - len(keep)

	df = df.Subset(keep)
	df = df.Mutate(series.New(lats, series.Float, cols.Latitude)).
		Mutate(series.New(lons, series.Float, cols.Longitude)).
		Mutate(series.New(parseInts(df.Col(cols.Year)), series.Int, cols.Year)).
		Mutate(series.New(parseInts(df.Col(cols.Hour)), series.Int, cols.Hour))
	if df.Err != nil {
		return dataframe.DataFrame{}, Stats{}, fmt.Errorf("%w: %w", ErrDataUnavailable, df.Err)
	}

	stats.Kept = df.Nrow()
	return df, stats, nil
}

func newTable(df dataframe.DataFrame, cols Columns, stats Stats) *Table {
	names := df.Names()
	all := make([]series.Series, len(names))
	for i, name := range names {
		all[i] = df.Col(name)
	}

	required := cols.Required()
	lat, lon := df.Col(cols.Latitude), df.Col(cols.Longitude)
	year, hour := df.Col(cols.Year), df.Col(cols.Hour)
	hood, age := df.Col(cols.Neighbourhood), df.Col(cols.AgeGroup)

	records := make([]Record, df.Nrow())
	for i := range records {
		fields := make(map[string]string, len(names)-len(required))
		for j, name := range names {
			if utils.Contains(required, name) {
				continue
			}
			if e := all[j].Elem(i); !e.IsNA() {
				fields[name] = e.String()
			} else {
				fields[name] = ""
			}
		}
		records[i] = Record{
			Latitude:      lat.Elem(i).Float(),
			Longitude:     lon.Elem(i).Float(),
			Year:          intOrUnknown(year.Elem(i)),
			Hour:          intOrUnknown(hour.Elem(i)),
			Neighbourhood: intOrUnknown(hood.Elem(i)),
			AgeGroup:      age.Elem(i).String(),
			Fields:        fields,
		}
	}

	return &Table{records: records, frame: df, columns: cols, stats: stats}
}

// parseNeighbourhood mirrors a numeric coercion: "97", "97.0" -> 97; anything else -> 0.
func parseNeighbourhood(e series.Element) (int, bool) {
	f, ok := parseFloat(e)
	if !ok {
		return 0, false
	}
	return toInt(f)
}

// 超出范围的浮点数转 int 结果不确定, 一律视为无法解析
const maxMagnitude = 1e9

func toInt(f float64) (int, bool) {
	if math.Abs(f) > maxMagnitude {
		return 0, false
	}
	return int(f), true
}

func parseFloat(e series.Element) (float64, bool) {
	if e.IsNA() {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(e.String()), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseInts(s series.Series) []int {
	out := make([]int, s.Len())
	for i := range out {
		f, ok := parseFloat(s.Elem(i))
		if !ok {
			out[i] = Unknown
			continue
		}
		v, ok := toInt(f)
		if !ok {
			v = Unknown
		}
		out[i] = v
	}
	return out
}

func intOrUnknown(e series.Element) int {
	v, err := e.Int()
	if err != nil {
		return Unknown
	}
	return v
}
