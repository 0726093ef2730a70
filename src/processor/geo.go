package processor

import (
	"sort"

	geohash "github.com/TomiHiltunen/geohash-golang"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"KSIDashboard/src/dataset"
)

// 地图初始视角
const (
	DefaultZoom  = 11
	DefaultPitch = 50

	// DefaultPrecision 约 150m 的格子, 与 100m 半径的六边形层相当
	DefaultPrecision = 7
	maxPrecision     = 12
)

// ViewState is the initial map camera for a set of records.
type ViewState struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Zoom      int     `json:"zoom"`
	Pitch     int     `json:"pitch"`
	Bounds    Bounds  `json:"bounds"`
}

type Bounds struct {
	MinLatitude  float64 `json:"min_latitude"`
	MinLongitude float64 `json:"min_longitude"`
	MaxLatitude  float64 `json:"max_latitude"`
	MaxLongitude float64 `json:"max_longitude"`
}

// ViewStateOf centres the map on the mean position of records. ok is false
// when records is empty.
func ViewStateOf(records []dataset.Record) (vs ViewState, ok bool) {
	if len(records) == 0 {
		return ViewState{}, false
	}

	flat := make([]float64, 0, 2*len(records))
	for _, r := range records {
		flat = append(flat, r.Longitude, r.Latitude)
	}
	points := geom.NewMultiPointFlat(geom.XY, flat)

	centre, err := xy.Centroid(points)
	if err != nil {
		return ViewState{}, false
	}
	b := points.Bounds()

	return ViewState{
		Latitude:  centre[1],
		Longitude: centre[0],
		Zoom:      DefaultZoom,
		Pitch:     DefaultPitch,
		Bounds: Bounds{
			MinLatitude:  b.Min(1),
			MinLongitude: b.Min(0),
			MaxLatitude:  b.Max(1),
			MaxLongitude: b.Max(0),
		},
	}, true
}

// Bin is one geohash cell of a density layer.
type Bin struct {
	Cell      string  `json:"cell"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Count     int     `json:"count"`
}

// Density 按 geohash 分箱计数, 数量降序, 相同时按格子编码升序
func Density(records []dataset.Record, precision int) []Bin {
	if precision <= 0 || precision > maxPrecision {
		precision = DefaultPrecision
	}

	counts := make(map[string]int)
	for _, r := range records {
		counts[geohash.EncodeWithPrecision(r.Latitude, r.Longitude, precision)]++
	}

	bins := make([]Bin, 0, len(counts))
	for cell, n := range counts {
		centre := geohash.Decode(cell).Center()
		bins = append(bins, Bin{
			Cell:      cell,
			Latitude:  centre.Lat(),
			Longitude: centre.Lng(),
			Count:     n,
		})
	}
	sort.Slice(bins, func(i, j int) bool {
		if bins[i].Count != bins[j].Count {
			return bins[i].Count > bins[j].Count
		}
		return bins[i].Cell < bins[j].Cell
	})
	return bins
}
