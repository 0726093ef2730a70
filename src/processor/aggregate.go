package processor

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

var (
	ErrUnknownAggregate = errors.New("unknown aggregate")
	ErrUnknownSeries    = errors.New("unknown aggregate series")
)

// 固定统计表的名称
const (
	AggCollisionsByYear = "collisions_by_year"
	AggCollisionsByHour = "collisions_by_hour"
	AggKSIByAgeGroup    = "ksi_by_age_group"
	AggKSIAgeByYear     = "ksi_age_by_year"
)

//go:embed aggregates.json
var aggregatesJSON []byte

// Pair is one (category, count) point of an aggregate.
type Pair struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Aggregate is a fixed, pre-computed count table. Multi-series aggregates
// carry ByYear instead of Pairs.
type Aggregate struct {
	Name   string         `json:"name"`
	Title  string         `json:"title"`
	XLabel string         `json:"x_label"`
	YLabel string         `json:"y_label"`
	Chart  string         `json:"chart"`
	Pairs  []Pair         `json:"pairs,omitempty"`
	ByYear map[int][]Pair `json:"by_year,omitempty"`

	seriesTitle string
}

// Years 返回多序列统计表中的年份, 升序
func (a Aggregate) Years() []int {
	years := make([]int, 0, len(a.ByYear))
	for y := range a.ByYear {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

type aggregateFile struct {
	AgeGroups  []string `json:"age_groups"`
	Aggregates []struct {
		Name        string           `json:"name"`
		Title       string           `json:"title"`
		SeriesTitle string           `json:"series_title"`
		XLabel      string           `json:"x_label"`
		YLabel      string           `json:"y_label"`
		Chart       string           `json:"chart"`
		Categories  []string         `json:"categories"`
		CategorySet string           `json:"category_set"`
		Counts      []int            `json:"counts"`
		ByYear      map[string][]int `json:"by_year"`
	} `json:"aggregates"`
}

// Catalog holds the static aggregates in declaration order.
type Catalog struct {
	names []string
	byKey map[string]Aggregate
}

// LoadCatalog parses the embedded aggregate tables.
func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(aggregatesJSON)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var file aggregateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析统计表失败: %w", err)
	}

	sets := map[string][]string{"age_groups": file.AgeGroups}
	c := &Catalog{byKey: make(map[string]Aggregate, len(file.Aggregates))}

	for _, raw := range file.Aggregates {
		categories := raw.Categories
		if raw.CategorySet != "" {
			set, ok := sets[raw.CategorySet]
			if !ok {
				return nil, fmt.Errorf("%s: unknown category set %q", raw.Name, raw.CategorySet)
			}
			categories = set
		}

		agg := Aggregate{
			Name:        raw.Name,
			Title:       raw.Title,
			XLabel:      raw.XLabel,
			YLabel:      raw.YLabel,
			Chart:       raw.Chart,
			seriesTitle: raw.SeriesTitle,
		}

		if raw.ByYear != nil {
			agg.ByYear = make(map[int][]Pair, len(raw.ByYear))
			for key, counts := range raw.ByYear {
				year, err := strconv.Atoi(key)
				if err != nil {
					return nil, fmt.Errorf("%s: invalid year %q", raw.Name, key)
				}
				pairs, err := zipPairs(categories, counts)
				if err != nil {
					return nil, fmt.Errorf("%s/%d: %w", raw.Name, year, err)
				}
				agg.ByYear[year] = pairs
			}
		} else {
			pairs, err := zipPairs(categories, raw.Counts)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", raw.Name, err)
			}
			agg.Pairs = pairs
		}

		if _, dup := c.byKey[agg.Name]; dup {
			return nil, fmt.Errorf("duplicate aggregate %q", agg.Name)
		}
		c.names = append(c.names, agg.Name)
		c.byKey[agg.Name] = agg
	}
	return c, nil
}

func zipPairs(categories []string, counts []int) ([]Pair, error) {
	if len(categories) != len(counts) {
		return nil, fmt.Errorf("%d categories but %d counts", len(categories), len(counts))
	}
	pairs := make([]Pair, len(counts))
	for i := range counts {
		pairs[i] = Pair{Category: categories[i], Count: counts[i]}
	}
	return pairs, nil
}

func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Get 按名称取统计表, 返回副本
func (c *Catalog) Get(name string) (Aggregate, error) {
	agg, ok := c.byKey[name]
	if !ok {
		return Aggregate{}, fmt.Errorf("%w: %q", ErrUnknownAggregate, name)
	}
	return agg.clone(), nil
}

// AgeGroupsFor returns the single-year age distribution as a plain aggregate.
func (c *Catalog) AgeGroupsFor(year int) (Aggregate, error) {
	agg, ok := c.byKey[AggKSIAgeByYear]
	if !ok {
		return Aggregate{}, fmt.Errorf("%w: %q", ErrUnknownAggregate, AggKSIAgeByYear)
	}
	pairs, ok := agg.ByYear[year]
	if !ok {
		return Aggregate{}, fmt.Errorf("%w: %s/%d", ErrUnknownSeries, AggKSIAgeByYear, year)
	}

	title := agg.Title
	if agg.seriesTitle != "" {
		title = fmt.Sprintf(agg.seriesTitle, year)
	}
	return Aggregate{
		Name:   agg.Name,
		Title:  title,
		XLabel: agg.XLabel,
		YLabel: agg.YLabel,
		Chart:  agg.Chart,
		Pairs:  append([]Pair(nil), pairs...),
	}, nil
}

func (a Aggregate) clone() Aggregate {
	out := a
	if a.Pairs != nil {
		out.Pairs = append([]Pair(nil), a.Pairs...)
	}
	if a.ByYear != nil {
		out.ByYear = make(map[int][]Pair, len(a.ByYear))
		for y, p := range a.ByYear {
			out.ByYear[y] = append([]Pair(nil), p...)
		}
	}
	return out
}
