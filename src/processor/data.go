// data.go
package processor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-gota/gota/dataframe"

	"KSIDashboard/src/dataset"
)

// ErrUnknownSelector 未知的筛选维度
var ErrUnknownSelector = errors.New("unknown selector")

// Kind 筛选维度, 取值即 URL 中的路径段
type Kind string

const (
	KindNeighbourhood Kind = "neighbourhoods"
	KindYear          Kind = "years"
	KindHour          Kind = "hours"
)

// Range 闭区间
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

var ranges = map[Kind]Range{
	KindNeighbourhood: {Min: 1, Max: 174},
	KindYear:          {Min: 2006, Max: 2022},
	KindHour:          {Min: 0, Max: 23},
}

// Kinds 按固定顺序返回所有维度
func Kinds() []Kind {
	return []Kind{KindNeighbourhood, KindYear, KindHour}
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := ranges[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSelector, s)
	}
	return k, nil
}

// Range returns the accepted selector values for k.
func (k Kind) Range() Range {
	return ranges[k]
}

// FilterView is the subset of a Table matching one selector, in Table order.
// A value outside the kind's Range always yields an empty view.
type FilterView struct {
	Kind    Kind             `json:"kind"`
	Value   int              `json:"value"`
	Records []dataset.Record `json:"records"`

	indices []int
	table   *dataset.Table
}

func (v *FilterView) Len() int {
	return len(v.Records)
}

// Indices 返回命中行在 Table 中的下标
func (v *FilterView) Indices() []int {
	out := make([]int, len(v.indices))
	copy(out, v.indices)
	return out
}

// Frame 返回命中行对应的 DataFrame, 用于导出
func (v *FilterView) Frame() dataframe.DataFrame {
	return v.table.Subframe(v.indices)
}

func ByNeighbourhood(t *dataset.Table, id int) *FilterView {
	return filter(t, KindNeighbourhood, id, func(r *dataset.Record) int { return r.Neighbourhood })
}

func ByYear(t *dataset.Table, year int) *FilterView {
	return filter(t, KindYear, year, func(r *dataset.Record) int { return r.Year })
}

// ByHour 按小时筛选, 24 不是有效小时, 结果为空
func ByHour(t *dataset.Table, hour int) *FilterView {
	return filter(t, KindHour, hour, func(r *dataset.Record) int { return r.Hour })
}

// Filter dispatches to ByNeighbourhood, ByYear or ByHour.
func Filter(t *dataset.Table, kind Kind, value int) (*FilterView, error) {
	switch kind {
	case KindNeighbourhood:
		return ByNeighbourhood(t, value), nil
	case KindYear:
		return ByYear(t, value), nil
	case KindHour:
		return ByHour(t, value), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSelector, kind)
}

func filter(t *dataset.Table, kind Kind, value int, attr func(*dataset.Record) int) *FilterView {
	view := &FilterView{
		Kind:    kind,
		Value:   value,
		Records: []dataset.Record{},
		indices: []int{},
		table:   t,
	}
	if !kind.Range().Contains(value) {
		return view
	}
	for i := 0; i < t.Len(); i++ {
		rec := t.At(i)
		if attr(&rec) == value {
			view.Records = append(view.Records, rec.Clone())
			view.indices = append(view.indices, i)
		}
	}
	return view
}

// Head 返回前 n 条记录
func Head(t *dataset.Table, n int) []dataset.Record {
	if n < 0 {
		n = 0
	}
	if n > t.Len() {
		n = t.Len()
	}
	out := make([]dataset.Record, n)
	for i := range out {
		out[i] = t.At(i).Clone()
	}
	return out
}
