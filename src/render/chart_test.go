package render

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KSIDashboard/src/processor"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

func TestRenderCatalog(t *testing.T) {
	c, err := processor.LoadCatalog()
	require.NoError(t, err)

	for _, name := range []string{processor.AggCollisionsByYear, processor.AggCollisionsByHour, processor.AggKSIByAgeGroup} {
		t.Run(name, func(t *testing.T) {
			agg, err := c.Get(name)
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, Render(agg, &buf))
			assert.True(t, bytes.HasPrefix(buf.Bytes(), pngSignature))
		})
	}
}

func TestBarChartAgeGroups(t *testing.T) {
	c, err := processor.LoadCatalog()
	require.NoError(t, err)
	agg, err := c.AgeGroupsFor(2019)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Render(agg, &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngSignature))
}

func TestLineChartSinglePoint(t *testing.T) {
	agg := processor.Aggregate{Name: "one", Pairs: []processor.Pair{{Category: "2020", Count: 3}}}

	var buf bytes.Buffer
	require.NoError(t, LineChart(agg, &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngSignature))

	// 单点且计数为零
	agg.Pairs[0].Count = 0
	buf.Reset()
	require.NoError(t, Render(agg, &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngSignature))
}

func TestEmptyAggregate(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, LineChart(processor.Aggregate{Name: "none"}, &buf), ErrEmptyAggregate)
	assert.ErrorIs(t, BarChart(processor.Aggregate{Name: "none"}, &buf), ErrEmptyAggregate)
	assert.Zero(t, buf.Len())
}
