package structure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliangjiep/nofv/internal/market"
)

func candlesFromPath(path []float64) []market.Candle {
	out := make([]market.Candle, len(path))
	for i, p := range path {
		out[i] = market.Candle{
			OpenTime: int64(i) * 60_000,
			Open:     p,
			High:     p,
			Low:      p - 0.5,
			Close:    p,
		}
	}
	return out
}

// 25 根K线的上升阶梯：峰 4/10/16 递增，谷 7/13/19 递增，末端继续拉升。
var ascendingStaircase = []float64{
	100, 101, 102, 103, 104,
	103, 102, 101, 102.5, 103.5,
	105, 104, 103, 102, 103.5,
	104.5, 106, 105, 104, 103,
	104, 105, 106, 107, 108,
}

func TestAnalyzeNotEnoughRows(t *testing.T) {
	a := NewAnalyzer(10, 12, 3, 3)
	for n := 0; n < a.SwingSize*2+1; n++ {
		snap := a.Analyze(candlesFromPath(make([]float64, n)))
		require.False(t, snap.Valid, "len=%d", n)
		assert.Equal(t, ReasonNotEnoughRows, snap.Reason)
		assert.Equal(t, 21, snap.Need)
		assert.Equal(t, n, snap.Have)
	}
}

func TestAnalyzeFlatSeriesHasNoPivots(t *testing.T) {
	a := NewAnalyzer(4, 10, 3, 3)
	path := make([]float64, 30)
	for i := range path {
		path[i] = 100
	}
	snap := a.Analyze(candlesFromPath(path))
	require.False(t, snap.Valid)
	assert.Equal(t, ReasonNotEnoughPivotsRaw, snap.Reason)
	assert.Equal(t, 0, snap.Meta.PivotsFound)
}

func TestPivotPlateauTieBreakRightmost(t *testing.T) {
	a := NewAnalyzer(2, 10, 3, 3)
	highs := []float64{1, 2, 3, 3, 3, 2, 1}
	var hits []int
	for i := range highs {
		if a.isPivotHigh(highs, i) {
			hits = append(hits, i)
		}
	}
	// 平台期只认最靠右的那根
	require.Equal(t, []int{4}, hits)

	lows := []float64{5, 4, 3, 3, 3, 4, 5}
	hits = nil
	for i := range lows {
		if a.isPivotLow(lows, i) {
			hits = append(hits, i)
		}
	}
	require.Equal(t, []int{4}, hits)
}

func TestAnalyzeAscendingStaircase(t *testing.T) {
	a := NewAnalyzer(4, 10, 2, 3)
	snap := a.Analyze(candlesFromPath(ascendingStaircase))
	require.True(t, snap.Valid, "reason=%s", snap.Reason)

	assert.Equal(t, TrendUp, snap.Trend)
	assert.Equal(t, 1, snap.Bias)
	assert.Contains(t, []string{BreakNone, BreakBOSUp}, snap.LastBreak)
	assert.NotEqual(t, BreakCHoCHDown, snap.LastBreak)

	assert.Equal(t, 6, snap.Meta.PivotsUsed)
	assert.Equal(t, 106.0, snap.LastHH)
	assert.Greater(t, snap.SwingLow, 0.0)
	for _, p := range snap.Points {
		assert.Contains(t, []string{"HH", "HL"}, p.Tag)
	}
}

func TestAnalyzeBreakIsSingleValued(t *testing.T) {
	a := NewAnalyzer(4, 10, 2, 3)
	snap := a.Analyze(candlesFromPath(ascendingStaircase))
	require.True(t, snap.Valid)
	assert.Contains(t, []string{
		BreakNone, BreakBOSUp, BreakBOSDown, BreakCHoCHUp, BreakCHoCHDown,
	}, snap.LastBreak)
}

func TestClassifyTrendStrictlyAscendingVotesUp(t *testing.T) {
	a := NewAnalyzer(4, 12, 3, 3)
	var points []Point
	for i := 0; i < 4; i++ {
		points = append(points,
			Point{Type: pivotHigh, Price: 100 + float64(i)},
			Point{Type: pivotLow, Price: 90 + float64(i)},
		)
	}
	assert.Equal(t, TrendUp, a.classifyTrend(points))

	// 严格下降时对称
	points = nil
	for i := 0; i < 4; i++ {
		points = append(points,
			Point{Type: pivotHigh, Price: 100 - float64(i)},
			Point{Type: pivotLow, Price: 90 - float64(i)},
		)
	}
	assert.Equal(t, TrendDown, a.classifyTrend(points))
}

func TestClassifyTrendEqualPricesCastNoVote(t *testing.T) {
	a := NewAnalyzer(4, 12, 3, 3)
	var points []Point
	for i := 0; i < 4; i++ {
		points = append(points,
			Point{Type: pivotHigh, Price: 100},
			Point{Type: pivotLow, Price: 90},
		)
	}
	assert.Equal(t, TrendRange, a.classifyTrend(points))
}

func TestSameIndexConflictKeepsHigh(t *testing.T) {
	pivots := []Pivot{
		{Type: pivotLow, Index: 5, Price: 99},
		{Type: pivotHigh, Index: 5, Price: 101},
		{Type: pivotLow, Index: 9, Price: 98},
	}
	out := resolveSameIndexConflict(pivots)
	require.Len(t, out, 2)
	assert.Equal(t, pivotHigh, out[0].Type)
	assert.Equal(t, 5, out[0].Index)
}

func TestDedupeConsecutiveSameTypeKeepsExtreme(t *testing.T) {
	pivots := []Pivot{
		{Type: pivotHigh, Index: 2, Price: 101},
		{Type: pivotHigh, Index: 6, Price: 103},
		{Type: pivotLow, Index: 9, Price: 97},
		{Type: pivotLow, Index: 12, Price: 95},
		{Type: pivotHigh, Index: 15, Price: 102},
	}
	out := dedupeConsecutiveSameType(pivots)
	require.Len(t, out, 3)
	assert.Equal(t, 103.0, out[0].Price)
	assert.Equal(t, 95.0, out[1].Price)
	assert.Equal(t, 102.0, out[2].Price)
}

func TestTagStructureEqualLowTagsHL(t *testing.T) {
	// 与上一个同类 pivot 同价时取 >= 归入更高一侧
	points := tagStructure([]Pivot{
		{Type: pivotLow, Index: 1, Price: 90},
		{Type: pivotHigh, Index: 4, Price: 100},
		{Type: pivotLow, Index: 7, Price: 90},
		{Type: pivotHigh, Index: 10, Price: 100},
	})
	require.Len(t, points, 4)
	assert.Equal(t, "HL", points[2].Tag)
	assert.Equal(t, "HH", points[3].Tag)
}

func TestAnalyzeKeepPivotsTruncates(t *testing.T) {
	a := NewAnalyzer(4, 4, 2, 3)
	snap := a.Analyze(candlesFromPath(ascendingStaircase))
	require.True(t, snap.Valid)
	assert.Equal(t, 4, snap.Meta.PivotsUsed)
}
