// Package structure 实现基于 pivot 的市场结构识别：
// swing 高低点 -> HH/HL/LH/LL 结构点 -> 趋势投票 -> BOS/CHoCH 判定。
// 纯函数，无 I/O，除配置外不依赖跨调用状态。
package structure

import (
	"sort"

	"github.com/liliangjiep/nofv/internal/market"
)

// Trend 取值。
const (
	TrendUp    = "up"
	TrendDown  = "down"
	TrendRange = "range"
)

// Break 取值（last_break）。
const (
	BreakNone      = "none"
	BreakBOSUp     = "bos_up"
	BreakBOSDown   = "bos_down"
	BreakCHoCHUp   = "choch_up"
	BreakCHoCHDown = "choch_down"
)

// 无效结果 reason。
const (
	ReasonNotEnoughRows        = "not_enough_rows"
	ReasonNotEnoughPivotsRaw   = "not_enough_pivots_raw"
	ReasonNotEnoughPivotsClean = "not_enough_pivots_clean"
)

// pivot 类型标签。
const (
	pivotHigh = "H"
	pivotLow  = "L"
)

// Pivot 一个窗口内的局部极值。
type Pivot struct {
	Type  string  `json:"type"` // "H" / "L"
	Index int     `json:"index"`
	Price float64 `json:"price"`
}

// Point 带方向标签的结构点。
type Point struct {
	Type  string  `json:"type"` // "H" / "L"
	Tag   string  `json:"tag"`  // HH / HL / LH / LL
	Price float64 `json:"price"`
	Index int     `json:"index"`
}

// Meta 分析过程回显，便于监控与排障。
type Meta struct {
	SwingSize         int `json:"swing_size"`
	KeepPivots        int `json:"keep_pivots"`
	TrendVoteLookback int `json:"trend_vote_lookback"`
	RangePivotK       int `json:"range_pivot_k"`
	PivotsFound       int `json:"pivots_found"`
	PivotsUsed        int `json:"pivots_used"`
	RowsUsed          int `json:"rows_used"`
}

// Snapshot 一次结构分析的完整输出；每根新K线全量重算、整体替换。
type Snapshot struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	Need   int    `json:"need,omitempty"`
	Have   int    `json:"have,omitempty"`

	Trend string `json:"trend,omitempty"` // up / down / range
	Bias  int    `json:"bias"`            // +1 / 0 / -1

	RangeHigh float64 `json:"range_high,omitempty"`
	RangeLow  float64 `json:"range_low,omitempty"`

	SwingHigh float64 `json:"swing_high,omitempty"`
	SwingLow  float64 `json:"swing_low,omitempty"`

	LastHL float64 `json:"last_hl,omitempty"`
	LastLH float64 `json:"last_lh,omitempty"`
	LastHH float64 `json:"last_hh,omitempty"`
	LastLL float64 `json:"last_ll,omitempty"`

	LastBreak string  `json:"last_break,omitempty"`
	Points    []Point `json:"structure_points,omitempty"`
	Meta      Meta    `json:"meta"`
}

// Analyzer 结构识别参数。零值不可用，用 NewAnalyzer 获得带默认值的实例。
type Analyzer struct {
	SwingSize         int
	KeepPivots        int
	TrendVoteLookback int
	RangePivotK       int
}

func NewAnalyzer(swingSize, keepPivots, trendVoteLookback, rangePivotK int) Analyzer {
	if swingSize <= 0 {
		swingSize = 10
	}
	if keepPivots <= 0 {
		keepPivots = 12
	}
	if trendVoteLookback <= 0 {
		trendVoteLookback = 3
	}
	if rangePivotK <= 0 {
		rangePivotK = 3
	}
	return Analyzer{
		SwingSize:         swingSize,
		KeepPivots:        keepPivots,
		TrendVoteLookback: trendVoteLookback,
		RangePivotK:       rangePivotK,
	}
}

// Analyze 对一段按时间递增的K线序列产出结构快照。
func (a Analyzer) Analyze(candles []market.Candle) Snapshot {
	minLen := a.SwingSize*2 + 1
	if len(candles) < minLen {
		return Snapshot{Valid: false, Reason: ReasonNotEnoughRows, Need: minLen, Have: len(candles)}
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
	}

	var raw []Pivot
	for i := range candles {
		if a.isPivotHigh(highs, i) {
			raw = append(raw, Pivot{Type: pivotHigh, Index: i, Price: highs[i]})
		}
		if a.isPivotLow(lows, i) {
			raw = append(raw, Pivot{Type: pivotLow, Index: i, Price: lows[i]})
		}
	}
	if len(raw) < 4 {
		return Snapshot{
			Valid:  false,
			Reason: ReasonNotEnoughPivotsRaw,
			Meta:   a.meta(len(raw), 0, len(candles)),
		}
	}

	pivots := resolveSameIndexConflict(raw)
	sort.Slice(pivots, func(i, j int) bool { return pivots[i].Index < pivots[j].Index })
	pivots = dedupeConsecutiveSameType(pivots)
	if len(pivots) < 4 {
		return Snapshot{
			Valid:  false,
			Reason: ReasonNotEnoughPivotsClean,
			Meta:   a.meta(len(raw), len(pivots), len(candles)),
		}
	}
	if len(pivots) > a.KeepPivots {
		pivots = pivots[len(pivots)-a.KeepPivots:]
	}

	points := tagStructure(pivots)
	trend := a.classifyTrend(points)
	rangeHigh, rangeLow := a.rangeBounds(points)

	lastClose := candles[len(candles)-1].Close
	lastSwingHigh := lastPoint(points, pivotHigh, "")
	lastSwingLow := lastPoint(points, pivotLow, "")
	lastHL := lastPoint(points, pivotLow, "HL")
	lastLH := lastPoint(points, pivotHigh, "LH")
	lastHH := lastPoint(points, pivotHigh, "HH")
	lastLL := lastPoint(points, pivotLow, "LL")

	lastBreak := BreakNone
	switch trend {
	case TrendUp:
		// CHoCH 优先于 BOS：跌破最后 HL 先于突破最近 HH 判定
		if lastHL != nil && lastClose < lastHL.Price {
			lastBreak = BreakCHoCHDown
		} else if lastHH != nil && lastClose > lastHH.Price {
			lastBreak = BreakBOSUp
		}
	case TrendDown:
		if lastLH != nil && lastClose > lastLH.Price {
			lastBreak = BreakCHoCHUp
		} else if lastLL != nil && lastClose < lastLL.Price {
			lastBreak = BreakBOSDown
		}
	default:
		if rangeHigh > 0 && lastClose > rangeHigh {
			lastBreak = BreakBOSUp
		} else if rangeLow > 0 && lastClose < rangeLow {
			lastBreak = BreakBOSDown
		}
	}

	bias := 0
	if trend == TrendUp {
		bias = 1
	} else if trend == TrendDown {
		bias = -1
	}

	snap := Snapshot{
		Valid:     true,
		Trend:     trend,
		Bias:      bias,
		RangeHigh: rangeHigh,
		RangeLow:  rangeLow,
		LastBreak: lastBreak,
		Points:    tailPoints(points, 6),
		Meta:      a.meta(len(raw), len(pivots), len(candles)),
	}
	if lastSwingHigh != nil {
		snap.SwingHigh = lastSwingHigh.Price
	}
	if lastSwingLow != nil {
		snap.SwingLow = lastSwingLow.Price
	}
	if lastHL != nil {
		snap.LastHL = lastHL.Price
	}
	if lastLH != nil {
		snap.LastLH = lastLH.Price
	}
	if lastHH != nil {
		snap.LastHH = lastHH.Price
	}
	if lastLL != nil {
		snap.LastLL = lastLL.Price
	}
	return snap
}

func (a Analyzer) meta(found, used, rows int) Meta {
	return Meta{
		SwingSize:         a.SwingSize,
		KeepPivots:        a.KeepPivots,
		TrendVoteLookback: a.TrendVoteLookback,
		RangePivotK:       a.RangePivotK,
		PivotsFound:       found,
		PivotsUsed:        used,
		RowsUsed:          rows,
	}
}

// isPivotHigh 允许同价，但只认窗口内最靠右的最大值，避免同价双顶重复计点。
func (a Analyzer) isPivotHigh(highs []float64, idx int) bool {
	s := a.SwingSize
	if idx < s || idx+s >= len(highs) {
		return false
	}
	h := highs[idx]
	maxVal := h
	lastPos := -1
	for i := idx - s; i <= idx+s; i++ {
		if highs[i] > maxVal {
			maxVal = highs[i]
		}
	}
	if h != maxVal {
		return false
	}
	for i := idx - s; i <= idx+s; i++ {
		if highs[i] == maxVal {
			lastPos = i
		}
	}
	return lastPos == idx
}

func (a Analyzer) isPivotLow(lows []float64, idx int) bool {
	s := a.SwingSize
	if idx < s || idx+s >= len(lows) {
		return false
	}
	l := lows[idx]
	minVal := l
	lastPos := -1
	for i := idx - s; i <= idx+s; i++ {
		if lows[i] < minVal {
			minVal = lows[i]
		}
	}
	if l != minVal {
		return false
	}
	for i := idx - s; i <= idx+s; i++ {
		if lows[i] == minVal {
			lastPos = i
		}
	}
	return lastPos == idx
}

// resolveSameIndexConflict 同一根K线同时被标为 H 和 L 时只保留 H。
// 保留 H 是沿用既有策略的取舍，不是正确性要求。
func resolveSameIndexConflict(pivots []Pivot) []Pivot {
	byIdx := make(map[int][]Pivot)
	order := make([]int, 0, len(pivots))
	for _, p := range pivots {
		if _, ok := byIdx[p.Index]; !ok {
			order = append(order, p.Index)
		}
		byIdx[p.Index] = append(byIdx[p.Index], p)
	}
	out := make([]Pivot, 0, len(order))
	for _, idx := range order {
		ps := byIdx[idx]
		if len(ps) == 1 {
			out = append(out, ps[0])
			continue
		}
		pick := ps[0]
		for _, p := range ps {
			if p.Type == pivotHigh {
				pick = p
				break
			}
		}
		out = append(out, pick)
	}
	return out
}

// dedupeConsecutiveSameType 连续同类型 pivot 只保留更极端的那个。
func dedupeConsecutiveSameType(pivots []Pivot) []Pivot {
	if len(pivots) == 0 {
		return pivots
	}
	out := []Pivot{pivots[0]}
	for _, p := range pivots[1:] {
		last := &out[len(out)-1]
		if p.Type != last.Type {
			out = append(out, p)
			continue
		}
		if p.Type == pivotHigh {
			if p.Price > last.Price {
				*last = p
			}
		} else {
			if p.Price < last.Price {
				*last = p
			}
		}
	}
	return out
}

// tagStructure 按顺序标注 HH/HL/LH/LL。同价与上一个同类 pivot 比较时取 >= 归入
// "更高" 一侧，与既有实现保持一致。
func tagStructure(pivots []Pivot) []Point {
	var lastHigh, lastLow *float64
	points := make([]Point, 0, len(pivots))
	for _, p := range pivots {
		var tag string
		if p.Type == pivotHigh {
			if lastHigh == nil || p.Price >= *lastHigh {
				tag = "HH"
			} else {
				tag = "LH"
			}
			v := p.Price
			lastHigh = &v
		} else {
			if lastLow == nil || p.Price >= *lastLow {
				tag = "HL"
			} else {
				tag = "LL"
			}
			v := p.Price
			lastLow = &v
		}
		points = append(points, Point{Type: p.Type, Tag: tag, Price: p.Price, Index: p.Index})
	}
	return points
}

// classifyTrend 用最近 N 次高/低点变化投票，quorum 且严格多数才认方向。
func (a Analyzer) classifyTrend(points []Point) string {
	var highs, lows []float64
	for _, p := range points {
		if p.Type == pivotHigh {
			highs = append(highs, p.Price)
		} else {
			lows = append(lows, p.Price)
		}
	}
	n := a.TrendVoteLookback
	if len(highs) < n+1 || len(lows) < n+1 {
		return TrendRange
	}

	upVotes, downVotes := 0, 0
	for i := len(highs) - n; i < len(highs); i++ {
		if highs[i] > highs[i-1] {
			upVotes++
		} else if highs[i] < highs[i-1] {
			downVotes++
		}
	}
	for i := len(lows) - n; i < len(lows); i++ {
		if lows[i] > lows[i-1] {
			upVotes++
		} else if lows[i] < lows[i-1] {
			downVotes++
		}
	}

	if upVotes >= 3 && upVotes > downVotes {
		return TrendUp
	}
	if downVotes >= 3 && downVotes > upVotes {
		return TrendDown
	}
	return TrendRange
}

// rangeBounds 用最近 K 个同类 pivot 的极值作为箱体上下沿。
func (a Analyzer) rangeBounds(points []Point) (rangeHigh, rangeLow float64) {
	var highs, lows []float64
	for _, p := range points {
		if p.Type == pivotHigh {
			highs = append(highs, p.Price)
		} else {
			lows = append(lows, p.Price)
		}
	}
	k := a.RangePivotK
	if len(highs) > 0 {
		if len(highs) >= k {
			rangeHigh = highs[len(highs)-k]
			for _, v := range highs[len(highs)-k:] {
				if v > rangeHigh {
					rangeHigh = v
				}
			}
		} else {
			rangeHigh = highs[len(highs)-1]
		}
	}
	if len(lows) > 0 {
		if len(lows) >= k {
			rangeLow = lows[len(lows)-k]
			for _, v := range lows[len(lows)-k:] {
				if v < rangeLow {
					rangeLow = v
				}
			}
		} else {
			rangeLow = lows[len(lows)-1]
		}
	}
	return rangeHigh, rangeLow
}

func lastPoint(points []Point, ptype, tag string) *Point {
	for i := len(points) - 1; i >= 0; i-- {
		p := points[i]
		if p.Type != ptype {
			continue
		}
		if tag == "" || p.Tag == tag {
			return &p
		}
	}
	return nil
}

func tailPoints(points []Point, n int) []Point {
	if len(points) <= n {
		return points
	}
	return points[len(points)-n:]
}
