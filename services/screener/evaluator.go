package screener

import "fmt"

// Criteria holds the two tunable parameters of a screening run. The volume
// floor is expressed in raw shares here; callers whose users think in TWSE
// board lots must multiply by the configured lot size before building a
// Criteria.
type Criteria struct {
	ConvergenceThresholdPercent float64 `json:"convergence_threshold_percent"`
	VolumeFloorShares           int64   `json:"volume_floor_shares"`
}

// Validate checks the criteria bounds before a run.
func (c Criteria) Validate() error {
	if c.ConvergenceThresholdPercent <= 0 || c.ConvergenceThresholdPercent > 100 {
		return fmt.Errorf("convergence threshold must be in (0, 100], got %.2f", c.ConvergenceThresholdPercent)
	}
	if c.VolumeFloorShares <= 0 {
		return fmt.Errorf("volume floor must be positive, got %d", c.VolumeFloorShares)
	}
	return nil
}

// Evaluation is the result of applying the three screen conditions to the
// last two indicator rows of a symbol. Gap is the convergence width of the
// previous row as a fraction (0.025 = 2.5%), reported whenever it is
// computable even if another condition already failed.
type Evaluation struct {
	Match         bool
	Gap           float64
	VolumeOK      bool
	AlignmentOK   bool
	ConvergenceOK bool
}

// Evaluate applies the alignment + convergence screen to the most recent
// two indicator rows. All three conditions must hold:
//
//  1. volume floor: curr 5-day average volume >= the floor in shares
//  2. bullish alignment: strictly MA5 > MA10 > MA20 > MA60 on curr
//  3. convergence: the spread of prev MA5/MA10/MA20 relative to their
//     minimum is within the threshold; MA60 deliberately stays out, it
//     only serves as the long-term direction filter in condition 2
//
// Convergence is read one row before the alignment is confirmed, which is
// intentional: the averages should have been tangled the day before the
// breakout day. Rows with any required average still invalid never match
// and never panic.
func Evaluate(curr, prev IndicatorRow, c Criteria) Evaluation {
	var ev Evaluation

	if !curr.MA5.Valid || !curr.MA10.Valid || !curr.MA20.Valid || !curr.MA60.Valid || !curr.VolMA5.Valid {
		return ev
	}
	if !prev.MA5.Valid || !prev.MA10.Valid || !prev.MA20.Valid {
		return ev
	}

	ev.VolumeOK = curr.VolMA5.Value >= float64(c.VolumeFloorShares)

	ev.AlignmentOK = curr.MA5.Value > curr.MA10.Value &&
		curr.MA10.Value > curr.MA20.Value &&
		curr.MA20.Value > curr.MA60.Value

	hi := max(prev.MA5.Value, prev.MA10.Value, prev.MA20.Value)
	lo := min(prev.MA5.Value, prev.MA10.Value, prev.MA20.Value)
	if lo <= 0 {
		// Division would be meaningless; treat as not converged.
		return ev
	}
	ev.Gap = (hi - lo) / lo
	ev.ConvergenceOK = ev.Gap <= c.ConvergenceThresholdPercent/100

	ev.Match = ev.VolumeOK && ev.AlignmentOK && ev.ConvergenceOK
	return ev
}
