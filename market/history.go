package market

import (
	"math"
	"time"
)

// Bar is one daily candle of the underlying or the volatility index.
type Bar struct {
	Date  time.Time
	Close float64
	High  float64
	Low   float64
}

// Series is an ordered daily price history, oldest first.
type Series []Bar

// Empty reports whether the series has no bars.
func (s Series) Empty() bool { return len(s) == 0 }

// LastClose returns the most recent close, or 0 for an empty series.
func (s Series) LastClose() float64 {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1].Close
}

// Closes returns the close column.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// LogReturns returns ln(close_t / close_t-1) for consecutive bars.
// Pairs with a non-positive price are skipped.
func (s Series) LogReturns() []float64 {
	if len(s) < 2 {
		return nil
	}
	out := make([]float64, 0, len(s)-1)
	for i := 1; i < len(s); i++ {
		prev, cur := s[i-1].Close, s[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// PctChanges returns simple daily returns (close_t/close_t-1 - 1).
func (s Series) PctChanges() []float64 {
	if len(s) < 2 {
		return nil
	}
	out := make([]float64, 0, len(s)-1)
	for i := 1; i < len(s); i++ {
		prev := s[i-1].Close
		if prev == 0 {
			continue
		}
		out = append(out, s[i].Close/prev-1)
	}
	return out
}

// tail returns the trailing n elements of xs (all of xs when n exceeds its length).
func tail(xs []float64, n int) []float64 {
	if n <= 0 || len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}
