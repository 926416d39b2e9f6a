package market

import (
	"math"
	"time"
)

const ATRPeriod = 14

// Bar is one daily OHLCV candle. Volume is in shares.
type Bar struct {
	Time   time.Time
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// ATR computes Wilder's average true range. It needs period+1 bars so every true range has a previous close.
func ATR(bars []Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period+1 {
		return 0, false
	}

	trueRange := func(i int) float64 {
		prevClose := bars[i-1].Close
		return math.Max(bars[i].High-bars[i].Low,
			math.Max(math.Abs(bars[i].High-prevClose), math.Abs(bars[i].Low-prevClose)))
	}

	var sum float64
	for i := 1; i <= period; i++ {
		sum += trueRange(i)
	}
	atr := sum / float64(period)

	for i := period + 1; i < len(bars); i++ {
		atr = (atr*float64(period-1) + trueRange(i)) / float64(period)
	}
	if atr <= 0 || math.IsNaN(atr) {
		return 0, false
	}
	return atr, true
}

// AverageVolume averages the volume of the last n bars.
func AverageVolume(bars []Bar, n int) float64 {
	if n <= 0 || len(bars) == 0 {
		return 0
	}
	if len(bars) < n {
		n = len(bars)
	}
	var sum float64
	for _, b := range bars[len(bars)-n:] {
		sum += b.Volume
	}
	return sum / float64(n)
}

// SpreadRatio is (ask-bid)/mid.
func SpreadRatio(bid, ask float64) (float64, bool) {
	if bid <= 0 || ask <= 0 || ask < bid {
		return 0, false
	}
	mid := (bid + ask) / 2
	return (ask - bid) / mid, true
}

// TradingDaysUntil counts weekdays after from's date up to and including to's date.
// It returns a negative count when to is before from.
func TradingDaysUntil(from, to time.Time) int {
	from = dateOf(from)
	to = dateOf(to.In(from.Location()))
	if to.Before(from) {
		return -TradingDaysUntil(to, from)
	}

	days := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days++
		}
	}
	return days
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
