package moex

import "time"

type MarketTicker struct {
	Ticker    string
	ValToday  float64 // turnover in RUB for the session
	LastPrice float64
}

type NewsItem struct {
	ID        int64
	Title     string
	Published time.Time
}

// issTable is the columns/data layout every ISS endpoint uses.
type issTable struct {
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
}

func (t issTable) index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
