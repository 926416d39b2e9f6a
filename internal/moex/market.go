package moex

import (
	"context"
	"fmt"
	"strconv"

	"github.com/camuig/hype-trader/internal/fault"
)

const topTickersPath = "/iss/engines/stock/markets/shares/boards/TQBR/securities.json"

type issMarketResponse struct {
	Marketdata issTable `json:"marketdata"`
}

// FetchTopTickers returns the most traded TQBR shares by turnover, skipping suspended ones.
func (c *Client) FetchTopTickers(ctx context.Context, limit int) ([]MarketTicker, error) {
	var iss issMarketResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"iss.meta":           "off",
			"iss.only":           "marketdata",
			"marketdata.columns": "SECID,VALTODAY,LAST",
			"sort_column":        "VALTODAY",
			"sort_order":         "desc",
		}).
		SetResult(&iss).
		Get(topTickersPath)
	if err != nil {
		return nil, fault.Transient("fetch top tickers", err)
	}
	if resp.IsError() {
		return nil, fault.FromHTTPStatus("fetch top tickers", resp.StatusCode(),
			fmt.Errorf("MOEX ISS returned status %d", resp.StatusCode()))
	}

	secIdx, valIdx, lastIdx := iss.Marketdata.index("SECID"), iss.Marketdata.index("VALTODAY"), iss.Marketdata.index("LAST")
	if secIdx < 0 || valIdx < 0 || lastIdx < 0 {
		return nil, fmt.Errorf("unexpected marketdata columns: %v", iss.Marketdata.Columns)
	}

	var result []MarketTicker
	for _, row := range iss.Marketdata.Data {
		if len(row) <= secIdx || len(row) <= valIdx || len(row) <= lastIdx {
			continue
		}

		ticker, _ := row[secIdx].(string)
		if ticker == "" {
			continue
		}

		lastPrice := toFloat64(row[lastIdx])
		if lastPrice == 0 {
			continue // suspended
		}

		result = append(result, MarketTicker{
			Ticker:    ticker,
			ValToday:  toFloat64(row[valIdx]),
			LastPrice: lastPrice,
		})

		if len(result) >= limit {
			break
		}
	}

	return result, nil
}

// Universe merges the configured instruments with the top turnover tickers, keeping order and dropping duplicates.
func Universe(configured []string, top []MarketTicker) []string {
	seen := make(map[string]bool, len(configured)+len(top))
	out := make([]string, 0, len(configured)+len(top))
	for _, s := range configured {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, t := range top {
		if !seen[t.Ticker] {
			seen[t.Ticker] = true
			out = append(out, t.Ticker)
		}
	}
	return out
}

func pageParam(page, size int) string {
	return strconv.Itoa(page * size)
}
