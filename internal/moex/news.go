package moex

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/camuig/hype-trader/internal/fault"
)

const (
	newsPath     = "/iss/sitenews.json"
	newsPageSize = 50
)

// tickerToNames maps tickers to Russian company names for news matching.
var tickerToNames = map[string][]string{
	"SBER": {"Сбербанк", "Сбер"},
	"GAZP": {"Газпром"},
	"LKOH": {"Лукойл", "ЛУКОЙЛ"},
	"GMKN": {"Норникель", "Норильский никель"},
	"NVTK": {"Новатэк", "НОВАТЭК"},
	"ROSN": {"Роснефть"},
	"YDEX": {"Яндекс"},
	"T":    {"Т-Банк", "Т-Технологии", "Тинькофф"},
	"MTSS": {"МТС"},
	"MGNT": {"Магнит"},
	"PLZL": {"Полюс"},
	"CHMF": {"Северсталь"},
	"ALRS": {"Алроса", "АЛРОСА"},
	"SNGS": {"Сургутнефтегаз"},
	"VTBR": {"ВТБ"},
	"MOEX": {"Мосбиржа", "Московская биржа"},
	"TATN": {"Татнефть"},
	"NLMK": {"НЛМК"},
	"PHOR": {"ФосАгро"},
	"IRAO": {"Интер РАО"},
}

type issNewsResponse struct {
	SiteNews issTable `json:"sitenews"`
}

// FetchRecentNews pages through ISS site news until items get older than the lookback window.
func (c *Client) FetchRecentNews(ctx context.Context, now time.Time) ([]NewsItem, error) {
	var allNews []NewsItem
	cutoff := now.Add(-time.Duration(c.cfg.LookbackHours) * time.Hour)

	for page := 0; page < c.cfg.MaxPages; page++ {
		var iss issNewsResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"lang":     "ru",
				"iss.meta": "off",
				"start":    pageParam(page, newsPageSize),
			}).
			SetResult(&iss).
			Get(newsPath)
		if err != nil {
			return nil, fault.Transient("fetch news", fmt.Errorf("page %d: %w", page, err))
		}
		if resp.IsError() {
			return nil, fault.FromHTTPStatus("fetch news", resp.StatusCode(),
				fmt.Errorf("MOEX news returned status %d", resp.StatusCode()))
		}

		idIdx, titleIdx, pubIdx := iss.SiteNews.index("id"), iss.SiteNews.index("title"), iss.SiteNews.index("published_at")
		if idIdx < 0 || titleIdx < 0 || pubIdx < 0 {
			return nil, fmt.Errorf("unexpected news columns: %v", iss.SiteNews.Columns)
		}

		stoppedEarly := false
		for _, row := range iss.SiteNews.Data {
			if len(row) <= pubIdx || len(row) <= titleIdx || len(row) <= idIdx {
				continue
			}

			pubStr, _ := row[pubIdx].(string)
			published, err := time.ParseInLocation("2006-01-02 15:04:05", pubStr, c.loc)
			if err != nil {
				continue
			}

			if published.Before(cutoff) {
				stoppedEarly = true
				break
			}

			title, _ := row[titleIdx].(string)
			allNews = append(allNews, NewsItem{
				ID:        int64(toFloat64(row[idIdx])),
				Title:     title,
				Published: published,
			})
		}

		if stoppedEarly || len(iss.SiteNews.Data) < newsPageSize {
			break
		}
	}

	c.logger.Debug("news fetched", "count", len(allNews))
	return allNews, nil
}

// FilterNewsForTickers returns news items grouped by ticker, matching by ticker symbol or Russian company name in the title.
func FilterNewsForTickers(news []NewsItem, tickers []string) map[string][]NewsItem {
	result := make(map[string][]NewsItem)

	for _, ticker := range tickers {
		searchTerms := []string{strings.ToUpper(ticker)}
		if names, ok := tickerToNames[ticker]; ok {
			searchTerms = append(searchTerms, names...)
		}

		for _, item := range news {
			titleUpper := strings.ToUpper(item.Title)
			for _, term := range searchTerms {
				if containsWord(titleUpper, strings.ToUpper(term)) {
					result[ticker] = append(result[ticker], item)
					break
				}
			}
		}
	}

	return result
}

// Headlines returns up to limit newest titles per ticker.
func Headlines(grouped map[string][]NewsItem, ticker string, limit int) []string {
	items := append([]NewsItem(nil), grouped[ticker]...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Published.After(items[j].Published) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Title)
	}
	return out
}

// containsWord matches term at a word start. Very short terms such as the "T" ticker
// must also end at a word boundary; longer names may carry Russian case endings.
func containsWord(text, term string) bool {
	strictEnd := utf8.RuneCountInString(term) <= 2
	for start := 0; ; {
		i := strings.Index(text[start:], term)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(term)
		if boundary(text, i-1) && (!strictEnd || boundary(text, end)) {
			return true
		}
		start = i + 1
	}
}

func boundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	return strings.IndexByte(" \t\n,.;:!?«»\"'()-/", text[i]) >= 0
}
