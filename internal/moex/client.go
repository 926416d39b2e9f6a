package moex

import (
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/camuig/hype-trader/internal/config"
	"github.com/camuig/hype-trader/internal/logger"
)

// Client reads public MOEX ISS endpoints.
type Client struct {
	http   *resty.Client
	cfg    config.NewsConfig
	loc    *time.Location
	logger *logger.Logger
}

func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.News.BaseURL).
		SetTimeout(cfg.NewsTimeout()).
		SetRetryCount(cfg.News.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(isRetryableResp)

	return &Client{
		http:   httpClient,
		cfg:    cfg.News,
		loc:    cfg.Location(),
		logger: log.Component("moex"),
	}
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	return code == 429 || code == 408
}
