// Package broker adapts the Tinkoff Invest API to the operations the trading loop needs:
// bracket submission, order state, account equity and positions, market snapshots and hours.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"

	"github.com/camuig/hype-trader/internal/config"
	"github.com/camuig/hype-trader/internal/fault"
	"github.com/camuig/hype-trader/internal/logger"
)

const (
	sandboxEndpoint = "sandbox-invest-public-api.tinkoff.ru:443"
	liveEndpoint    = "invest-public-api.tinkoff.ru:443"

	sandboxFunding = 1_000_000
)

type Client struct {
	sdk      *investgo.Client
	sandbox  bool
	timeout  time.Duration
	hours    SessionHours
	lookback int
	logger   *logger.Logger

	mu          sync.RWMutex
	instruments map[string]Instrument // ticker -> instrument
	tickers     map[string]string     // uid -> ticker
}

func NewClient(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Client, error) {
	endpoint := liveEndpoint
	if cfg.IsSandbox() {
		endpoint = sandboxEndpoint
	}

	sdk, err := investgo.NewClient(ctx, investgo.Config{
		EndPoint:  endpoint,
		Token:     cfg.Tinkoff.Token,
		AccountId: cfg.Tinkoff.AccountID,
		AppName:   cfg.Tinkoff.AppName,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create investgo client: %w", err)
	}

	hours, err := NewSessionHours(cfg.Location(), cfg.Scheduler.SessionOpen, cfg.Scheduler.SessionClose)
	if err != nil {
		return nil, err
	}

	c := &Client{
		sdk:         sdk,
		sandbox:     cfg.IsSandbox(),
		timeout:     cfg.BrokerTimeout(),
		hours:       hours,
		lookback:    cfg.Market.LookbackDays,
		logger:      log.Component("broker"),
		instruments: make(map[string]Instrument),
		tickers:     make(map[string]string),
	}

	if c.sandbox && cfg.Tinkoff.AccountID == "" {
		if err := c.setupSandbox(); err != nil {
			return nil, fmt.Errorf("setup sandbox: %w", err)
		}
	}
	if c.AccountID() == "" {
		return nil, errors.New("tinkoff.account_id is required outside the sandbox")
	}

	return c, nil
}

func (c *Client) setupSandbox() error {
	sandbox := c.sdk.NewSandboxServiceClient()

	acc, err := sandbox.OpenSandboxAccount()
	if err != nil {
		return fmt.Errorf("open sandbox account: %w", err)
	}
	c.sdk.Config.AccountId = acc.GetAccountId()

	_, err = sandbox.SandboxPayIn(&investgo.SandboxPayInRequest{
		AccountId: c.sdk.Config.AccountId,
		Currency:  "RUB",
		Unit:      sandboxFunding,
		Nano:      0,
	})
	if err != nil {
		return fmt.Errorf("sandbox pay in: %w", err)
	}

	c.logger.Info("sandbox account funded", "account_id", c.sdk.Config.AccountId, "rub", sandboxFunding)
	return nil
}

func (c *Client) AccountID() string {
	return c.sdk.Config.AccountId
}

func (c *Client) Sandbox() bool {
	return c.sandbox
}

func (c *Client) Stop() error {
	return c.sdk.Stop()
}

// call runs a blocking SDK request under the broker timeout and classifies its failure.
func call[T any](ctx context.Context, c *Client, op string, fn func() (T, error)) (T, error) {
	v, err := fault.WithTimeout(ctx, c.timeout, op, fn)
	if err == nil {
		return v, nil
	}
	if fault.IsTransient(err) || fault.IsPermanent(err) {
		return v, err
	}
	return v, fault.FromGRPC(op, err)
}
