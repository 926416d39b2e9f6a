package ai

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/camuig/hype-trader/internal/config"
	"github.com/camuig/hype-trader/internal/fault"
	"github.com/camuig/hype-trader/internal/logger"
	"github.com/camuig/hype-trader/internal/signal"
)

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client asks an OpenAI compatible model for a per-instrument sentiment signal.
// It returns the raw answer; validation happens in the signal package.
type Client struct {
	chat    chatCompleter
	limiter *rate.Limiter
	model   string
	temp    float32
	cfg     *config.Config
	logger  *logger.Logger
}

func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	ocfg := openai.DefaultConfig(cfg.LLM.APIKey)
	ocfg.BaseURL = cfg.LLM.BaseURL

	return newClient(openai.NewClientWithConfig(ocfg), cfg, log)
}

func newClient(chat chatCompleter, cfg *config.Config, log *logger.Logger) *Client {
	return &Client{
		chat:    chat,
		limiter: rate.NewLimiter(rate.Limit(cfg.LLM.RequestsPerMinute/60.0), cfg.LLM.Burst),
		model:   cfg.LLM.Model,
		temp:    cfg.LLM.Temperature,
		cfg:     cfg,
		logger:  log.Component("ai"),
	}
}

func (c *Client) Fetch(ctx context.Context, req signal.Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fault.Transient("llm rate limit", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.LLMTimeout())
	defer cancel()

	c.logger.Debug("requesting signal", "symbol", req.Symbol, "headlines", len(req.Headlines))

	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temp,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildUserPrompt(req)},
		},
	})
	if err != nil {
		return "", classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", fault.Transient("llm chat completion", errors.New("no choices returned"))
	}

	raw := resp.Choices[0].Message.Content
	c.logger.Debug("signal received", "symbol", req.Symbol, "length", len(raw))
	return raw, nil
}

func classify(err error) error {
	const op = "llm chat completion"

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fault.FromHTTPStatus(op, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fault.FromHTTPStatus(op, reqErr.HTTPStatusCode, err)
	}
	return fault.Transient(op, err)
}
