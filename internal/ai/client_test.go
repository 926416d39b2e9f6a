package ai

import (
	"context"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/hype-trader/internal/config"
	"github.com/camuig/hype-trader/internal/fault"
	"github.com/camuig/hype-trader/internal/logger"
	"github.com/camuig/hype-trader/internal/signal"
)

type fakeChat struct {
	resp openai.ChatCompletionResponse
	err  error
	reqs []openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

func testConfig() *config.Config {
	return &config.Config{LLM: config.LLMConfig{
		Model:             "deepseek-chat",
		TimeoutSeconds:    5,
		RequestsPerMinute: 6000,
		Burst:             10,
	}}
}

func TestFetchReturnsRawAnswer(t *testing.T) {
	chat := &fakeChat{resp: openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Content: `{"symbol":"SBER"}`}},
	}}}
	c := newClient(chat, testConfig(), logger.Discard())

	raw, err := c.Fetch(context.Background(), signal.Request{
		Symbol:    "SBER",
		Headlines: []string{"Сбербанк отчитался о рекордной прибыли"},
		AsOf:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"symbol":"SBER"}`, raw)

	require.Len(t, chat.reqs, 1)
	req := chat.reqs[0]
	assert.Equal(t, "deepseek-chat", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[1].Content, "Symbol: SBER")
	assert.Contains(t, req.Messages[1].Content, "Сбербанк отчитался о рекордной прибыли")
}

func TestFetchClassifiesErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, true},
		{"server error", &openai.RequestError{HTTPStatusCode: 502}, true},
		{"bad key", &openai.APIError{HTTPStatusCode: 401, Message: "invalid key"}, false},
		{"network", context.DeadlineExceeded, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newClient(&fakeChat{err: tc.err}, testConfig(), logger.Discard())
			_, err := c.Fetch(context.Background(), signal.Request{Symbol: "SBER"})
			require.Error(t, err)
			assert.Equal(t, tc.transient, fault.IsTransient(err))
			assert.Equal(t, !tc.transient, fault.IsPermanent(err))
		})
	}
}

func TestFetchWithoutChoicesIsTransient(t *testing.T) {
	c := newClient(&fakeChat{}, testConfig(), logger.Discard())
	_, err := c.Fetch(context.Background(), signal.Request{Symbol: "SBER"})
	require.Error(t, err)
	assert.True(t, fault.IsTransient(err))
}

func TestBuildUserPromptWithoutHeadlines(t *testing.T) {
	p := BuildUserPrompt(signal.Request{Symbol: "GAZP", Position: -10})
	assert.Contains(t, p, "short 10 shares")
	assert.Contains(t, p, "No relevant headlines found.")
}
