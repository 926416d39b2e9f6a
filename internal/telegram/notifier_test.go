package telegram

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/hype-trader/internal/config"
	"github.com/camuig/hype-trader/internal/logger"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, f.err
}

func TestDisabledNotifierDropsMessages(t *testing.T) {
	n := NewNotifier(&config.Config{}, logger.Discard())
	assert.NotPanics(t, func() {
		n.NotifyStatus("started")
		n.NotifyKillSwitch(0.061, 100_000, 93_900)
	})
}

func TestNotifierFormatsMessages(t *testing.T) {
	fake := &fakeSender{}
	n := &Notifier{bot: fake, chatID: 42, enabled: true, logger: logger.Discard()}

	n.NotifyFill("SBER", "long", 187, decimal.RequireFromString("100.1"), decimal.NewFromInt(96), decimal.NewFromInt(108))
	n.NotifyKillSwitch(0.061, 100_000, 93_900)
	n.NotifyFailure("GAZP", "op-1", errors.New("insufficient funds"))

	require.Len(t, fake.sent, 3)
	assert.Equal(t, int64(42), fake.sent[0].ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdown, fake.sent[0].ParseMode)
	assert.Contains(t, fake.sent[0].Text, "SBER")
	assert.Contains(t, fake.sent[0].Text, "100.10")
	assert.Contains(t, fake.sent[1].Text, "6.10%")
	assert.Contains(t, fake.sent[2].Text, "insufficient funds")
}

func TestNotifierSurvivesSendError(t *testing.T) {
	n := &Notifier{bot: &fakeSender{err: errors.New("network")}, chatID: 1, enabled: true, logger: logger.Discard()}
	assert.NotPanics(t, func() { n.NotifyStatus("hello") })
}
