package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/camuig/hype-trader/internal/config"
	"github.com/camuig/hype-trader/internal/logger"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts trading events to a Telegram chat. A disabled notifier drops every message.
type Notifier struct {
	bot     sender
	chatID  int64
	enabled bool
	logger  *logger.Logger
}

func NewNotifier(cfg *config.Config, log *logger.Logger) *Notifier {
	log = log.Component("telegram")
	if !cfg.Telegram.Enabled {
		return &Notifier{enabled: false, logger: log}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Error("failed to create telegram bot", "error", err)
		return &Notifier{enabled: false, logger: log}
	}

	log.Info("telegram bot connected", "username", bot.Self.UserName)

	return &Notifier{
		bot:     bot,
		chatID:  cfg.Telegram.ChatID,
		enabled: true,
		logger:  log,
	}
}

func (n *Notifier) NotifyFill(symbol, side string, qty int64, price, stop, target decimal.Decimal) {
	emoji := "🟢"
	if side == "short" {
		emoji = "🔻"
	}
	msg := fmt.Sprintf("%s *%s* %s\nЦена: %s ₽\nКол-во: %d\nSL: %s\nTP: %s",
		emoji, side, symbol, price.StringFixed(2), qty, stop.StringFixed(2), target.StringFixed(2))
	n.send(msg)
}

func (n *Notifier) NotifyFailure(symbol, opID string, err error) {
	msg := fmt.Sprintf("⛔️ *Заявка отклонена* %s\nop: `%s`\n%v", symbol, opID, err)
	n.send(msg)
}

func (n *Notifier) NotifyKillSwitch(drawdown, peak, equity float64) {
	msg := fmt.Sprintf("🛑 *Kill switch*\nПросадка: %.2f%%\nПик: %.2f ₽\nКапитал: %.2f ₽\nНовые позиции остановлены до ручного сброса",
		drawdown*100, peak, equity)
	n.send(msg)
}

func (n *Notifier) NotifyManualReview(symbol, opID, note string) {
	msg := fmt.Sprintf("🔎 *Требуется сверка* %s\nop: `%s`\n%s", symbol, opID, note)
	n.send(msg)
}

func (n *Notifier) NotifyError(context string, err error) {
	msg := fmt.Sprintf("⚠️ *Ошибка* [%s]\n%v", context, err)
	n.send(msg)
}

func (n *Notifier) NotifyStatus(message string) {
	n.send(message)
}

func (n *Notifier) send(text string) {
	if !n.enabled {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("send telegram message", "error", err)
	}
}
