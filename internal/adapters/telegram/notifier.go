package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"poseidon/internal/domain/rebalance"
	"poseidon/pkg/errors"
	"poseidon/pkg/logger"
)

// Notifier pushes rebalancer lifecycle events to operator chats. Implements
// rebalancer.Notifier.
type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatIDs []int64
	log     *logger.Logger
}

// NewNotifier creates a notifier for the given bot token and admin chats.
func NewNotifier(botToken string, chatIDs []int64) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}

	return &Notifier{
		bot:     bot,
		chatIDs: chatIDs,
		log:     logger.Get().With("component", "telegram_notifier"),
	}, nil
}

// NotifyEvent formats and sends one lifecycle event to every admin chat.
func (n *Notifier) NotifyEvent(ctx context.Context, event *rebalance.Event) error {
	text := formatEvent(event)

	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeHTML

		if _, err := n.bot.Send(msg); err != nil {
			n.log.Errorw("Failed to send notification", "chat_id", chatID, "error", err)
			return errors.Wrapf(err, "telegram send to %d", chatID)
		}
	}

	return nil
}

// formatEvent renders an event as an operator-readable message.
func formatEvent(event *rebalance.Event) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s <b>%s</b>\n", severityIcon(event.Severity), event.Type)
	fmt.Fprintf(&b, "Position: <code>%s</code>\n", event.PositionID)

	if event.Type == rebalance.EventRebalanceExecuted {
		fmt.Fprintf(&b, "New position: <code>%s</code>\n", event.NewPositionID)
		fmt.Fprintf(&b, "Side: %s\n", event.Side)
		fmt.Fprintf(&b, "Range: %s - %s\n",
			formatAmount(event.LowerPrice), formatAmount(event.UpperPrice))
		if event.BaseAmount.IsPositive() {
			fmt.Fprintf(&b, "Base funded: %s\n", formatAmount(event.BaseAmount))
		}
		if event.QuoteAmount.IsPositive() {
			fmt.Fprintf(&b, "Quote funded: %s\n", formatAmount(event.QuoteAmount))
		}
	}

	if event.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", event.Reason)
	}

	return b.String()
}

// formatAmount renders a decimal with thousand separators for readability.
func formatAmount(d decimal.Decimal) string {
	f, _ := d.Float64()
	return humanize.CommafWithDigits(f, 6)
}

func severityIcon(severity rebalance.Severity) string {
	switch severity {
	case rebalance.SeverityCritical:
		return "\U0001F6A8" // rotating light
	case rebalance.SeverityWarning:
		return "⚠️" // warning sign
	default:
		return "ℹ️" // information
	}
}
