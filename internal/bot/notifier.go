package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/conorfennell/hoksip/internal/reminder"
	"github.com/conorfennell/hoksip/internal/storage"
)

// NotifyDue sends the daily reminder: one line per subject plus buttons to start
// reviewing or testing each of them.
func (t *TelegramAPI) NotifyDue(ctx context.Context, user storage.User, due []reminder.Due) error {
	if len(due) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("⏰ Cards due today\n")
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, d := range due {
		fmt.Fprintf(&b, "\n📚 %s: %d", d.Subject, d.Cards)

		review, ok := startData(domain.Passive, d.Subject)
		if !ok {
			continue
		}
		test, _ := startData(domain.Active, d.Subject)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Review "+d.Subject, review),
			tgbotapi.NewInlineKeyboardButtonData("Test "+d.Subject, test),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔕 Stop reminders", cbReminds+":off"),
	))

	msg := tgbotapi.NewMessage(user.ChatID, b.String())
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send reminder to %s: %w", user.UserID, err)
	}
	return nil
}
