package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/conorfennell/hoksip/internal/session"
)

// Callback data is limited to 64 bytes by Telegram.
const maxCallbackData = 64

const (
	cbAnswer  = "a" // a:<version>:y|n
	cbDelete  = "d" // d:<version>
	cbEnd     = "e" // e:<version>
	cbStart   = "s" // s:p|a:<subject>
	cbReminds = "r" // r:on|off
)

func answerData(version uint64, correct bool) string {
	yn := "n"
	if correct {
		yn = "y"
	}
	return cbAnswer + ":" + strconv.FormatUint(version, 10) + ":" + yn
}

func versionData(kind string, version uint64) string {
	return kind + ":" + strconv.FormatUint(version, 10)
}

// startData returns the button payload for starting a session, or false when the
// subject is too long to fit.
func startData(mode domain.Mode, subject string) (string, bool) {
	m := "p"
	if mode == domain.Active {
		m = "a"
	}
	data := cbStart + ":" + m + ":" + subject
	return data, len(data) <= maxCallbackData
}

func cardKeyboard(v session.View) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Remembered", answerData(v.Version, true)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Forgot", answerData(v.Version, false)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", versionData(cbDelete, v.Version)),
			tgbotapi.NewInlineKeyboardButtonData("⏹ End", versionData(cbEnd, v.Version)),
		),
	)
}

// renderCard shows passive reviews both sides; active tests hide the original.
func renderCard(v session.View) string {
	var b strings.Builder
	label := "Review"
	if v.Mode == domain.Active {
		label = "Test"
	}
	fmt.Fprintf(&b, "<b>%s · %s</b> %d/%d\n\n", label, html.EscapeString(v.Subject), v.Position, v.Total)

	c := v.Card
	if v.Mode == domain.Active && c.Translation != "" {
		fmt.Fprintf(&b, "%s\n<tg-spoiler>%s</tg-spoiler>", html.EscapeString(c.Translation), html.EscapeString(c.Original))
	} else {
		b.WriteString("<b>" + html.EscapeString(c.Original) + "</b>")
		if c.Translation != "" {
			b.WriteString("\n" + html.EscapeString(c.Translation))
		}
	}
	b.WriteString("\n\nDid you remember it? (buttons, or reply y / n)")
	return b.String()
}

func (t *TelegramAPI) sendCard(chatID int64, v session.View) {
	msg := tgbotapi.NewMessage(chatID, renderCard(v))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = cardKeyboard(v)
	t.send(msg)
}

func formatAward(a domain.Award) string {
	s := fmt.Sprintf("🪙 +%d · total %d · streak %d day(s)", 1+a.Bonus, a.Points, a.StreakDays)
	if a.Bonus > 0 {
		s = fmt.Sprintf("🎉 Day %d of your streak, bonus 🪙+%d\n", a.StreakDays, a.Bonus) + s
	}
	return s
}

func renderFinished(res session.Result) string {
	var b strings.Builder
	switch res.State {
	case session.Completed:
		fmt.Fprintf(&b, "🎉 %q complete! Answered %d, remembered %d", res.Subject, res.Tally.Answered, res.Tally.Correct)
		if res.Tally.Deleted > 0 {
			fmt.Fprintf(&b, ", deleted %d", res.Tally.Deleted)
		}
		b.WriteString(".")
		if res.Award != nil {
			b.WriteString("\n" + formatAward(*res.Award))
		}
	default:
		fmt.Fprintf(&b, "⏹ Session ended. Answered %d of %d. Progress so far is saved.", res.Tally.Answered, res.Total)
	}
	return b.String()
}

// startSession opens a review or test and shows the first card.
func (t *TelegramAPI) startSession(ctx context.Context, chatID int64, userID, subject string, mode domain.Mode) {
	ctx, cancel := t.timeout(ctx)
	defer cancel()

	v, err := t.sessions.Start(ctx, userID, strings.TrimSpace(subject), mode)
	if err != nil {
		t.reply(chatID, startErrorText(err, subject))
		if !isExpected(err) {
			t.log.Error("failed to start session", zap.String("user_id", userID), zap.String("subject", subject), zap.Error(err))
		}
		return
	}
	t.sendCard(chatID, v)
}

func startErrorText(err error, subject string) string {
	switch {
	case errors.Is(err, session.ErrBusy):
		return "You already have a session running. Finish it or send /end first."
	case errors.Is(err, session.ErrNoCards):
		return fmt.Sprintf("Nothing to review in %q right now. 🎉", subject)
	case isInvalid(err):
		return "Please give a subject of 1 to 50 characters, e.g. /review jp"
	default:
		return "❌ Something went wrong, please try again."
	}
}

func isInvalid(err error) bool {
	return errors.Is(err, domain.ErrInvalid)
}

func isExpected(err error) bool {
	return errors.Is(err, session.ErrBusy) || errors.Is(err, session.ErrNoCards) ||
		errors.Is(err, session.ErrStale) || errors.Is(err, session.ErrNoSession) || isInvalid(err)
}

// deliver reports the outcome of an accepted event: the next card or the summary.
func (t *TelegramAPI) deliver(chatID int64, res session.Result) {
	if res.Outcome == session.Skipped {
		t.reply(chatID, "That card no longer exists, skipping it.")
	}
	if res.State == session.Active {
		t.sendCard(chatID, res.View)
		return
	}
	t.reply(chatID, renderFinished(res))
}

// eventErrorText maps a rejected event to user text. Stale events are silent.
func eventErrorText(err error) string {
	switch {
	case errors.Is(err, session.ErrStale):
		return ""
	case errors.Is(err, session.ErrNoSession):
		return "This session is over. Start a new one with /review <subject>."
	default:
		return "❌ Could not save that, please press the button again."
	}
}

// handleTextAnswer accepts y/n replies for the current card.
func (t *TelegramAPI) handleTextAnswer(ctx context.Context, message *tgbotapi.Message, userID string) bool {
	var correct bool
	switch strings.ToLower(strings.TrimSpace(message.Text)) {
	case "y", "yes":
		correct = true
	case "n", "no":
		correct = false
	default:
		return false
	}
	v, err := t.sessions.Current(userID)
	if err != nil {
		return false
	}

	ctx, cancel := t.timeout(ctx)
	defer cancel()
	// Text carries no version, so a redelivered "y" answers the next card too. Buttons are exact.
	res, err := t.sessions.Answer(ctx, userID, v.Version, correct)
	if err != nil {
		if text := eventErrorText(err); text != "" {
			t.reply(message.Chat.ID, text)
		}
		return true
	}
	t.deliver(message.Chat.ID, res)
	return true
}

func (t *TelegramAPI) handleEndCommand(ctx context.Context, message *tgbotapi.Message, userID string) {
	if ps, ok := t.pending.finish(userID); ok {
		t.reply(message.Chat.ID, fmt.Sprintf("Study input for %q discarded.", ps.subject))
		return
	}
	v, err := t.sessions.Current(userID)
	if err != nil {
		t.reply(message.Chat.ID, "You have no session running.")
		return
	}
	ctx, cancel := t.timeout(ctx)
	defer cancel()
	res, err := t.sessions.End(ctx, userID, v.Version)
	if err != nil {
		if text := eventErrorText(err); text != "" {
			t.reply(message.Chat.ID, text)
		}
		return
	}
	t.reply(message.Chat.ID, renderFinished(res))
}

func (t *TelegramAPI) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.From == nil {
		return
	}
	userID := userKey(query.From)
	var chatID int64
	if query.Message != nil && query.Message.Chat != nil {
		chatID = query.Message.Chat.ID
	} else {
		chatID = query.From.ID
	}

	kind, rest, _ := strings.Cut(query.Data, ":")
	notice := ""
	switch kind {
	case cbAnswer, cbDelete, cbEnd:
		notice = t.handleSessionButton(ctx, query, chatID, userID, kind, rest)
	case cbStart:
		m, subject, _ := strings.Cut(rest, ":")
		mode := domain.Passive
		if m == "a" {
			mode = domain.Active
		}
		t.startSession(ctx, chatID, userID, subject, mode)
	case cbReminds:
		t.setReminders(ctx, chatID, userID, rest == "on")
	default:
		t.log.Warn("unknown callback data", zap.String("data", query.Data), zap.String("user_id", userID))
	}

	callback := tgbotapi.NewCallback(query.ID, notice)
	if _, err := t.bot.Request(callback); err != nil {
		t.log.Warn("failed to answer callback", zap.Error(err))
	}
}

// handleSessionButton applies an answer, delete or end button and returns the
// popup text for the callback answer.
func (t *TelegramAPI) handleSessionButton(ctx context.Context, query *tgbotapi.CallbackQuery, chatID int64, userID, kind, rest string) string {
	versionText, yn, _ := strings.Cut(rest, ":")
	version, err := strconv.ParseUint(versionText, 10, 64)
	if err != nil {
		return "Unknown button."
	}

	ctx, cancel := t.timeout(ctx)
	defer cancel()

	var res session.Result
	switch kind {
	case cbAnswer:
		res, err = t.sessions.Answer(ctx, userID, version, yn == "y")
	case cbDelete:
		res, err = t.sessions.Delete(ctx, userID, version)
	default:
		res, err = t.sessions.End(ctx, userID, version)
	}
	if err != nil {
		if errors.Is(err, session.ErrStale) {
			return "Already handled."
		}
		if !isExpected(err) {
			t.log.Warn("session event failed", zap.String("user_id", userID), zap.String("kind", kind), zap.Error(err))
		}
		return eventErrorText(err)
	}

	t.clearButtons(query)
	if kind == cbEnd {
		t.reply(chatID, renderFinished(res))
		return ""
	}
	if kind == cbDelete {
		t.reply(chatID, "🗑 Deleted.")
	}
	t.deliver(chatID, res)
	return ""
}

func (t *TelegramAPI) clearButtons(query *tgbotapi.CallbackQuery) {
	if query.Message == nil || query.Message.Chat == nil {
		return
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(query.Message.Chat.ID, query.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	if _, err := t.bot.Request(edit); err != nil {
		t.log.Debug("failed to clear buttons", zap.Error(err))
	}
}
