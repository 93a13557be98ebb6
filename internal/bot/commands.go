package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/conorfennell/hoksip/internal/srs"
)

const helpText = `📚 hoksip helps you remember sentence pairs.

/newsub <subject> - check a subject name
/study <subject> - add "original|translation" lines
/review <subject> - review cards due today
/test <subject> - test yourself without changing the schedule
/end - end the current session
/stats - mastery per subject
/subjects - list your subjects
/remind on|off - daily reminders`

func (t *TelegramAPI) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil {
		return
	}
	userID := userKey(message.From)
	t.touch(ctx, userID, message.Chat.ID)

	args := strings.TrimSpace(message.CommandArguments())
	switch message.Command() {
	case "start", "help":
		t.reply(message.Chat.ID, helpText)
	case "newsub":
		t.handleNewSubject(ctx, message, userID, args)
	case "study":
		t.handleStudyCommand(ctx, message, userID)
	case "done":
		if !t.collectStudy(ctx, message, userID) {
			t.reply(message.Chat.ID, "Nothing is being collected. Start with /study <subject>.")
		}
	case "review":
		t.startFromCommand(ctx, message, userID, args, domain.Passive)
	case "test":
		t.startFromCommand(ctx, message, userID, args, domain.Active)
	case "end":
		t.handleEndCommand(ctx, message, userID)
	case "stats":
		t.handleStats(ctx, message, userID)
	case "subjects":
		t.handleSubjects(ctx, message, userID)
	case "remind":
		switch strings.ToLower(args) {
		case "on":
			t.setReminders(ctx, message.Chat.ID, userID, true)
		case "off":
			t.setReminders(ctx, message.Chat.ID, userID, false)
		default:
			t.reply(message.Chat.ID, "Usage: /remind on or /remind off")
		}
	default:
		t.reply(message.Chat.ID, "Unknown command. Send /help for the list.")
	}
}

func (t *TelegramAPI) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil || message.Text == "" {
		return
	}
	userID := userKey(message.From)
	t.touch(ctx, userID, message.Chat.ID)

	if t.pending.active(userID) && t.collectStudy(ctx, message, userID) {
		return
	}
	if t.handleTextAnswer(ctx, message, userID) {
		return
	}
	t.reply(message.Chat.ID, "Send /help to see what I can do.")
}

func (t *TelegramAPI) touch(ctx context.Context, userID string, chatID int64) {
	ctx, cancel := t.timeout(ctx)
	defer cancel()
	if err := t.store.TouchUser(ctx, userID, chatID); err != nil {
		t.log.Warn("failed to record user", zap.String("user_id", userID), zap.Error(err))
	}
}

func (t *TelegramAPI) startFromCommand(ctx context.Context, message *tgbotapi.Message, userID, subject string, mode domain.Mode) {
	if subject == "" {
		t.reply(message.Chat.ID, fmt.Sprintf("Usage: /%s <subject>", message.Command()))
		return
	}
	if t.pending.active(userID) {
		t.reply(message.Chat.ID, "Finish your study input first: send \"done\" or /end.")
		return
	}
	t.startSession(ctx, message.Chat.ID, userID, subject, mode)
}

func (t *TelegramAPI) handleNewSubject(ctx context.Context, message *tgbotapi.Message, userID, subject string) {
	if err := domain.ValidateSubject(subject); err != nil {
		t.reply(message.Chat.ID, "Usage: /newsub <subject> (1 to 50 characters)")
		return
	}
	ctx, cancel := t.timeout(ctx)
	defer cancel()

	exists, err := t.store.SubjectExists(ctx, userID, subject)
	if err != nil {
		t.log.Error("failed to check subject", zap.String("user_id", userID), zap.Error(err))
		t.reply(message.Chat.ID, "❌ Something went wrong, please try again.")
		return
	}
	if exists {
		t.reply(message.Chat.ID, fmt.Sprintf("%q already exists. Add more with /study %s", subject, subject))
		return
	}
	t.reply(message.Chat.ID, fmt.Sprintf("📗 %q is ready. Add cards with /study %s", subject, subject))
}

func (t *TelegramAPI) handleStats(ctx context.Context, message *tgbotapi.Message, userID string) {
	ctx, cancel := t.timeout(ctx)
	defer cancel()

	stats, err := t.store.SubjectStats(ctx, userID)
	if err != nil {
		t.log.Error("failed to load stats", zap.String("user_id", userID), zap.Error(err))
		t.reply(message.Chat.ID, "❌ Something went wrong, please try again.")
		return
	}
	if len(stats) == 0 {
		t.reply(message.Chat.ID, "No cards yet. Start with /study <subject>.")
		return
	}

	var b strings.Builder
	b.WriteString("📊 Your progress\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "\n%s (%d)\n  %s %d · %s %d · %s %d", s.Subject, s.Total(),
			srs.Unfamiliar, s.Unfamiliar, srs.Vague, s.Vague, srs.Mastered, s.Mastered)
	}

	user, err := t.store.GetUser(ctx, userID)
	switch {
	case err == nil:
		fmt.Fprintf(&b, "\n\n🪙 %d points · streak %d day(s)", user.Points, user.StreakDays)
	case !errors.Is(err, domain.ErrNotFound):
		t.log.Warn("failed to load user", zap.String("user_id", userID), zap.Error(err))
	}
	t.reply(message.Chat.ID, b.String())
}

func (t *TelegramAPI) handleSubjects(ctx context.Context, message *tgbotapi.Message, userID string) {
	ctx, cancel := t.timeout(ctx)
	defer cancel()

	subjects, err := t.store.ListSubjects(ctx, userID)
	if err != nil {
		t.log.Error("failed to list subjects", zap.String("user_id", userID), zap.Error(err))
		t.reply(message.Chat.ID, "❌ Something went wrong, please try again.")
		return
	}
	if len(subjects) == 0 {
		t.reply(message.Chat.ID, "No subjects yet. Start with /study <subject>.")
		return
	}
	t.reply(message.Chat.ID, "📚 "+strings.Join(subjects, "\n📚 "))
}

func (t *TelegramAPI) setReminders(ctx context.Context, chatID int64, userID string, on bool) {
	ctx, cancel := t.timeout(ctx)
	defer cancel()

	if err := t.store.SetReminders(ctx, userID, on); err != nil {
		t.log.Error("failed to set reminders", zap.String("user_id", userID), zap.Error(err))
		t.reply(chatID, "❌ Something went wrong, please try again.")
		return
	}
	if on {
		t.reply(chatID, "🔔 Reminders are on.")
	} else {
		t.reply(chatID, "🔕 Reminders are off. Send /remind on to turn them back on.")
	}
}
