package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/conorfennell/hoksip/internal/parser"
)

// pendingStudy collects study lines sent after a bare /study command.
type pendingStudy struct {
	subject string
	chatID  int64
	entries []parser.Entry
	timer   *time.Timer
}

type pendingStudies struct {
	mu    sync.Mutex
	users map[string]*pendingStudy
}

func newPendingStudies() *pendingStudies {
	return &pendingStudies{users: make(map[string]*pendingStudy)}
}

// start replaces any earlier collection of the user. onTimeout runs if the collection
// is still open after d.
func (p *pendingStudies) start(userID, subject string, chatID int64, d time.Duration, onTimeout func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.users[userID]; ok {
		old.timer.Stop()
	}
	ps := &pendingStudy{subject: subject, chatID: chatID}
	ps.timer = time.AfterFunc(d, func() {
		if p.take(userID, ps) {
			onTimeout()
		}
	})
	p.users[userID] = ps
}

// add appends lines to an open collection and reports whether one was open.
func (p *pendingStudies) add(userID string, entries []parser.Entry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ps, ok := p.users[userID]
	if !ok {
		return false
	}
	ps.entries = append(ps.entries, entries...)
	return true
}

// finish closes the user's collection and returns it.
func (p *pendingStudies) finish(userID string) (*pendingStudy, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ps, ok := p.users[userID]
	if !ok {
		return nil, false
	}
	ps.timer.Stop()
	delete(p.users, userID)
	return ps, true
}

// take removes ps only if it is still the user's current collection.
func (p *pendingStudies) take(userID string, ps *pendingStudy) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.users[userID] != ps {
		return false
	}
	delete(p.users, userID)
	return true
}

func (p *pendingStudies) active(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.users[userID]
	return ok
}

func (p *pendingStudies) stopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ps := range p.users {
		ps.timer.Stop()
		delete(p.users, id)
	}
}

func isDoneWord(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "done", "完成", "/done":
		return true
	}
	return false
}

// handleStudyCommand adds lines given inline, or opens a collection for follow-up messages.
//
//	/study jp
//	おはよう|good morning
func (t *TelegramAPI) handleStudyCommand(ctx context.Context, message *tgbotapi.Message, userID string) {
	args := message.CommandArguments()
	subjectLine, rest, _ := strings.Cut(args, "\n")
	subject := strings.TrimSpace(subjectLine)
	if err := domain.ValidateSubject(subject); err != nil {
		t.reply(message.Chat.ID, "Usage: /study <subject>, then one \"original|translation\" per line. "+
			"Subjects are 1 to 50 characters.")
		return
	}

	if entries := parser.ParseLines(rest); len(entries) > 0 {
		t.commitStudy(ctx, message.Chat.ID, userID, subject, entries)
		return
	}

	chatID := message.Chat.ID
	t.pending.start(userID, subject, chatID, t.opts.StudyTimeout, func() {
		t.reply(chatID, fmt.Sprintf("⌛ Study input for %q timed out, nothing was saved. Send /study %s to try again.", subject, subject))
	})
	t.reply(chatID, fmt.Sprintf("Send lines as \"original|translation\" for %q. Send \"done\" (or 完成) when finished.", subject))
}

// collectStudy feeds a plain message into an open collection. It reports false when
// the user has none.
func (t *TelegramAPI) collectStudy(ctx context.Context, message *tgbotapi.Message, userID string) bool {
	if isDoneWord(message.Text) {
		ps, ok := t.pending.finish(userID)
		if !ok {
			return false
		}
		if len(ps.entries) == 0 {
			t.reply(ps.chatID, "Nothing to add.")
			return true
		}
		t.commitStudy(ctx, ps.chatID, userID, ps.subject, ps.entries)
		return true
	}
	return t.pending.add(userID, parser.ParseLines(message.Text))
}

func (t *TelegramAPI) commitStudy(ctx context.Context, chatID int64, userID, subject string, entries []parser.Entry) {
	ctx, cancel := t.timeout(ctx)
	defer cancel()

	today := t.opts.Today()
	added, invalid := 0, 0
	for _, e := range entries {
		_, err := t.store.CreateCard(ctx, domain.NewCard{
			Owner:       userID,
			Subject:     subject,
			Original:    e.Original,
			Translation: e.Translation,
		}, today)
		switch {
		case err == nil:
			added++
		case isInvalid(err):
			invalid++
		default:
			t.log.Error("failed to add card", zap.String("user_id", userID), zap.String("subject", subject), zap.Error(err))
			t.reply(chatID, fmt.Sprintf("❌ Saving failed after %d lines. Please try again.", added))
			return
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ Added %d to %q.", added, subject)
	if invalid > 0 {
		fmt.Fprintf(&b, " Skipped %d invalid lines.", invalid)
	}
	if added > 0 && t.rewards != nil {
		award, err := t.rewards.Award(ctx, userID, "study")
		if err != nil {
			t.log.Warn("failed to award study", zap.String("user_id", userID), zap.Error(err))
		} else {
			b.WriteString("\n" + formatAward(award))
		}
	}
	t.reply(chatID, b.String())
}
