// Package bot is the Telegram front end: commands, review buttons and reminders.
package bot

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/conorfennell/hoksip/internal/session"
	"github.com/conorfennell/hoksip/internal/storage"
)

// BotSender is the part of the Telegram API the handlers use.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Sessions drives review and test sessions.
type Sessions interface {
	Start(ctx context.Context, userID, subject string, mode domain.Mode) (session.View, error)
	Current(userID string) (session.View, error)
	Answer(ctx context.Context, userID string, version uint64, isCorrect bool) (session.Result, error)
	Delete(ctx context.Context, userID string, version uint64) (session.Result, error)
	End(ctx context.Context, userID string, version uint64) (session.Result, error)
}

// Store is the card and user persistence the bot reads and writes directly.
type Store interface {
	CreateCard(ctx context.Context, in domain.NewCard, today time.Time) (domain.Card, error)
	SubjectExists(ctx context.Context, owner, subject string) (bool, error)
	ListSubjects(ctx context.Context, owner string) ([]string, error)
	SubjectStats(ctx context.Context, owner string) ([]storage.SubjectStat, error)
	GetUser(ctx context.Context, userID string) (storage.User, error)
	TouchUser(ctx context.Context, userID string, chatID int64) error
	SetReminders(ctx context.Context, userID string, on bool) error
}

// Rewards pays points for study input.
type Rewards interface {
	Award(ctx context.Context, userID, reason string) (domain.Award, error)
}

// Options tunes the bot. Zero values get defaults.
type Options struct {
	StudyTimeout   time.Duration // zero → 2m
	RequestTimeout time.Duration // zero → 10s
	Workers        int           // zero → 8
	Today          func() time.Time
}

type TelegramAPI struct {
	bot      BotSender
	sessions Sessions
	store    Store
	rewards  Rewards
	pending  *pendingStudies
	opts     Options
	log      *zap.Logger
}

// NewBotAPI connects to Telegram.
func NewBotAPI(token string, debug bool) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = debug
	return api, nil
}

func NewTelegramAPI(bot BotSender, sessions Sessions, store Store, rewards Rewards, opts Options, log *zap.Logger) *TelegramAPI {
	if opts.StudyTimeout <= 0 {
		opts.StudyTimeout = 2 * time.Minute
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Today == nil {
		opts.Today = func() time.Time { return domain.DateIn(time.Now(), time.UTC) }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TelegramAPI{
		bot:      bot,
		sessions: sessions,
		store:    store,
		rewards:  rewards,
		pending:  newPendingStudies(),
		opts:     opts,
		log:      log,
	}
}

// Run handles updates until ctx is done or the channel closes. Updates of one user are
// handled in order; different users are handled concurrently.
func (t *TelegramAPI) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	queues := make([]chan tgbotapi.Update, t.opts.Workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan tgbotapi.Update, 32)
		wg.Add(1)
		go func(q <-chan tgbotapi.Update) {
			defer wg.Done()
			for u := range q {
				t.HandleUpdate(ctx, u)
			}
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
		t.pending.stopAll()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			queues[shard(senderID(u), len(queues))] <- u
		}
	}
}

// HandleUpdate dispatches a single update.
func (t *TelegramAPI) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		if update.Message.IsCommand() {
			t.handleCommand(ctx, update.Message)
		} else {
			t.handleMessage(ctx, update.Message)
		}
	case update.CallbackQuery != nil:
		t.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

func senderID(u tgbotapi.Update) int64 {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From.ID
	}
	return 0
}

func shard(id int64, n int) int {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(id, 10)))
	return int(h.Sum32() % uint32(n))
}

func userKey(u *tgbotapi.User) string {
	return strconv.FormatInt(u.ID, 10)
}

func (t *TelegramAPI) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.opts.RequestTimeout)
}

func (t *TelegramAPI) send(msg tgbotapi.Chattable) {
	if _, err := t.bot.Send(msg); err != nil {
		t.log.Warn("failed to send message", zap.Error(err))
	}
}

func (t *TelegramAPI) reply(chatID int64, text string) {
	t.send(tgbotapi.NewMessage(chatID, text))
}
