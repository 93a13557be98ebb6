package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/conorfennell/hoksip/internal/storage"
)

var taipei = time.FixedZone("CST", 8*60*60)

func TestNextRun(t *testing.T) {
	hours := []int{9, 21}
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before morning", time.Date(2026, 5, 10, 7, 0, 0, 0, taipei), time.Date(2026, 5, 10, 9, 0, 0, 0, taipei)},
		{"exactly at morning", time.Date(2026, 5, 10, 9, 0, 0, 0, taipei), time.Date(2026, 5, 10, 21, 0, 0, 0, taipei)},
		{"afternoon", time.Date(2026, 5, 10, 15, 30, 0, 0, taipei), time.Date(2026, 5, 10, 21, 0, 0, 0, taipei)},
		{"late night rolls over", time.Date(2026, 5, 10, 22, 0, 0, 0, taipei), time.Date(2026, 5, 11, 9, 0, 0, 0, taipei)},
		{"month end", time.Date(2026, 5, 31, 23, 0, 0, 0, taipei), time.Date(2026, 6, 1, 9, 0, 0, 0, taipei)},
		{"utc input", time.Date(2026, 5, 10, 2, 0, 0, 0, time.UTC), time.Date(2026, 5, 10, 21, 0, 0, 0, taipei)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRun(tt.now, hours, taipei)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

type fakeStore struct {
	users []storage.User
	cards map[string][]domain.Card
	err   map[string]error
}

func (f *fakeStore) ReminderUsers(context.Context) ([]storage.User, error) {
	return f.users, nil
}

func (f *fakeStore) GetDueToday(_ context.Context, owner string, _ time.Time) ([]domain.Card, error) {
	return f.cards[owner], f.err[owner]
}

type recorder struct {
	sent map[string][]Due
	fail string
}

func (r *recorder) NotifyDue(_ context.Context, u storage.User, due []Due) error {
	if u.UserID == r.fail {
		return errors.New("chat not found")
	}
	r.sent[u.UserID] = due
	return nil
}

func TestRunOnce(t *testing.T) {
	now := time.Date(2026, 5, 10, 1, 0, 0, 0, time.UTC)
	today := domain.DateIn(now, taipei)
	card := func(subject string) domain.Card {
		return domain.Card{Subject: subject, Progress: domain.Progress{NextDueDate: today}}
	}

	store := &fakeStore{
		users: []storage.User{{UserID: "u1"}, {UserID: "u2"}, {UserID: "u3"}, {UserID: "u4"}, {UserID: "busy"}},
		cards: map[string][]domain.Card{
			"u1":   {card("de"), card("jp"), card("jp")},
			"u3":   {card("jp")},
			"u4":   {card("jp")},
			"busy": {card("jp")},
		},
		err: map[string]error{"u4": errors.New("db down")},
	}
	rec := &recorder{sent: make(map[string][]Due), fail: "u3"}

	s := NewScheduler(store, rec, []int{21, 9}, taipei, zap.NewNop())
	s.now = func() time.Time { return now }
	s.Busy = func(userID string) bool { return userID == "busy" }

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []Due{{Subject: "de", Cards: 1}, {Subject: "jp", Cards: 2}}, rec.sent["u1"])
	assert.NotContains(t, rec.sent, "u2")
	assert.NotContains(t, rec.sent, "busy")
	assert.Equal(t, []int{9, 21}, s.hours)
}
