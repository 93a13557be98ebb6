package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

func day(offset int) time.Time { return today.AddDate(0, 0, offset) }

func card(id int64, last time.Time, reviews int) domain.Card {
	return domain.Card{
		ID:      id,
		Owner:   "u1",
		Subject: "jp",
		Progress: domain.Progress{
			LastExerciseDate: last,
			NextDueDate:      today,
			ReviewCount:      reviews,
		},
	}
}

func ids(b Batch) []int64 {
	out := make([]int64, 0, len(b.Cards))
	for _, c := range b.Cards {
		out = append(out, c.ID)
	}
	return out
}

func TestPartition_Ordering(t *testing.T) {
	cards := []domain.Card{
		card(5, day(-3), 4), // old, well drilled
		card(2, day(-3), 6),
		card(9, day(-1), 1), // recent, under-practiced
		card(7, day(-1), 1),
		card(4, day(-2), 1), // same average as day(-1), older
		card(3, day(-2), 1),
	}

	batches := Partition(cards)
	require.Len(t, batches, 3)

	assert.True(t, batches[0].LastExerciseDate.Equal(day(-1)), "newer date wins the tie")
	assert.Equal(t, []int64{7, 9}, ids(batches[0]))
	assert.True(t, batches[1].LastExerciseDate.Equal(day(-2)))
	assert.Equal(t, []int64{3, 4}, ids(batches[1]))
	assert.True(t, batches[2].LastExerciseDate.Equal(day(-3)))
	assert.Equal(t, []int64{2, 5}, ids(batches[2]))
}

func TestPartition_SkipsRetiredAndEmpty(t *testing.T) {
	retired := card(1, day(-4), 0)
	retired.Retired = true
	cards := []domain.Card{retired, card(2, day(-1), 0)}

	batches := Partition(cards)
	require.Len(t, batches, 1)
	assert.Equal(t, []int64{2}, ids(batches[0]))

	assert.Empty(t, Partition(nil))
	assert.Empty(t, Partition([]domain.Card{retired}))
}

func TestPartition_Idempotent(t *testing.T) {
	cards := []domain.Card{
		card(1, day(-1), 2), card(2, day(-2), 2), card(3, day(-3), 0),
		card(4, day(-1), 0), card(5, day(-2), 1), card(6, day(-5), 2),
	}
	first := Partition(cards)
	second := Partition(cards)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, ids(first[i]), ids(second[i]))
		assert.True(t, first[i].LastExerciseDate.Equal(second[i].LastExerciseDate))
	}
}

func TestPartition_SnapshotIsIndependent(t *testing.T) {
	cards := []domain.Card{card(1, day(-1), 0)}
	batches := Partition(cards)
	cards[0].Original = "changed"
	assert.Empty(t, batches[0].Cards[0].Original)
}

func TestDueToday(t *testing.T) {
	a := card(3, day(-1), 0)
	a.Subject = "de"
	b := card(1, day(-1), 0)
	b.Subject = "jp"
	c := card(2, day(-1), 0)
	c.Subject = "de"
	overdue := card(4, day(-1), 0)
	overdue.NextDueDate = day(-1)
	future := card(5, day(-1), 0)
	future.NextDueDate = day(2)
	retired := card(6, day(-1), 0)
	retired.Retired = true

	due := DueToday([]domain.Card{b, a, overdue, future, retired, c}, today)

	var got []int64
	for _, d := range due {
		got = append(got, d.ID)
	}
	assert.Equal(t, []int64{2, 3, 1}, got)

	order, counts := CountBySubject(due)
	assert.Equal(t, []string{"de", "jp"}, order)
	assert.Equal(t, map[string]int{"de": 2, "jp": 1}, counts)
}

type fakeSource struct {
	all, due []domain.Card
	err      error
}

func (f *fakeSource) GetCardsBySubject(context.Context, string, string) ([]domain.Card, error) {
	return f.all, f.err
}

func (f *fakeSource) GetDueCards(context.Context, string, string, time.Time) ([]domain.Card, error) {
	return f.due, f.err
}

func TestPartitioner_ForSession(t *testing.T) {
	src := &fakeSource{
		all: []domain.Card{card(1, day(-1), 0), card(2, day(-2), 0)},
		due: []domain.Card{card(2, day(-2), 0)},
	}
	p := NewPartitioner(src)

	passive, err := p.ForSession(context.Background(), "u1", "jp", domain.Passive, today)
	require.NoError(t, err)
	require.Len(t, passive, 1)
	assert.Equal(t, []int64{2}, ids(passive[0]))

	active, err := p.ForSession(context.Background(), "u1", "jp", domain.Active, today)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	src.err = errors.New("disk on fire")
	_, err = p.ForSession(context.Background(), "u1", "jp", domain.Active, today)
	assert.ErrorIs(t, err, src.err)
}
