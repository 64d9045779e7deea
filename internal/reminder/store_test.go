package reminder

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	luerrors "github.com/lunabot/luna/internal/errors"
	"github.com/lunabot/luna/internal/scheduler"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	chats []int64
}

func (f *fakeSender) Send(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	f.chats = append(f.chats, chatID)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestStore(t *testing.T) (*Store, *fakeSender, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reminders.json")
	sched := scheduler.New()
	t.Cleanup(sched.Stop)
	sender := &fakeSender{}
	store, err := New(path, sched, sender)
	require.NoError(t, err)
	return store, sender, path
}

func TestParseSplitsTimeFromMessage(t *testing.T) {
	store, _, _ := newTestStore(t)
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	at, message, err := store.Parse("me to call mom in 2 hours")
	require.NoError(t, err)
	assert.Equal(t, base.Add(2*time.Hour), at)
	assert.Equal(t, "call mom", message)
}

func TestParseRejectsTimelessText(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, _, err := store.Parse("call mom sometime maybe")
	require.Error(t, err)
	assert.True(t, luerrors.IsCategory(err, luerrors.ErrInvalidInput))
}

func TestCreateRejectsPastTime(t *testing.T) {
	store, _, _ := newTestStore(t)
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	_, err := store.Create(100, 500, "water the plants yesterday at 9am", "home")
	require.Error(t, err)
	assert.True(t, luerrors.IsCategory(err, luerrors.ErrInvalidInput))
	assert.Zero(t, store.Count())
}

func TestCreatePersistsAndSurvivesRestart(t *testing.T) {
	store, _, path := newTestStore(t)

	r, err := store.Create(100, 500, "submit the report in 2 hours", "work")
	require.NoError(t, err)
	assert.Len(t, r.ID, 8)
	assert.Equal(t, "submit the report", r.Message)

	// A fresh store over the same file re-arms it.
	sched2 := scheduler.New()
	t.Cleanup(sched2.Stop)
	reloaded, err := New(path, sched2, &fakeSender{})
	require.NoError(t, err)

	assert.Equal(t, 1, reloaded.Count())
	assert.Contains(t, sched2.Jobs(), "reminder:"+r.ID)
}

func TestReconciliationDropsPastReminders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reminders.json")
	now := time.Now()
	stale := []Reminder{
		{ID: "aaaa1111", ChatID: 1, Message: "long gone", TriggerAt: now.Add(-time.Hour)},
		{ID: "bbbb2222", ChatID: 1, Message: "still ahead", TriggerAt: now.Add(time.Hour)},
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	sched := scheduler.New()
	t.Cleanup(sched.Stop)
	store, err := New(path, sched, &fakeSender{})
	require.NoError(t, err)

	list := store.List(0, "")
	require.Len(t, list, 1)
	assert.Equal(t, "bbbb2222", list[0].ID)

	// The pruned set was persisted immediately.
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	var onDisk []Reminder
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Len(t, onDisk, 1)
}

func TestFireDeliversAtMostOnce(t *testing.T) {
	store, sender, _ := newTestStore(t)

	r, err := store.Create(100, 500, "stretch in 3 hours", "home")
	require.NoError(t, err)

	store.fire(r.ID)
	store.fire(r.ID)

	assert.Equal(t, 1, sender.count())
	assert.Contains(t, sender.sent[0], "stretch")
	assert.Equal(t, int64(500), sender.chats[0])
	assert.Zero(t, store.Count())
}

func TestListFiltersAndSorts(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.Create(100, 500, "later thing in 5 hours", "home")
	require.NoError(t, err)
	_, err = store.Create(100, 500, "sooner thing in 1 hour", "home")
	require.NoError(t, err)
	_, err = store.Create(200, 600, "someone else in 2 hours", "work")
	require.NoError(t, err)

	mine := store.List(100, "home")
	require.Len(t, mine, 2)
	assert.Equal(t, "sooner thing", mine[0].Message)
	assert.Equal(t, "later thing", mine[1].Message)

	assert.Len(t, store.List(0, ""), 3)
}

func TestListExcludesAlreadyDueReminders(t *testing.T) {
	store, _, _ := newTestStore(t)
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	r, err := store.Create(100, 500, "take out the bins in 1 hour", "home")
	require.NoError(t, err)
	require.Len(t, store.List(0, ""), 1)

	// Advance past the trigger without the timer having fired; the
	// record is still on disk but no longer pending.
	store.now = func() time.Time { return base.Add(2 * time.Hour) }

	assert.Empty(t, store.List(0, ""))
	assert.Zero(t, store.Count())
	assert.NotEmpty(t, r.ID)
}

func TestCancel(t *testing.T) {
	store, sender, _ := newTestStore(t)

	r, err := store.Create(100, 500, "cancel me in 1 hour", "home")
	require.NoError(t, err)

	assert.True(t, store.Cancel(r.ID))
	assert.False(t, store.Cancel(r.ID))
	assert.Zero(t, store.Count())

	// A cancelled reminder no longer fires even if poked directly.
	store.fire(r.ID)
	assert.Zero(t, sender.count())
}
