// Package reminder persists one-shot reminders and keeps them armed
// across process restarts.
package reminder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	natomic "github.com/natefinch/atomic"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/lunabot/luna/internal/errors"
	"github.com/lunabot/luna/internal/scheduler"
)

// Reminder is one pending delivery. TriggerAt is authoritative; the
// armed timer is just the running-process view of it.
type Reminder struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	ChatID    int64     `json:"chat_id"`
	Message   string    `json:"message"`
	Workspace string    `json:"workspace"`
	TriggerAt time.Time `json:"trigger_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Sender delivers a fired reminder to its chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Store holds all pending reminders for the process, backed by a
// single JSON array file rewritten atomically on every mutation. The
// file is small by construction, so wholesale rewrite beats a log.
type Store struct {
	mu        sync.Mutex
	path      string
	sched     *scheduler.Scheduler
	sender    Sender
	reminders []Reminder
	parser    *when.Parser

	now func() time.Time
}

// New loads the reminder file and reconciles it against the clock:
// reminders already due are dropped (their moment has passed, firing
// them late would be noise), future ones are re-armed. The pruned set
// is persisted before New returns.
func New(path string, sched *scheduler.Scheduler, sender Sender) (*Store, error) {
	parser := when.New(nil)
	parser.Add(en.All...)
	parser.Add(common.All...)

	s := &Store{
		path:   path,
		sched:  sched,
		sender: sender,
		parser: parser,
		now:    time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	s.reconcile()
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read reminder file: %w", err)
	}
	if err := json.Unmarshal(data, &s.reminders); err != nil {
		return fmt.Errorf("parse reminder file %s: %w", s.path, err)
	}
	return nil
}

// persist writes the full array under the caller-held lock.
func (s *Store) persist() bool {
	data, err := json.MarshalIndent(s.reminders, "", "  ")
	if err != nil {
		return false
	}
	if err := natomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		slog.Error("Failed to persist reminders", "path", s.path, "error", err)
		return false
	}
	return true
}

func (s *Store) reconcile() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	kept := s.reminders[:0]
	dropped := 0
	for _, r := range s.reminders {
		if !r.TriggerAt.After(now) {
			dropped++
			continue
		}
		kept = append(kept, r)
		s.arm(r)
	}
	s.reminders = kept
	s.persist()

	if dropped > 0 || len(kept) > 0 {
		slog.Info("Reconciled reminders", "armed", len(kept), "dropped", dropped)
	}
}

// arm registers the one-shot. Caller holds the lock; RunAt only takes
// the scheduler's own lock.
func (s *Store) arm(r Reminder) {
	id := r.ID
	if err := s.sched.RunAt("reminder:"+id, r.TriggerAt, func() {
		s.fire(id)
	}); err != nil {
		slog.Error("Failed to arm reminder", "id", id, "error", err)
	}
}

// fire delivers and deletes. Deletion is unconditional so a failed
// send never causes a retry loop; a reminder fires at most once.
func (s *Store) fire(id string) {
	s.mu.Lock()
	var found *Reminder
	for i := range s.reminders {
		if s.reminders[i].ID == id {
			r := s.reminders[i]
			found = &r
			s.reminders = append(s.reminders[:i], s.reminders[i+1:]...)
			break
		}
	}
	if found != nil {
		s.persist()
	}
	s.mu.Unlock()

	if found == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.sender.Send(ctx, found.ChatID, "⏰ Reminder: "+found.Message); err != nil {
		slog.Error("Failed to deliver reminder", "id", id, "chat_id", found.ChatID, "error", err)
		return
	}
	slog.Info("Delivered reminder", "id", id, "user_id", found.UserID)
}

// Parse extracts the time phrase from a request like "call mom in 2
// hours" and returns the trigger time plus the remaining message.
func (s *Store) Parse(text string) (time.Time, string, error) {
	result, err := s.parser.Parse(text, s.now())
	if err != nil {
		return time.Time{}, "", errors.Wrap(err, "parse reminder time")
	}
	if result == nil {
		return time.Time{}, "", errors.InvalidInput("no time found in %q", text)
	}

	message := strings.TrimSpace(text[:result.Index] + text[result.Index+len(result.Text):])
	message = strings.TrimPrefix(message, "me to ")
	message = strings.TrimPrefix(message, "to ")
	message = strings.TrimSpace(strings.Trim(message, ","))
	if message == "" {
		message = "Reminder"
	}
	return result.Time, message, nil
}

// Create parses text, persists the reminder, and arms its timer.
func (s *Store) Create(userID, chatID int64, text, workspace string) (*Reminder, error) {
	triggerAt, message, err := s.Parse(text)
	if err != nil {
		return nil, err
	}
	if !triggerAt.After(s.now()) {
		return nil, errors.InvalidInput("%s is in the past", triggerAt.Format("2006-01-02 15:04"))
	}

	r := Reminder{
		ID:        uuid.NewString()[:8],
		UserID:    userID,
		ChatID:    chatID,
		Message:   message,
		Workspace: workspace,
		TriggerAt: triggerAt,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.reminders = append(s.reminders, r)
	ok := s.persist()
	if !ok {
		s.reminders = s.reminders[:len(s.reminders)-1]
		s.mu.Unlock()
		return nil, errors.Internal("persist reminder")
	}
	s.arm(r)
	s.mu.Unlock()

	slog.Info("Created reminder", "id", r.ID, "at", triggerAt.Format(time.RFC3339))
	return &r, nil
}

// List returns pending reminders, soonest first. A non-zero userID
// filters by owner; a non-empty workspace filters by workspace.
// Anything already due is excluded: a record can outlive its timer
// (a failed arm, for one) and stays on disk until restart prunes it,
// but it is no longer pending.
func (s *Store) List(userID int64, workspace string) []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []Reminder
	for _, r := range s.reminders {
		if !r.TriggerAt.After(now) {
			continue
		}
		if userID != 0 && r.UserID != userID {
			continue
		}
		if workspace != "" && r.Workspace != workspace {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TriggerAt.Before(out[j].TriggerAt)
	})
	return out
}

// Cancel removes the reminder and disarms its timer, reporting
// whether the id existed.
func (s *Store) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.reminders {
		if s.reminders[i].ID == id {
			s.reminders = append(s.reminders[:i], s.reminders[i+1:]...)
			s.persist()
			s.sched.Remove("reminder:" + id)
			return true
		}
	}
	return false
}

// Count reports how many reminders are still pending.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, r := range s.reminders {
		if r.TriggerAt.After(now) {
			n++
		}
	}
	return n
}
