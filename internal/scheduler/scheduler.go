// Package scheduler owns all time-based execution: recurring cron
// jobs and one-shot timers, behind a single registry keyed by job id.
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs registered callbacks. A panicking callback is logged
// and absorbed; it never takes the process down.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	timers  map[string]*time.Timer
	started bool
}

func New() *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		timers:  make(map[string]*time.Timer),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
	slog.Info("Scheduler started")
}

// Stop cancels every pending timer and waits for in-flight cron jobs
// to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	started := s.started
	s.started = false
	s.mu.Unlock()

	if started {
		<-s.cron.Stop().Done()
	}
	slog.Info("Scheduler stopped")
}

func guard(id string, fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Scheduled job panicked", "job", id, "panic", r)
			}
		}()
		fn()
	}
}

// RunCron registers a recurring job under id using a standard 5-field
// cron spec. Re-registering an id replaces the previous schedule.
func (s *Scheduler) RunCron(id, spec string, fn func()) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[id]; ok {
		s.cron.Remove(prev)
	}
	entryID, err := s.cron.AddFunc(spec, guard(id, fn))
	if err != nil {
		return fmt.Errorf("register cron job %q: %w", id, err)
	}
	s.entries[id] = entryID
	slog.Info("Registered cron job", "job", id, "spec", spec)
	return nil
}

// RunAt registers a one-shot job that fires once at the given time.
// Times in the past are rejected. The id is released when the job
// fires, so a later Remove of a fired job reports false.
func (s *Scheduler) RunAt(id string, at time.Time, fn func()) error {
	delay := time.Until(at)
	if delay <= 0 {
		return fmt.Errorf("time %s is in the past", at.Format(time.RFC3339))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[id]; ok {
		prev.Stop()
	}
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		guard(id, fn)()
	})
	slog.Info("Registered one-shot job", "job", id, "at", at.Format(time.RFC3339))
	return nil
}

// Remove cancels the job registered under id, reporting whether one
// existed.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
		return true
	}
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
		return true
	}
	return false
}

// Jobs lists the ids of all registered jobs, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.entries)+len(s.timers))
	for id := range s.entries {
		ids = append(ids, id)
	}
	for id := range s.timers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
