// Package digest composes and delivers the scheduled morning summary:
// weather, upcoming reminders, and a highlight from the note log.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/lunabot/luna/internal/reminder"
	"github.com/lunabot/luna/internal/scheduler"
)

const (
	maxDigestReminders = 5
	maxNoteHighlight   = 200
	fillerLine         = "Nothing scheduled and no fresh notes. Enjoy the quiet day!"
)

// ReminderLister is the read side of the reminder store.
type ReminderLister interface {
	List(userID int64, workspace string) []reminder.Reminder
}

// NotesReader exposes the note log of the digest's workspace.
type NotesReader interface {
	ReadNotes() string
}

// Sender delivers a digest to one chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type Config struct {
	// Location is the weather location; empty disables the weather
	// block entirely.
	Location       string
	WeatherBaseURL string
	WeatherTimeout time.Duration
	// Timezone renders the date header and reminder times; invalid or
	// empty values fall back to UTC.
	Timezone string
}

// Generator builds digests on demand and fans them out to the
// subscribed chats. Recipients live for the process lifetime only;
// the digest is a convenience, not a contract.
type Generator struct {
	reminders ReminderLister
	notes     NotesReader
	weather   *weatherClient
	sender    Sender
	location  string
	tz        *time.Location

	mu         sync.Mutex
	recipients map[int64]bool

	now func() time.Time
}

func NewGenerator(cfg Config, reminders ReminderLister, notes NotesReader, sender Sender) *Generator {
	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		tz = time.UTC
	}

	var weather *weatherClient
	if cfg.Location != "" && cfg.WeatherBaseURL != "" {
		weather = newWeatherClient(cfg.WeatherBaseURL, cfg.WeatherTimeout)
	}

	return &Generator{
		reminders:  reminders,
		notes:      notes,
		weather:    weather,
		sender:     sender,
		location:   cfg.Location,
		tz:         tz,
		recipients: make(map[int64]bool),
		now:        time.Now,
	}
}

// Build renders the digest text. Every optional block degrades to
// absence: a weather fetch failure or empty note log never fails the
// whole digest.
func (g *Generator) Build(ctx context.Context) string {
	now := g.now().In(g.tz)
	header := fmt.Sprintf("🌅 Good morning! Your digest for %s.", now.Format("Monday, January 2"))

	var blocks []string

	if g.weather != nil {
		line, err := g.weather.Current(ctx, g.location)
		if err != nil {
			slog.Warn("Skipping weather block", "location", g.location, "error", err)
		} else {
			blocks = append(blocks, "🌤 Weather in "+g.location+"\n"+line)
		}
	}

	if block := g.reminderBlock(); block != "" {
		blocks = append(blocks, block)
	}
	if block := g.noteBlock(); block != "" {
		blocks = append(blocks, block)
	}

	if len(blocks) == 0 {
		blocks = append(blocks, fillerLine)
	}
	return header + "\n\n" + strings.Join(blocks, "\n\n")
}

func (g *Generator) reminderBlock() string {
	pending := g.reminders.List(0, "")
	if len(pending) == 0 {
		return ""
	}

	lines := []string{"⏰ Upcoming reminders"}
	shown := pending
	if len(shown) > maxDigestReminders {
		shown = shown[:maxDigestReminders]
	}
	for _, r := range shown {
		lines = append(lines, fmt.Sprintf("• %s — %s", r.TriggerAt.In(g.tz).Format("Mon 15:04"), r.Message))
	}
	if extra := len(pending) - len(shown); extra > 0 {
		lines = append(lines, fmt.Sprintf("…+%d more", extra))
	}
	return strings.Join(lines, "\n")
}

// noteBlock surfaces the latest note section, truncated.
func (g *Generator) noteBlock() string {
	notes := g.notes.ReadNotes()
	idx := strings.LastIndex(notes, "## ")
	if idx < 0 {
		return ""
	}

	section := notes[idx:]
	if nl := strings.Index(section, "\n"); nl >= 0 {
		section = section[nl+1:]
	}
	section = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(section), "---"))
	if section == "" {
		return ""
	}
	if len(section) > maxNoteHighlight {
		cut := maxNoteHighlight
		// Do not split a rune at the boundary.
		for cut > 0 && !utf8.RuneStart(section[cut]) {
			cut--
		}
		section = section[:cut] + "…"
	}
	return "📝 From your notes\n" + section
}

// Send delivers the digest to every recipient. Failures are isolated
// per chat.
func (g *Generator) Send(ctx context.Context) {
	text := g.Build(ctx)

	for _, chatID := range g.Recipients() {
		if err := g.sender.Send(ctx, chatID, text); err != nil {
			slog.Error("Failed to deliver digest", "chat_id", chatID, "error", err)
			continue
		}
		slog.Info("Delivered digest", "chat_id", chatID)
	}
}

func (g *Generator) AddRecipient(chatID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recipients[chatID] = true
}

func (g *Generator) RemoveRecipient(chatID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.recipients, chatID)
}

func (g *Generator) Recipients() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]int64, 0, len(g.recipients))
	for chatID := range g.recipients {
		out = append(out, chatID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Schedule registers the daily cron job from an HH:MM local time.
func (g *Generator) Schedule(sched *scheduler.Scheduler, at string) error {
	var hour, minute int
	if _, err := fmt.Sscanf(at, "%d:%d", &hour, &minute); err != nil {
		return fmt.Errorf("invalid digest time %q: %w", at, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("invalid digest time %q", at)
	}

	spec := fmt.Sprintf("%d %d * * *", minute, hour)
	return sched.RunCron("digest", spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		g.Send(ctx)
	})
}
