package memory

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	natomic "github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	notesFileName    = "NOTES.md"
	notesBackupName  = "NOTES.md.bak"
	historyFileName  = "history.jsonl"
	lastDocumentName = "last_document.json"
)

// Turn is one history record. Persisted as a single JSON line so the
// log stays independently appendable.
type Turn struct {
	ID        string    `json:"id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	UserID    int64     `json:"user_id,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Document is the single-slot record of the most recent ingested file.
type Document struct {
	Filename  string    `json:"filename"`
	Text      string    `json:"text"`
	UserID    int64     `json:"user_id"`
	Timestamp time.Time `json:"ts"`
}

type NoteStats struct {
	Exists    bool
	SizeBytes int64
	Lines     int
	Sections  int
}

type HistoryStats struct {
	Turns        int
	SizeBytes    int64
	SkippedLines int64
}

// Store is the durable note and conversation storage for one
// workspace directory. Every mutation is a self-contained
// open-write-close under the store mutex, so interleaved callers can
// at most reorder whole operations, never tear one.
//
// Failed reads and writes degrade to empty/false results: callers
// treat those as the normal empty state, not as errors.
type Store struct {
	mu           sync.Mutex
	dir          string
	historyLimit int
	skipped      atomic.Int64

	now func() time.Time
}

func NewStore(dir string, historyLimit int) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve store dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Store{dir: abs, historyLimit: historyLimit, now: time.Now}, nil
}

func (s *Store) Dir() string { return s.dir }

// SkippedLines reports how many unparseable history lines have been
// skipped since this store was constructed. Corruption is tolerated
// but should stay observable.
func (s *Store) SkippedLines() int64 { return s.skipped.Load() }

func (s *Store) notesPath() string       { return filepath.Join(s.dir, notesFileName) }
func (s *Store) notesBackupPath() string { return filepath.Join(s.dir, notesBackupName) }
func (s *Store) lastDocPath() string     { return filepath.Join(s.dir, lastDocumentName) }

func (s *Store) historyPath(userID int64) string {
	if userID == 0 {
		return filepath.Join(s.dir, historyFileName)
	}
	return filepath.Join(s.dir, fmt.Sprintf("history_%d.jsonl", userID))
}

// safeWrite verifies a target path resolves inside the store
// directory. Every write-capable operation calls this first.
func (s *Store) safeWrite(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return strings.HasPrefix(abs, s.dir+string(filepath.Separator))
}

// --- notes ---

// AppendNote writes a new timestamped section to the note log.
func (s *Store) AppendNote(content string) bool {
	path := s.notesPath()
	if !s.safeWrite(path) {
		return false
	}

	stamp := s.now().UTC().Format("2006-01-02 15:04 UTC")
	entry := fmt.Sprintf("\n## %s\n\n%s\n\n---\n", stamp, strings.TrimSpace(content))

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("Failed to open note log", "path", path, "error", err)
		return false
	}
	defer f.Close()

	if _, err := f.WriteString(entry); err != nil {
		slog.Error("Failed to append note", "path", path, "error", err)
		return false
	}
	return true
}

// ReadNotes returns the full note log, empty when absent.
func (s *Store) ReadNotes() string {
	data, err := os.ReadFile(s.notesPath())
	if err != nil {
		return ""
	}
	return string(data)
}

// BackupNotes snapshots the note log next to itself. Required before
// any full rewrite.
func (s *Store) BackupNotes() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.notesPath())
	if err != nil {
		return false
	}
	if err := natomic.WriteFile(s.notesBackupPath(), bytes.NewReader(data)); err != nil {
		slog.Error("Failed to back up notes", "error", err)
		return false
	}
	return true
}

// OverwriteNotes replaces the note log wholesale. Callers must have
// taken a backup first.
func (s *Store) OverwriteNotes(content string) bool {
	path := s.notesPath()
	if !s.safeWrite(path) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := natomic.WriteFile(path, strings.NewReader(content)); err != nil {
		slog.Error("Failed to overwrite notes", "error", err)
		return false
	}
	return true
}

// RestoreNotesFromBackup recopies the last backup over the live file.
func (s *Store) RestoreNotesFromBackup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.notesBackupPath())
	if err != nil {
		return false
	}
	if err := natomic.WriteFile(s.notesPath(), bytes.NewReader(data)); err != nil {
		slog.Error("Failed to restore notes from backup", "error", err)
		return false
	}
	return true
}

func (s *Store) NoteStats() NoteStats {
	info, err := os.Stat(s.notesPath())
	if err != nil {
		return NoteStats{}
	}
	content := s.ReadNotes()
	return NoteStats{
		Exists:    true,
		SizeBytes: info.Size(),
		Lines:     len(strings.Split(content, "\n")),
		Sections:  strings.Count(content, "## "),
	}
}

// --- history ---

// AppendTurn appends one conversation turn. userID 0 targets the
// workspace-shared log; any other value targets that user's log.
// Unknown roles are rejected without raising.
func (s *Store) AppendTurn(role, content string, userID int64) bool {
	if role != RoleUser && role != RoleAssistant {
		return false
	}

	path := s.historyPath(userID)
	if !s.safeWrite(path) {
		return false
	}

	turn := Turn{
		ID:        ulid.Make().String(),
		Role:      role,
		Content:   content,
		UserID:    userID,
		Timestamp: s.now().UTC(),
	}
	line, err := json.Marshal(turn)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("Failed to open history log", "path", path, "error", err)
		return false
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Error("Failed to append turn", "path", path, "error", err)
		return false
	}
	return true
}

func (s *Store) readTurns(path string) []Turn {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var turns []Turn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var turn Turn
		if err := json.Unmarshal([]byte(line), &turn); err != nil {
			s.skipped.Add(1)
			slog.Warn("Skipping corrupt history line", "path", path)
			continue
		}
		turns = append(turns, turn)
	}
	return turns
}

// LoadHistory returns at most the last limit turns in chronological
// order. limit <= 0 falls back to the configured workspace limit.
func (s *Store) LoadHistory(limit int, userID int64) []Turn {
	if limit <= 0 {
		limit = s.historyLimit
	}
	turns := s.readTurns(s.historyPath(userID))
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns
}

// ClearHistory deletes the corresponding log file. Idempotent.
func (s *Store) ClearHistory(userID int64) bool {
	path := s.historyPath(userID)
	if !s.safeWrite(path) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Error("Failed to clear history", "path", path, "error", err)
		return false
	}
	return true
}

func (s *Store) HistoryStats(userID int64) HistoryStats {
	path := s.historyPath(userID)
	info, err := os.Stat(path)
	if err != nil {
		return HistoryStats{SkippedLines: s.skipped.Load()}
	}
	return HistoryStats{
		Turns:        len(s.readTurns(path)),
		SizeBytes:    info.Size(),
		SkippedLines: s.skipped.Load(),
	}
}

// LoadOtherUsersHistory merges the per-user logs of every authorized
// user except the excluded one, sorted by timestamp ascending and
// truncated to the last limit entries. Read-only: it never touches
// another user's log.
func (s *Store) LoadOtherUsersHistory(excludeUserID int64, authorizedUsers []int64, limit int) []Turn {
	var all []Turn
	for _, userID := range authorizedUsers {
		if userID == excludeUserID || userID == 0 {
			continue
		}
		for _, turn := range s.readTurns(s.historyPath(userID)) {
			if turn.UserID == 0 {
				turn.UserID = userID
			}
			all = append(all, turn)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// UserHistoryIDs lists the user ids that have per-user history files.
func (s *Store) UserHistoryIDs() []int64 {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var ids []int64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "history_") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		var id int64
		if _, err := fmt.Sscanf(name, "history_%d.jsonl", &id); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// --- last document ---

// SaveLastDocument overwrites the single document slot.
func (s *Store) SaveLastDocument(filename, text string, userID int64) bool {
	path := s.lastDocPath()
	if !s.safeWrite(path) {
		return false
	}

	doc := Document{
		Filename:  filename,
		Text:      text,
		UserID:    userID,
		Timestamp: s.now().UTC(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := natomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		slog.Error("Failed to save last document", "error", err)
		return false
	}
	return true
}

// LastDocument returns the stored document. A non-zero userID filters
// by owner: a mismatch yields nothing.
func (s *Store) LastDocument(userID int64) (*Document, bool) {
	data, err := os.ReadFile(s.lastDocPath())
	if err != nil {
		return nil, false
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	if userID != 0 && doc.UserID != userID {
		return nil, false
	}
	return &doc, true
}

// CatchupPrompt renders other users' recent turns into a
// summarization request for the LLM collaborator.
func CatchupPrompt(otherHistory []Turn, userNames map[int64]string) string {
	if len(otherHistory) == 0 {
		return ""
	}

	lines := []string{"Recent conversations from other workspace members:\n"}
	for _, turn := range otherHistory {
		label := userNames[turn.UserID]
		if label == "" {
			label = fmt.Sprintf("User %d", turn.UserID)
		}
		content := turn.Content
		if len(content) > 500 {
			cut := 500
			// Do not split a rune at the boundary.
			for cut > 0 && !utf8.RuneStart(content[cut]) {
				cut--
			}
			content = content[:cut]
		}
		day := turn.Timestamp.Format("2006-01-02")
		if turn.Role == RoleUser {
			lines = append(lines, fmt.Sprintf("[%s] %s: %s", day, label, content))
		} else {
			lines = append(lines, fmt.Sprintf("[%s] Luna: %s", day, content))
		}
	}
	lines = append(lines, "\n---")
	lines = append(lines, "Please provide a concise summary of what others discussed recently.")

	return strings.Join(lines, "\n")
}
