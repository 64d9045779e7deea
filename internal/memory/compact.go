package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// minCompactSize is the note-log size under which compaction is a
// no-op; rewriting a log that small costs tokens for nothing.
const minCompactSize = 500

const compactSystemPrompt = "You are a memory compactor for a personal assistant. " +
	"You rewrite accumulated notes into a smaller document while preserving every fact " +
	"that could matter later: names, dates, preferences, decisions, and open tasks. " +
	"Merge duplicates, drop pleasantries, keep the markdown section structure."

// Summarizer is the slice of the LLM collaborator that compaction
// needs.
type Summarizer interface {
	Summarize(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// NoteLog is the slice of the store that compaction rewrites.
type NoteLog interface {
	ReadNotes() string
	BackupNotes() bool
	OverwriteNotes(content string) bool
	RestoreNotesFromBackup() bool
}

// Compactor rewrites a store's note log via the LLM into a shorter
// equivalent. The live file is backed up before any overwrite and
// restored if the overwrite fails, so the worst outcome of a
// mid-flight crash is a stale backup.
type Compactor struct {
	llm       Summarizer
	maxTokens int
}

func NewCompactor(llm Summarizer, maxTokens int) *Compactor {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Compactor{llm: llm, maxTokens: maxTokens}
}

// Compact runs one compaction cycle against the given store. With
// dryRun the rewritten text is returned for preview and nothing on
// disk changes. The bool result reports whether a rewrite happened
// (or, for dry runs, would have).
func (c *Compactor) Compact(ctx context.Context, store NoteLog, dryRun bool) (bool, string) {
	notes := store.ReadNotes()
	if len(notes) < minCompactSize {
		return false, fmt.Sprintf("Notes are only %d bytes, nothing to compact.", len(notes))
	}

	prompt := fmt.Sprintf(
		"Compact the following notes. Respond with only the rewritten document.\n\n%s",
		notes,
	)
	rewritten, err := c.llm.Summarize(ctx, compactSystemPrompt, prompt, c.maxTokens)
	if err != nil {
		slog.Error("Compaction request failed", "error", err)
		return false, fmt.Sprintf("Compaction failed: %v", err)
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return false, "Compaction produced an empty document, keeping the original."
	}

	if dryRun {
		preview := fmt.Sprintf(
			"Dry run: %d bytes would become %d bytes (%.0f%% reduction).\n\n%s",
			len(notes), len(rewritten), reductionPercent(len(notes), len(rewritten)), rewritten,
		)
		return true, preview
	}

	if !store.BackupNotes() {
		return false, "Could not back up notes, aborting compaction."
	}
	if !store.OverwriteNotes(rewritten + "\n") {
		if store.RestoreNotesFromBackup() {
			return false, "Compaction write failed, notes restored from backup."
		}
		return false, "Compaction write failed and restore failed; check NOTES.md.bak."
	}

	slog.Info("Compacted notes",
		"before_bytes", len(notes),
		"after_bytes", len(rewritten),
	)
	return true, fmt.Sprintf("Compacted notes: %d bytes -> %d bytes (%.0f%% reduction).",
		len(notes), len(rewritten), reductionPercent(len(notes), len(rewritten)))
}

func reductionPercent(before, after int) float64 {
	if before == 0 {
		return 0
	}
	return 100 * float64(before-after) / float64(before)
}
