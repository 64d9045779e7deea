// Package bot routes inbound messages to commands, the chat flow,
// and the background jobs.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lunabot/luna/internal/adapter"
	"github.com/lunabot/luna/internal/config"
	"github.com/lunabot/luna/internal/digest"
	"github.com/lunabot/luna/internal/document"
	"github.com/lunabot/luna/internal/logger"
	"github.com/lunabot/luna/internal/memory"
	"github.com/lunabot/luna/internal/model"
	"github.com/lunabot/luna/internal/model/contract"
	"github.com/lunabot/luna/internal/reminder"
	"github.com/lunabot/luna/internal/scheduler"
	"github.com/lunabot/luna/internal/search"
	"github.com/lunabot/luna/internal/usage"
	"github.com/lunabot/luna/internal/vision"
	"github.com/lunabot/luna/internal/voice"
	"github.com/lunabot/luna/internal/workspace"
)

const chatTimeout = 120 * time.Second

// FileFetcher downloads a platform file to a local temp path.
type FileFetcher interface {
	DownloadFile(ctx context.Context, fileID string) (string, func(), error)
}

// Deps carries everything the bot orchestrates.
type Deps struct {
	Config     *config.Config
	Workspaces *workspace.Manager
	Reminders  *reminder.Store
	Ledger     *usage.Ledger
	Router     *model.Router
	Digest     *digest.Generator
	Searcher   *search.Client
	Voice      *voice.Transcriber
	Out        adapter.OutputAdapter
	Files      FileFetcher
	Sched      *scheduler.Scheduler
}

type Bot struct {
	cfg        *config.Config
	workspaces *workspace.Manager
	reminders  *reminder.Store
	ledger     *usage.Ledger
	router     *model.Router
	compactor  *memory.Compactor
	digest     *digest.Generator
	searcher   *search.Client
	voice      *voice.Transcriber
	out        adapter.OutputAdapter
	files      FileFetcher
	sched      *scheduler.Scheduler

	storesMu sync.Mutex
	stores   map[string]*memory.Store
}

func New(deps Deps) *Bot {
	b := &Bot{
		cfg:        deps.Config,
		workspaces: deps.Workspaces,
		reminders:  deps.Reminders,
		ledger:     deps.Ledger,
		router:     deps.Router,
		digest:     deps.Digest,
		searcher:   deps.Searcher,
		voice:      deps.Voice,
		out:        deps.Out,
		files:      deps.Files,
		sched:      deps.Sched,
		stores:     make(map[string]*memory.Store),
	}
	b.compactor = memory.NewCompactor(&routerSummarizer{
		router: deps.Router,
		sink:   deps.Ledger,
	}, deps.Config.Anthropic.MaxTokens)
	return b
}

// routerSummarizer adapts the router to the compactor's narrow
// interface, keeping usage accounting on.
type routerSummarizer struct {
	router *model.Router
	sink   usage.Recorder
}

func (r *routerSummarizer) Summarize(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	resp, err := r.router.Chat(ctx, contract.ChatRequest{
		System:    system,
		Messages:  []contract.Message{{Role: contract.RoleUser, Content: prompt}},
		MaxTokens: maxTokens,
	}, r.sink)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// store returns the memory store for a workspace, creating it on
// first use.
func (b *Bot) store(ws string) (*memory.Store, error) {
	b.storesMu.Lock()
	defer b.storesMu.Unlock()

	if s, ok := b.stores[ws]; ok {
		return s, nil
	}
	dir, err := b.workspaces.Path(ws)
	if err != nil {
		return nil, err
	}
	s, err := memory.NewStore(dir, b.cfg.Workspaces.HistoryLimit)
	if err != nil {
		return nil, err
	}
	b.stores[ws] = s
	return s, nil
}

// historyUser picks the history scope: shared-dm keeps one log per
// user, everything else shares the workspace log.
func (b *Bot) historyUser(ws string, userID int64) int64 {
	if b.workspaces.Mode(ws) == workspace.ModeSharedDM {
		return userID
	}
	return 0
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.out.Send(ctx, chatID, text); err != nil {
		slog.Error("Failed to send reply", "chat_id", chatID, "error", err)
	}
}

// Handle is the adapter callback for every inbound message.
func (b *Bot) Handle(ctx context.Context, msg adapter.Message) {
	ws, ok := b.resolveWorkspace(msg)
	if !ok {
		return
	}
	ctx = logger.WithTraceID(ctx, ulid.Make().String())
	ctx = logger.WithWorkspace(ctx, ws)

	if !b.workspaces.IsAuthorized(ws, msg.UserID) {
		// Silence in groups; a DM gets told.
		if !msg.IsGroup {
			b.reply(ctx, msg.ChatID, "Sorry, you're not authorized to use this assistant.")
		}
		slog.Warn("Rejected unauthorized message", "user_id", msg.UserID, "workspace", ws)
		return
	}

	if msg.Voice != nil {
		text, err := b.transcribeVoice(ctx, msg)
		if err != nil {
			b.reply(ctx, msg.ChatID, "I couldn't transcribe that voice message.")
			slog.Error("Voice transcription failed", "error", err)
			return
		}
		msg.Text = text
	}

	if msg.Photo != nil {
		b.describePhoto(ctx, ws, msg)
		return
	}

	if msg.Document != nil {
		b.ingestDocument(ctx, ws, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, ws, msg, text)
		return
	}

	// Mention-gated groups ignore ambient chatter.
	if msg.IsGroup && b.workspaces.ListenMode(ws) == workspace.ListenMentions && !msg.Mentioned {
		return
	}

	b.chat(ctx, ws, msg, text)
}

func (b *Bot) resolveWorkspace(msg adapter.Message) (string, bool) {
	if msg.IsGroup {
		ws, ok := b.workspaces.WorkspaceForGroup(msg.ChatID)
		if !ok {
			return "", false
		}
		return ws, true
	}
	return b.workspaces.Current(), true
}

func (b *Bot) transcribeVoice(ctx context.Context, msg adapter.Message) (string, error) {
	if b.voice == nil || !b.voice.Enabled() {
		return "", fmt.Errorf("transcription not configured")
	}
	if b.files == nil {
		return "", fmt.Errorf("no file fetcher")
	}

	path, cleanup, err := b.files.DownloadFile(ctx, msg.Voice.FileID)
	if err != nil {
		return "", err
	}
	defer cleanup()

	return b.voice.Transcribe(ctx, path)
}

// describePhoto routes a photo through an image-capable model with
// its caption. One-shot: the exchange is not written to history.
func (b *Bot) describePhoto(ctx context.Context, ws string, msg adapter.Message) {
	if b.files == nil {
		b.reply(ctx, msg.ChatID, "I can't fetch photos on this platform.")
		return
	}

	path, cleanup, err := b.files.DownloadFile(ctx, msg.Photo.FileID)
	if err != nil {
		b.reply(ctx, msg.ChatID, "I couldn't download that photo.")
		slog.Error("Photo download failed", "error", err)
		return
	}
	defer cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		b.reply(ctx, msg.ChatID, "I couldn't read that photo.")
		return
	}

	mediaType, err := vision.Detect(data)
	if err != nil {
		b.reply(ctx, msg.ChatID, fmt.Sprintf("I can't work with that image: %v", err))
		return
	}

	caption := strings.TrimSpace(msg.Text)
	if caption == "" {
		caption = vision.DefaultPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	resp, err := b.router.Chat(ctx, contract.ChatRequest{
		Model:  b.workspaces.ModelOverride(ws),
		System: b.workspaces.ComposeContext(),
		Messages: []contract.Message{{
			Role:    contract.RoleUser,
			Content: caption,
			Image:   &contract.Image{MediaType: mediaType, Data: data},
		}},
		MaxTokens: b.cfg.Anthropic.MaxTokens,
	}, b.ledger)
	if err != nil {
		b.reply(ctx, msg.ChatID, "I couldn't look at that photo right now.")
		slog.Error("Photo request failed", "error", err)
		return
	}
	b.reply(ctx, msg.ChatID, resp.Text)
}

func (b *Bot) ingestDocument(ctx context.Context, ws string, msg adapter.Message) {
	if b.files == nil {
		b.reply(ctx, msg.ChatID, "I can't fetch files on this platform.")
		return
	}

	path, cleanup, err := b.files.DownloadFile(ctx, msg.Document.FileID)
	if err != nil {
		b.reply(ctx, msg.ChatID, "I couldn't download that file.")
		slog.Error("Document download failed", "error", err)
		return
	}
	defer cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		b.reply(ctx, msg.ChatID, "I couldn't read that file.")
		return
	}

	text, err := document.Extract(msg.Document.FileName, data)
	if err != nil {
		b.reply(ctx, msg.ChatID, fmt.Sprintf("I can't work with that file: %v", err))
		return
	}

	store, err := b.store(ws)
	if err != nil || !store.SaveLastDocument(msg.Document.FileName, text, msg.UserID) {
		b.reply(ctx, msg.ChatID, "I couldn't store that document.")
		return
	}

	b.reply(ctx, msg.ChatID, fmt.Sprintf(
		"Got %s (%d characters). Send /summarize for a summary, or just ask me about it.",
		msg.Document.FileName, len(text),
	))
}

// chat runs the free-text flow: persist the user turn, compose
// context, call the model, persist and deliver the reply.
func (b *Bot) chat(ctx context.Context, ws string, msg adapter.Message, text string) {
	store, err := b.store(ws)
	if err != nil {
		b.reply(ctx, msg.ChatID, "Workspace storage is unavailable right now.")
		return
	}

	histUser := b.historyUser(ws, msg.UserID)
	store.AppendTurn(memory.RoleUser, text, histUser)

	messages := b.contextMessages(store, histUser)

	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	resp, err := b.router.Chat(ctx, contract.ChatRequest{
		Model:     b.workspaces.ModelOverride(ws),
		System:    b.workspaces.ComposeContext(),
		Messages:  messages,
		MaxTokens: b.cfg.Anthropic.MaxTokens,
	}, b.ledger)
	if err != nil {
		b.reply(ctx, msg.ChatID, "I'm having trouble reaching my brain right now. Try again in a moment.")
		slog.Error("Chat request failed", "workspace", ws, "error", err)
		return
	}

	store.AppendTurn(memory.RoleAssistant, resp.Text, histUser)
	b.reply(ctx, msg.ChatID, resp.Text)
}

// contextMessages converts stored history into the model request. The
// just-appended user turn is already in the log, so it arrives as the
// final message.
func (b *Bot) contextMessages(store *memory.Store, histUser int64) []contract.Message {
	turns := store.LoadHistory(0, histUser)
	messages := make([]contract.Message, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, contract.Message{Role: turn.Role, Content: turn.Content})
	}
	return messages
}

// RegisterJobs wires the recurring background work: the morning
// digest, the heartbeat check, and scheduled note compaction.
func (b *Bot) RegisterJobs() error {
	if b.cfg.Digest.Enabled && b.digest != nil {
		if err := b.digest.Schedule(b.sched, b.cfg.Digest.Time); err != nil {
			return err
		}
	}

	if b.cfg.Heartbeat.Enabled {
		interval, err := config.DurationOrDefault(b.cfg.Heartbeat.Interval, config.DefaultHeartbeatInterval)
		if err != nil {
			return fmt.Errorf("parse heartbeat.interval: %w", err)
		}
		if err := b.sched.RunCron("heartbeat", "@every "+interval.String(), b.runHeartbeat); err != nil {
			return err
		}
	}

	if b.cfg.Heartbeat.CompactEnabled {
		if err := b.sched.RunCron("compact", b.cfg.Heartbeat.CompactCron, b.runScheduledCompaction); err != nil {
			return err
		}
	}

	return nil
}

// heartbeatCheck asks the model to review the workspace's
// HEARTBEAT.md checklist once and returns the trimmed answer. An
// empty answer means no checklist is configured.
func (b *Bot) heartbeatCheck(ctx context.Context) (string, error) {
	prompt := b.workspaces.HeartbeatPrompt()
	if strings.TrimSpace(prompt) == "" {
		return "", nil
	}

	resp, err := b.router.Chat(ctx, contract.ChatRequest{
		System: b.workspaces.ComposeContext() +
			"\n\nYou are running a periodic heartbeat check. If nothing needs the user's attention, reply with exactly OK.",
		Messages:  []contract.Message{{Role: contract.RoleUser, Content: prompt}},
		MaxTokens: b.cfg.Anthropic.MaxTokens,
	}, b.ledger)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// runHeartbeat is the scheduled wrapper. A reply of OK means nothing
// needs attention; anything else goes to the alert chat.
func (b *Bot) runHeartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), chatTimeout)
	defer cancel()

	answer, err := b.heartbeatCheck(ctx)
	if err != nil {
		slog.Error("Heartbeat check failed", "error", err)
		return
	}
	if answer == "" || strings.EqualFold(answer, "OK") {
		slog.Debug("Heartbeat quiet")
		return
	}

	alertChat := b.cfg.Telegram.AlertChatID
	if alertChat == 0 {
		slog.Info("Heartbeat raised attention but no alert chat is configured", "text", answer)
		return
	}
	b.reply(ctx, alertChat, "💓 "+answer)
}

func (b *Bot) runScheduledCompaction() {
	ws := b.workspaces.Current()
	store, err := b.store(ws)
	if err != nil {
		slog.Error("Scheduled compaction skipped", "workspace", ws, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), chatTimeout)
	defer cancel()

	changed, detail := b.compactor.Compact(ctx, store, false)
	slog.Info("Scheduled compaction finished", "workspace", ws, "changed", changed, "detail", detail)
}
