package bot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunabot/luna/internal/adapter"
	"github.com/lunabot/luna/internal/config"
	"github.com/lunabot/luna/internal/digest"
	"github.com/lunabot/luna/internal/memory"
	"github.com/lunabot/luna/internal/model"
	"github.com/lunabot/luna/internal/model/contract"
	"github.com/lunabot/luna/internal/reminder"
	"github.com/lunabot/luna/internal/scheduler"
	"github.com/lunabot/luna/internal/usage"
	"github.com/lunabot/luna/internal/vision"
	"github.com/lunabot/luna/internal/workspace"
)

type stubModel struct {
	reply   string
	lastReq contract.ChatRequest
	calls   int
}

func (s *stubModel) Name() string { return "anthropic" }

func (s *stubModel) Chat(_ context.Context, req contract.ChatRequest) (*contract.ChatResponse, error) {
	s.lastReq = req
	s.calls++
	return &contract.ChatResponse{
		Text:         s.reply,
		Model:        req.Model,
		InputTokens:  10,
		OutputTokens: 5,
	}, nil
}

type harness struct {
	bot   *Bot
	out   *adapter.Null
	model *stubModel
	ws    *workspace.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()

	entries := map[string]config.WorkspaceEntry{
		"main":   {Mode: workspace.ModeSingle, ListenMode: workspace.ListenAll},
		"family": {Mode: workspace.ModeSharedDM, AuthorizedUsers: []int64{100, 200}, ListenMode: workspace.ListenAll},
		"team":   {Mode: workspace.ModeGroup, TelegramGroupID: -500, ListenMode: workspace.ListenMentions},
	}

	cfg := &config.Config{
		Anthropic: config.AnthropicConfig{MaxTokens: 1024},
		Models: config.ModelsConfig{
			Default: config.DefaultModel,
		},
		Workspaces: config.WorkspacesConfig{
			Root:         root,
			Default:      "main",
			HistoryLimit: 20,
			Configs:      entries,
		},
	}

	manager, err := workspace.NewManager(root, "main", entries)
	require.NoError(t, err)

	sched := scheduler.New()
	t.Cleanup(sched.Stop)

	out := adapter.NewNull()

	reminders, err := reminder.New(filepath.Join(root, "reminders.json"), sched, out)
	require.NoError(t, err)

	ledger, err := usage.NewLedger(filepath.Join(root, "usage.json"), nil)
	require.NoError(t, err)

	stub := &stubModel{reply: "stub reply"}
	router := model.NewRouter(config.DefaultModel, map[string]string{
		"sonnet": "claude-sonnet-4-20250514",
		"opus":   "claude-opus-4-20250514",
	})
	router.Register(stub, "claude")

	notesStore, err := memory.NewStore(filepath.Join(root, "main"), 20)
	require.NoError(t, err)
	dig := digest.NewGenerator(digest.Config{}, reminders, notesStore, out)

	b := New(Deps{
		Config:     cfg,
		Workspaces: manager,
		Reminders:  reminders,
		Ledger:     ledger,
		Router:     router,
		Digest:     dig,
		Out:        out,
		Sched:      sched,
	})

	return &harness{bot: b, out: out, model: stub, ws: manager}
}

func dm(userID, chatID int64, text string) adapter.Message {
	return adapter.Message{Source: "telegram", ChatID: chatID, UserID: userID, Text: text}
}

// stubFiles serves a fixed local file for any download request.
type stubFiles struct {
	path string
}

func (s *stubFiles) DownloadFile(_ context.Context, fileID string) (string, func(), error) {
	return s.path, func() {}, nil
}

func TestChatFlowPersistsAndReplies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.bot.Handle(ctx, dm(100, 1, "hello there"))

	sent := h.out.Sent(1)
	require.Len(t, sent, 1)
	assert.Equal(t, "stub reply", sent[0])

	// Both turns persisted in the workspace-shared log.
	store, err := h.bot.store("main")
	require.NoError(t, err)
	turns := store.LoadHistory(0, 0)
	require.Len(t, turns, 2)
	assert.Equal(t, "hello there", turns[0].Content)
	assert.Equal(t, "stub reply", turns[1].Content)

	// The user turn reached the model as the final message.
	last := h.model.lastReq.Messages[len(h.model.lastReq.Messages)-1]
	assert.Equal(t, "hello there", last.Content)
	assert.Equal(t, "claude-sonnet-4-20250514", h.model.lastReq.Model)

	// Usage was recorded.
	assert.Greater(t, h.bot.ledger.TotalCost(), 0.0)
}

func TestUnauthorizedUserInSharedWorkspace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ws.Path("family")
	require.NoError(t, err)
	require.True(t, h.ws.Switch("family"))

	h.bot.Handle(ctx, dm(999, 5, "let me in"))

	sent := h.out.Sent(5)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "not authorized")
	assert.Zero(t, h.model.calls)
}

func TestSharedWorkspaceKeepsPerUserHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ws.Path("family")
	require.NoError(t, err)
	require.True(t, h.ws.Switch("family"))

	h.bot.Handle(ctx, dm(100, 5, "from alice"))
	h.bot.Handle(ctx, dm(200, 6, "from bob"))

	store, err := h.bot.store("family")
	require.NoError(t, err)
	assert.Len(t, store.LoadHistory(0, 100), 2)
	assert.Len(t, store.LoadHistory(0, 200), 2)
	assert.Empty(t, store.LoadHistory(0, 0))
}

func TestGroupMentionGating(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	group := adapter.Message{Source: "telegram", ChatID: -500, UserID: 100, Text: "hello", IsGroup: true}
	h.bot.Handle(ctx, group)
	assert.Empty(t, h.out.Sent(-500))
	assert.Zero(t, h.model.calls)

	group.Mentioned = true
	h.bot.Handle(ctx, group)
	assert.Len(t, h.out.Sent(-500), 1)
}

func TestUnboundGroupIsIgnored(t *testing.T) {
	h := newHarness(t)

	h.bot.Handle(context.Background(), adapter.Message{ChatID: -999, UserID: 100, Text: "hi", IsGroup: true, Mentioned: true})
	assert.Empty(t, h.out.Sent(-999))
}

func TestRememberAndNotes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.bot.Handle(ctx, dm(100, 1, "/remember the wifi password is hunter2"))
	h.bot.Handle(ctx, dm(100, 1, "/notes"))

	sent := h.out.Sent(1)
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0], "Noted")
	assert.Contains(t, sent[1], "the wifi password is hunter2")
}

func TestNotesEmpty(t *testing.T) {
	h := newHarness(t)

	h.bot.Handle(context.Background(), dm(100, 1, "/notes"))
	assert.Contains(t, h.out.Sent(1)[0], "No notes yet")
}

func TestRemindLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.bot.Handle(ctx, dm(100, 1, "/remind call mom in 2 hours"))
	sent := h.out.Sent(1)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "call mom")

	pending := h.bot.reminders.List(0, "main")
	require.Len(t, pending, 1)

	h.bot.Handle(ctx, dm(100, 1, "/reminders"))
	assert.Contains(t, h.out.Sent(1)[1], pending[0].ID)

	h.bot.Handle(ctx, dm(100, 1, "/cancel "+pending[0].ID))
	assert.Contains(t, h.out.Sent(1)[2], "Cancelled")
	assert.Zero(t, h.bot.reminders.Count())
}

func TestRemindRejectsTimelessText(t *testing.T) {
	h := newHarness(t)

	h.bot.Handle(context.Background(), dm(100, 1, "/remind buy milk eventually perhaps"))
	assert.Contains(t, h.out.Sent(1)[0], "couldn't set that reminder")
}

func TestUsageCommand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.bot.Handle(ctx, dm(100, 1, "hello"))
	h.bot.Handle(ctx, dm(100, 1, "/usage"))

	sent := h.out.Sent(1)
	assert.Contains(t, sent[1], "claude-sonnet-4-20250514")

	h.bot.Handle(ctx, dm(100, 1, "/usage reset"))
	h.bot.Handle(ctx, dm(100, 1, "/usage"))
	assert.Contains(t, h.out.Sent(1)[3], "No usage recorded yet")
}

func TestWorkspaceCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ws.Path("family")
	require.NoError(t, err)

	h.bot.Handle(ctx, dm(100, 1, "/workspace list"))
	assert.Contains(t, h.out.Sent(1)[0], "main")
	assert.Contains(t, h.out.Sent(1)[0], "family")

	h.bot.Handle(ctx, dm(100, 1, "/workspace switch family"))
	assert.Contains(t, h.out.Sent(1)[1], "Switched to family")
	assert.Equal(t, "family", h.ws.Current())

	// Users outside the allow list cannot switch into shared spaces.
	h.bot.Handle(ctx, dm(100, 1, "/workspace switch main"))
	h.bot.Handle(ctx, dm(100, 1, "/workspace switch family"))
	h.bot.Handle(ctx, adapter.Message{ChatID: 2, UserID: 999, Text: "/workspace switch family"})
	assert.Contains(t, h.out.Sent(2)[0], "not authorized")
}

func TestCompactDryRunCommand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	store, err := h.bot.store("main")
	require.NoError(t, err)
	require.True(t, store.AppendNote(strings.Repeat("an important fact. ", 50)))

	h.model.reply = "condensed notes"
	h.bot.Handle(ctx, dm(100, 1, "/compact --dry-run"))

	sent := h.out.Sent(1)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "Dry run")
	assert.Contains(t, store.ReadNotes(), "an important fact")
}

func TestDigestCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.bot.Handle(ctx, dm(100, 1, "/digest on"))
	assert.Equal(t, []int64{1}, h.bot.digest.Recipients())

	h.bot.Handle(ctx, dm(100, 1, "/digest now"))
	assert.Contains(t, h.out.Sent(1)[1], "digest")

	h.bot.Handle(ctx, dm(100, 1, "/digest off"))
	assert.Empty(t, h.bot.digest.Recipients())
}

func TestClearHistoryCommand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.bot.Handle(ctx, dm(100, 1, "hello"))
	h.bot.Handle(ctx, dm(100, 1, "/clear"))

	store, err := h.bot.store("main")
	require.NoError(t, err)
	assert.Empty(t, store.LoadHistory(0, 0))
	assert.Contains(t, h.out.Sent(1)[1], "cleared")
}

func TestStatusCommand(t *testing.T) {
	h := newHarness(t)

	h.bot.Handle(context.Background(), dm(100, 1, "/status"))
	status := h.out.Sent(1)[0]
	assert.Contains(t, status, "workspace: main")
	assert.Contains(t, status, "anthropic")
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)

	h.bot.Handle(context.Background(), dm(100, 1, "/frobnicate"))
	assert.Contains(t, h.out.Sent(1)[0], "/help")
}

func TestGroupCommandWithBotSuffix(t *testing.T) {
	h := newHarness(t)

	h.bot.Handle(context.Background(), adapter.Message{ChatID: -500, UserID: 100, Text: "/status@LunaBot", IsGroup: true})
	assert.Contains(t, h.out.Sent(-500)[0], "Luna status")
}

func TestHeartbeatCommandRunsCheckOnDemand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	dir, err := h.ws.Path("main")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "HEARTBEAT.md"), []byte("- did the plants get watered?\n"), 0o644))

	h.model.reply = "The plants still need watering."
	h.bot.Handle(ctx, dm(100, 1, "/heartbeat"))

	sent := h.out.Sent(1)
	require.Len(t, sent, 1)
	assert.Equal(t, "💓 The plants still need watering.", sent[0])
	assert.Contains(t, h.model.lastReq.System, "heartbeat check")
}

func TestHeartbeatCommandWithoutChecklist(t *testing.T) {
	h := newHarness(t)

	h.bot.Handle(context.Background(), dm(100, 1, "/heartbeat"))

	sent := h.out.Sent(1)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "No heartbeat checklist")
	assert.Zero(t, h.model.calls)
}

func TestPhotoRoutedToModel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F'}, 0o644))
	h.bot.files = &stubFiles{path: path}

	msg := dm(100, 1, "what plant is this?")
	msg.Photo = &adapter.Attachment{FileID: "f1", FileName: "photo.jpg"}
	h.bot.Handle(ctx, msg)

	sent := h.out.Sent(1)
	require.Len(t, sent, 1)
	assert.Equal(t, "stub reply", sent[0])

	require.Len(t, h.model.lastReq.Messages, 1)
	got := h.model.lastReq.Messages[0]
	require.NotNil(t, got.Image)
	assert.Equal(t, "image/jpeg", got.Image.MediaType)
	assert.Equal(t, "what plant is this?", got.Content)

	// One-shot: the exchange stays out of the workspace log.
	store, err := h.bot.store("main")
	require.NoError(t, err)
	assert.Empty(t, store.LoadHistory(0, 0))
}

func TestPhotoWithoutCaptionUsesDefaultPrompt(t *testing.T) {
	h := newHarness(t)

	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, 0o644))
	h.bot.files = &stubFiles{path: path}

	msg := dm(100, 1, "")
	msg.Photo = &adapter.Attachment{FileID: "f1", FileName: "photo.jpg"}
	h.bot.Handle(context.Background(), msg)

	require.Len(t, h.model.lastReq.Messages, 1)
	got := h.model.lastReq.Messages[0]
	assert.Equal(t, vision.DefaultPrompt, got.Content)
	assert.Equal(t, "image/png", got.Image.MediaType)
}

func TestPhotoRejectsNonImagePayload(t *testing.T) {
	h := newHarness(t)

	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("this is not a picture"), 0o644))
	h.bot.files = &stubFiles{path: path}

	msg := dm(100, 1, "")
	msg.Photo = &adapter.Attachment{FileID: "f1", FileName: "photo.jpg"}
	h.bot.Handle(context.Background(), msg)

	sent := h.out.Sent(1)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "can't work with that image")
	assert.Zero(t, h.model.calls)
}
