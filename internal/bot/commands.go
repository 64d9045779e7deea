package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/shlex"

	"github.com/lunabot/luna/internal/adapter"
	"github.com/lunabot/luna/internal/document"
	"github.com/lunabot/luna/internal/export"
	"github.com/lunabot/luna/internal/memory"
	"github.com/lunabot/luna/internal/model/contract"
	"github.com/lunabot/luna/internal/search"
	"github.com/lunabot/luna/internal/workspace"
)

const helpText = `I'm Luna. Talk to me, or use a command:

/remember <text> — save a note
/notes — show saved notes
/compact [--dry-run] — rewrite notes into a smaller document
/history — conversation log stats
/clear — wipe the conversation log
/remind <what and when> — set a reminder ("call mom in 2 hours")
/reminders — list pending reminders
/cancel <id> — cancel a reminder
/digest on|off|now — morning digest subscription
/usage [reset] — token and cost report
/workspace list|switch|info — manage workspaces
/search <query> — web search
/summarize — summarize the last document you sent
/catchup — what others discussed (shared workspaces)
/export [notes|history] [md|json|yaml] — download workspace data
/heartbeat — run the heartbeat check now
/status — assistant status`

// handleCommand parses and dispatches a slash command. Quoting is
// honored; a lone unmatched quote falls back to whitespace splitting.
func (b *Bot) handleCommand(ctx context.Context, ws string, msg adapter.Message, text string) {
	args, err := shlex.Split(text)
	if err != nil {
		args = strings.Fields(text)
	}
	if len(args) == 0 {
		return
	}

	// Group commands arrive as /cmd@BotName.
	cmd := args[0]
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	rest := strings.TrimSpace(strings.TrimPrefix(text, args[0]))

	switch cmd {
	case "/start", "/help":
		b.reply(ctx, msg.ChatID, helpText)
	case "/remember":
		b.cmdRemember(ctx, ws, msg, rest)
	case "/notes":
		b.cmdNotes(ctx, ws, msg)
	case "/compact":
		b.cmdCompact(ctx, ws, msg, args[1:])
	case "/history":
		b.cmdHistory(ctx, ws, msg)
	case "/clear":
		b.cmdClear(ctx, ws, msg)
	case "/remind":
		b.cmdRemind(ctx, ws, msg, rest)
	case "/reminders":
		b.cmdReminders(ctx, ws, msg)
	case "/cancel":
		b.cmdCancel(ctx, msg, args[1:])
	case "/digest":
		b.cmdDigest(ctx, msg, args[1:])
	case "/usage":
		b.cmdUsage(ctx, msg, args[1:])
	case "/workspace":
		b.cmdWorkspace(ctx, msg, args[1:])
	case "/search":
		b.cmdSearch(ctx, msg, rest)
	case "/summarize":
		b.cmdSummarize(ctx, ws, msg)
	case "/catchup":
		b.cmdCatchup(ctx, ws, msg)
	case "/export":
		b.cmdExport(ctx, ws, msg, args[1:])
	case "/heartbeat":
		b.cmdHeartbeat(ctx, msg)
	case "/status":
		b.cmdStatus(ctx, ws, msg)
	default:
		b.reply(ctx, msg.ChatID, "I don't know that command. Try /help.")
	}
}

func (b *Bot) cmdRemember(ctx context.Context, ws string, msg adapter.Message, rest string) {
	if rest == "" {
		b.reply(ctx, msg.ChatID, "What should I remember? Usage: /remember <text>")
		return
	}
	store, err := b.store(ws)
	if err != nil || !store.AppendNote(rest) {
		b.reply(ctx, msg.ChatID, "I couldn't save that note.")
		return
	}
	b.reply(ctx, msg.ChatID, "Noted. 📝")
}

func (b *Bot) cmdNotes(ctx context.Context, ws string, msg adapter.Message) {
	store, err := b.store(ws)
	if err != nil {
		b.reply(ctx, msg.ChatID, "Workspace storage is unavailable right now.")
		return
	}
	notes := store.ReadNotes()
	if strings.TrimSpace(notes) == "" {
		b.reply(ctx, msg.ChatID, "No notes yet. Use /remember to add one.")
		return
	}
	b.reply(ctx, msg.ChatID, notes)
}

func (b *Bot) cmdCompact(ctx context.Context, ws string, msg adapter.Message, args []string) {
	dryRun := false
	for _, arg := range args {
		if arg == "--dry-run" {
			dryRun = true
		}
	}

	store, err := b.store(ws)
	if err != nil {
		b.reply(ctx, msg.ChatID, "Workspace storage is unavailable right now.")
		return
	}

	_, detail := b.compactor.Compact(ctx, store, dryRun)
	b.reply(ctx, msg.ChatID, detail)
}

func (b *Bot) cmdHistory(ctx context.Context, ws string, msg adapter.Message) {
	store, err := b.store(ws)
	if err != nil {
		b.reply(ctx, msg.ChatID, "Workspace storage is unavailable right now.")
		return
	}

	stats := store.HistoryStats(b.historyUser(ws, msg.UserID))
	text := fmt.Sprintf("Conversation log: %d turns, %d bytes.", stats.Turns, stats.SizeBytes)
	if stats.SkippedLines > 0 {
		text += fmt.Sprintf(" (%d corrupt lines skipped)", stats.SkippedLines)
	}
	b.reply(ctx, msg.ChatID, text)
}

func (b *Bot) cmdClear(ctx context.Context, ws string, msg adapter.Message) {
	store, err := b.store(ws)
	if err != nil || !store.ClearHistory(b.historyUser(ws, msg.UserID)) {
		b.reply(ctx, msg.ChatID, "I couldn't clear the log.")
		return
	}
	b.reply(ctx, msg.ChatID, "Conversation log cleared. Fresh start!")
}

func (b *Bot) cmdRemind(ctx context.Context, ws string, msg adapter.Message, rest string) {
	if rest == "" {
		b.reply(ctx, msg.ChatID, "Usage: /remind <what and when>, e.g. /remind call mom in 2 hours")
		return
	}

	r, err := b.reminders.Create(msg.UserID, msg.ChatID, rest, ws)
	if err != nil {
		b.reply(ctx, msg.ChatID, fmt.Sprintf("I couldn't set that reminder: %v", err))
		return
	}
	b.reply(ctx, msg.ChatID, fmt.Sprintf(
		"⏰ Got it — %q at %s (id %s).",
		r.Message, r.TriggerAt.Format("Mon Jan 2 15:04"), r.ID,
	))
}

func (b *Bot) cmdReminders(ctx context.Context, ws string, msg adapter.Message) {
	pending := b.reminders.List(0, ws)
	if len(pending) == 0 {
		b.reply(ctx, msg.ChatID, "No pending reminders.")
		return
	}

	lines := []string{"⏰ Pending reminders:"}
	for _, r := range pending {
		lines = append(lines, fmt.Sprintf("• [%s] %s — %s", r.ID, r.TriggerAt.Format("Mon Jan 2 15:04"), r.Message))
	}
	b.reply(ctx, msg.ChatID, strings.Join(lines, "\n"))
}

func (b *Bot) cmdCancel(ctx context.Context, msg adapter.Message, args []string) {
	if len(args) == 0 {
		b.reply(ctx, msg.ChatID, "Usage: /cancel <id> (see /reminders)")
		return
	}
	if !b.reminders.Cancel(args[0]) {
		b.reply(ctx, msg.ChatID, fmt.Sprintf("No reminder with id %s.", args[0]))
		return
	}
	b.reply(ctx, msg.ChatID, "Cancelled.")
}

func (b *Bot) cmdDigest(ctx context.Context, msg adapter.Message, args []string) {
	if b.digest == nil {
		b.reply(ctx, msg.ChatID, "The digest isn't configured.")
		return
	}

	action := ""
	if len(args) > 0 {
		action = strings.ToLower(args[0])
	}
	switch action {
	case "on":
		b.digest.AddRecipient(msg.ChatID)
		b.reply(ctx, msg.ChatID, "You'll get the morning digest here. ☀️")
	case "off":
		b.digest.RemoveRecipient(msg.ChatID)
		b.reply(ctx, msg.ChatID, "Digest turned off for this chat.")
	case "now":
		b.reply(ctx, msg.ChatID, b.digest.Build(ctx))
	default:
		b.reply(ctx, msg.ChatID, "Usage: /digest on|off|now")
	}
}

func (b *Bot) cmdUsage(ctx context.Context, msg adapter.Message, args []string) {
	if len(args) > 0 && strings.EqualFold(args[0], "reset") {
		b.ledger.Reset()
		b.reply(ctx, msg.ChatID, "Usage counters reset.")
		return
	}
	b.reply(ctx, msg.ChatID, b.ledger.FormatStats())
}

func (b *Bot) cmdWorkspace(ctx context.Context, msg adapter.Message, args []string) {
	action := "info"
	if len(args) > 0 {
		action = strings.ToLower(args[0])
	}

	switch action {
	case "list":
		names := b.workspaces.List()
		current := b.workspaces.Current()
		lines := []string{"Workspaces:"}
		for _, name := range names {
			marker := "  "
			if name == current {
				marker = "▸ "
			}
			lines = append(lines, marker+name)
		}
		b.reply(ctx, msg.ChatID, strings.Join(lines, "\n"))
	case "switch":
		if len(args) < 2 {
			b.reply(ctx, msg.ChatID, "Usage: /workspace switch <name>")
			return
		}
		if !b.workspaces.IsAuthorized(args[1], msg.UserID) {
			b.reply(ctx, msg.ChatID, "You're not authorized for that workspace.")
			return
		}
		if !b.workspaces.Switch(args[1]) {
			b.reply(ctx, msg.ChatID, fmt.Sprintf("No workspace named %q.", args[1]))
			return
		}
		b.reply(ctx, msg.ChatID, "Switched to "+args[1]+".")
	case "info":
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		info := b.workspaces.Info(name)
		model := info.Model
		if model == "" {
			model = b.cfg.Models.Default + " (default)"
		}
		b.reply(ctx, msg.ChatID, fmt.Sprintf(
			"Workspace %s\nmode: %s\nmodel: %s\nsoul: %v  notes: %v  tools: %v  heartbeat: %v",
			info.Name, info.Mode, model, info.HasSoul, info.HasNotes, info.HasTools, info.HasHeartbeat,
		))
	default:
		b.reply(ctx, msg.ChatID, "Usage: /workspace list|switch <name>|info [name]")
	}
}

func (b *Bot) cmdSearch(ctx context.Context, msg adapter.Message, rest string) {
	if b.searcher == nil || !b.searcher.Enabled() {
		b.reply(ctx, msg.ChatID, "Web search isn't configured.")
		return
	}
	if rest == "" {
		b.reply(ctx, msg.ChatID, "Usage: /search <query>")
		return
	}

	results, err := b.searcher.Search(ctx, rest)
	if err != nil {
		b.reply(ctx, msg.ChatID, "Search failed, try again in a moment.")
		return
	}
	b.reply(ctx, msg.ChatID, search.Format(rest, results))
}

func (b *Bot) cmdSummarize(ctx context.Context, ws string, msg adapter.Message) {
	store, err := b.store(ws)
	if err != nil {
		b.reply(ctx, msg.ChatID, "Workspace storage is unavailable right now.")
		return
	}

	doc, ok := store.LastDocument(msg.UserID)
	if !ok {
		b.reply(ctx, msg.ChatID, "No document on file. Send me one first.")
		return
	}

	resp, err := b.router.Chat(ctx, contract.ChatRequest{
		Model:     b.workspaces.ModelOverride(ws),
		System:    b.workspaces.ComposeContext(),
		Messages:  []contract.Message{{Role: contract.RoleUser, Content: document.SummaryPrompt(doc.Filename, doc.Text)}},
		MaxTokens: b.cfg.Anthropic.MaxTokens,
	}, b.ledger)
	if err != nil {
		b.reply(ctx, msg.ChatID, "I couldn't summarize that right now.")
		return
	}
	b.reply(ctx, msg.ChatID, resp.Text)
}

func (b *Bot) cmdCatchup(ctx context.Context, ws string, msg adapter.Message) {
	if b.workspaces.Mode(ws) != workspace.ModeSharedDM {
		b.reply(ctx, msg.ChatID, "Catchup only applies to shared workspaces.")
		return
	}

	store, err := b.store(ws)
	if err != nil {
		b.reply(ctx, msg.ChatID, "Workspace storage is unavailable right now.")
		return
	}

	others := store.LoadOtherUsersHistory(msg.UserID, b.workspaces.AuthorizedUsers(ws), 50)
	prompt := memory.CatchupPrompt(others, nil)
	if prompt == "" {
		b.reply(ctx, msg.ChatID, "Nothing new from the others.")
		return
	}

	resp, err := b.router.Chat(ctx, contract.ChatRequest{
		Model:     b.workspaces.ModelOverride(ws),
		System:    b.workspaces.ComposeContext(),
		Messages:  []contract.Message{{Role: contract.RoleUser, Content: prompt}},
		MaxTokens: b.cfg.Anthropic.MaxTokens,
	}, b.ledger)
	if err != nil {
		b.reply(ctx, msg.ChatID, "I couldn't build the catchup right now.")
		return
	}
	b.reply(ctx, msg.ChatID, resp.Text)
}

func (b *Bot) cmdExport(ctx context.Context, ws string, msg adapter.Message, args []string) {
	kind := "notes"
	formatArg := ""
	if len(args) > 0 {
		kind = strings.ToLower(args[0])
	}
	if len(args) > 1 {
		formatArg = args[1]
	}

	format, err := export.ParseFormat(formatArg)
	if err != nil {
		b.reply(ctx, msg.ChatID, fmt.Sprintf("%v — use md, json or yaml.", err))
		return
	}

	store, err := b.store(ws)
	if err != nil {
		b.reply(ctx, msg.ChatID, "Workspace storage is unavailable right now.")
		return
	}

	var data []byte
	var filename string
	switch kind {
	case "notes":
		data, filename, err = export.Notes(format, ws, store.ReadNotes())
	case "history":
		turns := store.LoadHistory(0, b.historyUser(ws, msg.UserID))
		data, filename, err = export.History(format, ws, turns)
	default:
		b.reply(ctx, msg.ChatID, "Usage: /export [notes|history] [md|json|yaml]")
		return
	}
	if err != nil {
		b.reply(ctx, msg.ChatID, "Export failed.")
		return
	}

	if err := b.out.SendFile(ctx, msg.ChatID, filename, data); err != nil {
		b.reply(ctx, msg.ChatID, "I couldn't deliver the export file.")
	}
}

// cmdHeartbeat triggers the checklist review on demand; the answer
// comes back to the invoking chat instead of the alert chat.
func (b *Bot) cmdHeartbeat(ctx context.Context, msg adapter.Message) {
	answer, err := b.heartbeatCheck(ctx)
	if err != nil {
		b.reply(ctx, msg.ChatID, "The heartbeat check failed, try again in a moment.")
		return
	}
	if answer == "" {
		b.reply(ctx, msg.ChatID, "No heartbeat checklist is configured. Add a HEARTBEAT.md to the workspace.")
		return
	}
	b.reply(ctx, msg.ChatID, "💓 "+answer)
}

func (b *Bot) cmdStatus(ctx context.Context, ws string, msg adapter.Message) {
	info := b.workspaces.Info(ws)
	pending := b.reminders.Count()

	lines := []string{
		"🤖 Luna status",
		fmt.Sprintf("workspace: %s (%s)", info.Name, info.Mode),
		fmt.Sprintf("providers: %s", strings.Join(b.router.Providers(), ", ")),
		fmt.Sprintf("pending reminders: %d", pending),
		fmt.Sprintf("spend since reset: $%.2f", b.ledger.TotalCost()),
	}
	if b.digest != nil {
		lines = append(lines, fmt.Sprintf("digest recipients: %d", len(b.digest.Recipients())))
	}
	b.reply(ctx, msg.ChatID, strings.Join(lines, "\n"))
}
