package adapter

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/lunabot/luna/internal/errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram message bodies cap at 4096 characters; longer replies are
// split on that boundary.
const telegramMessageLimit = 4096

type Telegram struct {
	token         string
	updateTimeout int
	handler       Handler
	bot           *tgbotapi.BotAPI
	updates       tgbotapi.UpdatesChannel
}

func NewTelegram(token string, handler Handler, updateTimeout int) *Telegram {
	if updateTimeout <= 0 {
		updateTimeout = 60
	}
	return &Telegram{
		token:         token,
		updateTimeout: updateTimeout,
		handler:       handler,
	}
}

func (t *Telegram) Name() string {
	return "telegram"
}

// SetHandler binds the inbound callback. Must happen before Start.
func (t *Telegram) SetHandler(handler Handler) {
	t.handler = handler
}

func (t *Telegram) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return errors.Wrap(err, "failed to init telegram bot")
	}

	slog.Info("Telegram adapter started", "user", t.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.updateTimeout

	t.updates = t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update := <-t.updates:
				t.handleUpdate(ctx, update)
			}
		}
	}()

	return nil
}

func (t *Telegram) Stop(ctx context.Context) error {
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	out := Message{
		Source:    "telegram",
		ChatID:    msg.Chat.ID,
		UserID:    msg.From.ID,
		UserName:  msg.From.UserName,
		Text:      msg.Text,
		IsGroup:   msg.Chat.IsGroup() || msg.Chat.IsSuperGroup(),
		Mentioned: t.mentioned(msg),
	}
	if msg.Voice != nil {
		out.Voice = &Attachment{FileID: msg.Voice.FileID, FileName: "voice.ogg"}
	}
	if msg.Document != nil {
		out.Document = &Attachment{FileID: msg.Document.FileID, FileName: msg.Document.FileName}
	}
	if len(msg.Photo) > 0 {
		out.Photo = &Attachment{FileID: bestPhoto(msg.Photo).FileID, FileName: "photo.jpg"}
	}
	if out.Text == "" && msg.Caption != "" {
		out.Text = msg.Caption
	}

	if t.handler != nil {
		t.handler(ctx, out)
	}
}

// bestPhoto picks the largest rendition Telegram offers for a photo
// message.
func bestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.FileSize > best.FileSize {
			best = p
			continue
		}
		if p.FileSize == best.FileSize && p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

// mentioned reports whether the bot is addressed: an @mention in the
// text or a reply to one of the bot's own messages.
func (t *Telegram) mentioned(msg *tgbotapi.Message) bool {
	if t.bot == nil {
		return false
	}
	if strings.Contains(msg.Text, "@"+t.bot.Self.UserName) {
		return true
	}
	reply := msg.ReplyToMessage
	return reply != nil && reply.From != nil && reply.From.ID == t.bot.Self.ID
}

// DownloadFile fetches a platform file to a temp path. The caller
// runs cleanup when done with it.
func (t *Telegram) DownloadFile(ctx context.Context, fileID string) (string, func(), error) {
	if t.bot == nil {
		return "", nil, errors.Transient("telegram bot not initialized")
	}

	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return "", nil, errors.Wrap(err, "resolve telegram file")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, errors.Wrap(err, "fetch telegram file")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, errors.Transient("telegram file fetch: %s", resp.Status)
	}

	tmp, err := os.CreateTemp("", "luna-download-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, errors.Wrap(err, "write telegram file")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return tmp.Name(), cleanup, nil
}

func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	if t.bot == nil {
		return errors.Transient("telegram bot not initialized")
	}

	for _, chunk := range splitMessage(text) {
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return errors.Wrap(err, "failed to send telegram message")
		}
	}

	slog.Debug("Telegram message sent", "chat_id", chatID)
	return nil
}

// splitMessage breaks text into sendable chunks without splitting a
// rune at a chunk boundary.
func splitMessage(text string) []string {
	var chunks []string
	for len(text) > telegramMessageLimit {
		cut := telegramMessageLimit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func (t *Telegram) SendFile(ctx context.Context, chatID int64, filename string, data []byte) error {
	if t.bot == nil {
		return errors.Transient("telegram bot not initialized")
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	if _, err := t.bot.Send(doc); err != nil {
		return errors.Wrap(err, "failed to send telegram document")
	}
	return nil
}

func (t *Telegram) Health(ctx context.Context) error {
	if t.bot == nil {
		return errors.Transient("telegram bot not initialized")
	}
	if _, err := t.bot.GetMe(); err != nil {
		return errors.Transient("telegram connection failed: %v", err)
	}
	return nil
}
