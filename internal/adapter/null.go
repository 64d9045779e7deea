package adapter

import (
	"context"
	"sync"
)

// Null records everything it is asked to send. Used in tests and as a
// safe default when no platform is configured.
type Null struct {
	mu    sync.Mutex
	Texts map[int64][]string
	Files map[int64][]string
}

func NewNull() *Null {
	return &Null{
		Texts: make(map[int64][]string),
		Files: make(map[int64][]string),
	}
}

func (n *Null) Name() string { return "null" }

func (n *Null) Send(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Texts[chatID] = append(n.Texts[chatID], text)
	return nil
}

func (n *Null) SendFile(_ context.Context, chatID int64, filename string, _ []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Files[chatID] = append(n.Files[chatID], filename)
	return nil
}

func (n *Null) Health(context.Context) error { return nil }

// Sent returns a copy of the texts delivered to one chat.
func (n *Null) Sent(chatID int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.Texts[chatID]...)
}
