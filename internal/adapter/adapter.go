// Package adapter connects the bot to messaging platforms.
package adapter

import "context"

// Attachment references a platform-hosted file.
type Attachment struct {
	FileID   string
	FileName string
}

// Message is one inbound user event, normalized across platforms.
type Message struct {
	Source    string
	ChatID    int64
	UserID    int64
	UserName  string
	Text      string
	IsGroup   bool
	Mentioned bool
	Voice     *Attachment
	Document  *Attachment
	Photo     *Attachment
}

// Handler receives every inbound message. It must not block the
// adapter's receive loop for long; slow work belongs in the handler's
// own goroutines.
type Handler func(ctx context.Context, msg Message)

// InputAdapter receives events from a platform.
type InputAdapter interface {
	Name() string

	// Start begins listening. Must respect context cancellation.
	Start(ctx context.Context) error

	Stop(ctx context.Context) error

	Health(ctx context.Context) error
}

// OutputAdapter delivers text and files to a platform.
type OutputAdapter interface {
	Name() string

	Send(ctx context.Context, chatID int64, text string) error

	SendFile(ctx context.Context, chatID int64, filename string, data []byte) error

	Health(ctx context.Context) error
}
