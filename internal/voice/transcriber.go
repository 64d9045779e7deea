// Package voice transcribes voice messages through the Whisper API.
package voice

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultModel = openai.Whisper1

// maxAudioBytes mirrors the Whisper API upload limit.
const maxAudioBytes = 25 * 1024 * 1024

type Transcriber struct {
	client *openai.Client
	model  string
}

func NewTranscriber(apiKey, model string) *Transcriber {
	if model == "" {
		model = defaultModel
	}
	var client *openai.Client
	if apiKey != "" {
		client = openai.NewClient(apiKey)
	}
	return &Transcriber{client: client, model: model}
}

// Enabled reports whether transcription is configured. Voice messages
// are acknowledged-but-ignored without it.
func (t *Transcriber) Enabled() bool { return t.client != nil }

func (t *Transcriber) Model() string { return t.model }

// Transcribe turns an audio file on disk into text. The caller owns
// the file and its cleanup.
func (t *Transcriber) Transcribe(ctx context.Context, filePath string) (string, error) {
	if !t.Enabled() {
		return "", fmt.Errorf("transcription is not configured")
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return "", fmt.Errorf("audio file: %w", err)
	}
	if info.Size() > maxAudioBytes {
		return "", fmt.Errorf("audio file is too large (%d bytes, limit %d)", info.Size(), maxAudioBytes)
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: filePath,
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
