package notify

import (
	"context"
	"encoding/json"
	"time"

	"insurance-bot/internal/shared/retry"
	"insurance-bot/internal/shared/telemetry"
)

// Notifier delivers outbound chat messages.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) error
}

// Message kinds.
const (
	KindText     = "text"
	KindDocument = "document"
)

// Message is the payload handed to the chat delivery worker.
type Message struct {
	Kind     string `json:"kind"`
	ChatID   int64  `json:"chatId"`
	Text     string `json:"text,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Document []byte `json:"document,omitempty"`
	Caption  string `json:"caption,omitempty"`
	SentAt   string `json:"sentAt"`
	Version  int    `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func newText(chatID int64, text string) Message {
	return Message{Kind: KindText, ChatID: chatID, Text: text, SentAt: now(), Version: 1}
}

func newDocument(chatID int64, name string, data []byte, caption string) Message {
	return Message{Kind: KindDocument, ChatID: chatID, FileName: name, Document: data, Caption: caption, SentAt: now(), Version: 1}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Log writes outbound messages to the structured log. Used when no delivery
// queue is configured.
type Log struct{}

func (Log) SendText(ctx context.Context, chatID int64, text string) error {
	telemetry.Info("notify.text", map[string]any{"chat_id": chatID, "text": text})
	return ctx.Err()
}

func (Log) SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) error {
	telemetry.Info("notify.document", map[string]any{
		"chat_id":   chatID,
		"file_name": name,
		"bytes":     len(data),
		"caption":   caption,
	})
	return ctx.Err()
}

// Retrying retries transient delivery failures.
type Retrying struct {
	Base   Notifier
	Policy retry.Policy
}

// NewRetrying wraps base with the default three-try policy.
func NewRetrying(base Notifier) *Retrying {
	return &Retrying{Base: base, Policy: retry.Default("notify")}
}

func (r *Retrying) SendText(ctx context.Context, chatID int64, text string) error {
	return retry.Do(ctx, r.Policy, func(ctx context.Context) error {
		return r.Base.SendText(ctx, chatID, text)
	})
}

func (r *Retrying) SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) error {
	return retry.Do(ctx, r.Policy, func(ctx context.Context) error {
		return r.Base.SendDocument(ctx, chatID, name, data, caption)
	})
}

var (
	_ Notifier = Log{}
	_ Notifier = (*Retrying)(nil)
)
