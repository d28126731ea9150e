// Package transport defines the chat-channel boundary: inbound updates and
// outbound text messages. Concrete adapters live in subpackages.
package transport

import "context"

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
}

type Update struct {
	Message *Message
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 }

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Notification struct {
	Priority int // 0 low .. 10 high
	Target   ChatTarget
	Title    string
	Text     string
	Options  *SendOptions
}

// Render joins title and text the way every channel displays a notification.
func (n Notification) Render() string {
	if n.Title == "" {
		return n.Text
	}
	if n.Text == "" {
		return n.Title
	}
	return n.Title + "\n" + n.Text
}

// Sender is the outbound half of an adapter.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender
	// Start begins delivering inbound updates to out. It must not block.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
