// Package transport defines the messaging-channel boundary: receiving text
// commands from subscribers and sending text back. The rest of the system
// only knows recipients as opaque chat ids.
package transport

import "context"

// Message is one inbound text message from a subscriber.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// Recipient identifies where a reply or notification goes.
type Recipient struct {
	ChatID int64
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter is the messaging transport. Start forwards inbound messages to out
// until the context is canceled; SendText must be safe for concurrent use.
type Adapter interface {
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to Recipient, text string, opt *SendOptions) error
}

// BotCommand is a command menu entry (Telegram: setMyCommands).
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface adapters can implement to
// publish the command list to the platform's autocomplete menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
