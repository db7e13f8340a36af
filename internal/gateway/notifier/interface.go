package notifier

import "context"

// TextNotifier delivers one text message.
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}
