package services

import (
	"context"
)

// Button is one inline keyboard button. Exactly one of CallbackData or
// URL should be set.
type Button struct {
	Text         string
	CallbackData string
	URL          string
}

// Row builds a single-row keyboard
func Row(buttons ...Button) [][]Button {
	return [][]Button{buttons}
}

// Notifier abstracts the Telegram delivery surface so the workflow can
// be exercised without a live bot
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string, buttons [][]Button) (messageID int, err error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, buttons [][]Button) error
	SendPhoto(ctx context.Context, chatID int64, fileID, caption string, buttons [][]Button) (messageID int, err error)
	EditCaption(ctx context.Context, chatID int64, messageID int, caption string, buttons [][]Button) error
	SendQRCode(ctx context.Context, chatID int64, png []byte, caption string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}
