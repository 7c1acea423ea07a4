package bot

import (
	"bytes"
	"context"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"vpn-shop-bot/internal/bot/services"
)

// Telegram messaging helpers plus the services.Notifier implementation
// the approval workflow talks to. Workflow messages are sent without a
// parse mode so raw connection URIs survive untouched.

// sendMessage sends a text message
func (b *Bot) sendMessage(chatID int64, text string) {
	_, err := b.bot.SendMessage(context.Background(), &telego.SendMessageParams{
		ChatID:    tu.ID(chatID),
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		b.logger.Errorf("Failed to send message to %d: %v", chatID, err)
	}
}

// sendMessageWithInlineKeyboard sends a message with inline keyboard
func (b *Bot) sendMessageWithInlineKeyboard(chatID int64, text string, keyboard *telego.InlineKeyboardMarkup) {
	_, err := b.bot.SendMessage(context.Background(), &telego.SendMessageParams{
		ChatID:      tu.ID(chatID),
		Text:        text,
		ParseMode:   "HTML",
		ReplyMarkup: keyboard,
	})
	if err != nil {
		b.logger.Errorf("Failed to send message with inline keyboard to %d: %v", chatID, err)
	}
}

// editMessage edits an existing message
func (b *Bot) editMessage(chatID int64, messageID int, text string, keyboard *telego.InlineKeyboardMarkup) {
	_, err := b.bot.EditMessageText(context.Background(), &telego.EditMessageTextParams{
		ChatID:      tu.ID(chatID),
		MessageID:   messageID,
		Text:        text,
		ParseMode:   "HTML",
		ReplyMarkup: keyboard,
	})
	if err != nil {
		b.logger.Errorf("Failed to edit message %d in chat %d: %v", messageID, chatID, err)
	}
}

// toInlineKeyboard converts workflow buttons into telego markup
func toInlineKeyboard(buttons [][]services.Button) *telego.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}

	rows := make([][]telego.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		tgRow := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			tgBtn := tu.InlineKeyboardButton(btn.Text)
			if btn.URL != "" {
				tgBtn = tgBtn.WithURL(btn.URL)
			} else {
				tgBtn = tgBtn.WithCallbackData(btn.CallbackData)
			}
			tgRow = append(tgRow, tgBtn)
		}
		rows = append(rows, tgRow)
	}

	return &telego.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// SendMessage implements services.Notifier
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string, buttons [][]services.Button) (int, error) {
	msg, err := b.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:      tu.ID(chatID),
		Text:        text,
		ReplyMarkup: toInlineKeyboard(buttons),
	})
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// EditMessage implements services.Notifier
func (b *Bot) EditMessage(ctx context.Context, chatID int64, messageID int, text string, buttons [][]services.Button) error {
	_, err := b.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:      tu.ID(chatID),
		MessageID:   messageID,
		Text:        text,
		ReplyMarkup: toInlineKeyboard(buttons),
	})
	return err
}

// SendPhoto implements services.Notifier. The file id is reused so the
// screenshot is forwarded without a re-upload.
func (b *Bot) SendPhoto(ctx context.Context, chatID int64, fileID, caption string, buttons [][]services.Button) (int, error) {
	msg, err := b.bot.SendPhoto(ctx, &telego.SendPhotoParams{
		ChatID:      tu.ID(chatID),
		Photo:       telego.InputFile{FileID: fileID},
		Caption:     caption,
		ReplyMarkup: toInlineKeyboard(buttons),
	})
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// EditCaption implements services.Notifier
func (b *Bot) EditCaption(ctx context.Context, chatID int64, messageID int, caption string, buttons [][]services.Button) error {
	_, err := b.bot.EditMessageCaption(ctx, &telego.EditMessageCaptionParams{
		ChatID:      tu.ID(chatID),
		MessageID:   messageID,
		Caption:     caption,
		ReplyMarkup: toInlineKeyboard(buttons),
	})
	return err
}

// SendQRCode implements services.Notifier
func (b *Bot) SendQRCode(ctx context.Context, chatID int64, png []byte, caption string) error {
	_, err := b.bot.SendPhoto(ctx, &telego.SendPhotoParams{
		ChatID:  tu.ID(chatID),
		Photo:   telego.InputFile{File: tu.NameReader(bytes.NewReader(png), "key.png")},
		Caption: caption,
	})
	return err
}

// DeleteMessage implements services.Notifier
func (b *Bot) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return b.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
	})
}
