// Package deliver pushes finished articles to external channels.
package deliver

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"distill/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers articles to a Telegram chat: an announcement message
// followed by the rendered file as a document.
type Telegram struct {
	api    telegramAPI
	chatID int64
	log    *slog.Logger
}

// NewTelegram creates a Telegram deliverer with the given bot token and
// destination chat.
func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

// SendArticle sends the article announcement and attaches the rendered
// file when a path is given.
func (t *Telegram) SendArticle(art *model.Article, src model.Source, path string) error {
	text := art.Title
	if art.Summary != "" {
		text += "\n\n" + art.Summary
	}
	text += "\n\n" + src.URL

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	if path != "" {
		doc := tgbotapi.NewDocument(t.chatID, tgbotapi.FilePath(path))
		if _, err := t.api.Send(doc); err != nil {
			return fmt.Errorf("send document: %w", err)
		}
	}

	t.log.Info("article delivered", "chat_id", t.chatID, "title", art.Title)
	return nil
}
