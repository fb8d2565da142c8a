package deliver

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"distill/internal/model"
)

type mockAPI struct {
	sent []tgbotapi.Chattable
	err  error
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.sent = append(m.sent, c)
	return tgbotapi.Message{}, m.err
}

func newTestTelegram(api telegramAPI) *Telegram {
	return &Telegram{
		api:    api,
		chatID: 42,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestSendArticle(t *testing.T) {
	api := &mockAPI{}
	tg := newTestTelegram(api)

	art := &model.Article{Title: "Why Retries Need Backoff", Summary: "Unbounded retries amplify outages."}
	src := model.Source{URL: "https://www.youtube.com/watch?v=abc123"}

	if err := tg.SendArticle(art, src, "/tmp/article.epub"); err != nil {
		t.Fatalf("SendArticle: %v", err)
	}

	if len(api.sent) != 2 {
		t.Fatalf("sent %d payloads, want message plus document", len(api.sent))
	}

	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("first payload is %T, want MessageConfig", api.sent[0])
	}
	if msg.ChatID != 42 {
		t.Errorf("chat id = %d", msg.ChatID)
	}
	for _, want := range []string{"Why Retries Need Backoff", "Unbounded retries amplify outages.", "https://www.youtube.com/watch?v=abc123"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("message missing %q:\n%s", want, msg.Text)
		}
	}

	if _, ok := api.sent[1].(tgbotapi.DocumentConfig); !ok {
		t.Errorf("second payload is %T, want DocumentConfig", api.sent[1])
	}
}

func TestSendArticleWithoutFile(t *testing.T) {
	api := &mockAPI{}
	tg := newTestTelegram(api)

	err := tg.SendArticle(&model.Article{Title: "T"}, model.Source{URL: "https://example.com"}, "")
	if err != nil {
		t.Fatalf("SendArticle: %v", err)
	}
	if len(api.sent) != 1 {
		t.Errorf("sent %d payloads, want 1", len(api.sent))
	}
}

func TestSendArticleError(t *testing.T) {
	api := &mockAPI{err: errors.New("blocked by user")}
	tg := newTestTelegram(api)

	err := tg.SendArticle(&model.Article{Title: "T"}, model.Source{}, "")
	if err == nil {
		t.Fatal("expected error")
	}
}
