// Package notifier отправляет абонентам уведомления в Telegram.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Telegram инкапсулирует HTTP-взаимодействие с Bot API Telegram.
// Пустой токен отключает отправку: сервис работает без уведомлений.
type Telegram struct {
	token   string
	baseURL string
	client  *retryablehttp.Client
}

// NewTelegram создаёт клиент Bot API с ретраями на сетевые сбои.
func NewTelegram(token string) *Telegram {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.HTTPClient.Timeout = 10 * time.Second
	c.Logger = nil

	return &Telegram{
		token:   token,
		baseURL: "https://api.telegram.org",
		client:  c,
	}
}

// Enabled сообщает, настроена ли отправка уведомлений.
func (t *Telegram) Enabled() bool {
	return t != nil && t.token != ""
}

// SendMessage отправляет текстовое сообщение в указанный чат.
func (t *Telegram) SendMessage(ctx context.Context, chatID, text string) error {
	if !t.Enabled() {
		return fmt.Errorf("telegram notifier not configured")
	}

	payload, err := json.Marshal(map[string]string{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
