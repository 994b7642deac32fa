package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/metorial/beacon/internal/models"
	"github.com/tidwall/gjson"
)

// SettingsSource supplies credentials stored through the admin API.
type SettingsSource interface {
	Settings(ctx context.Context) (models.Settings, error)
}

type TelegramConfig struct {
	APIURL   string
	BotToken string
	ChatID   string
}

// Telegram sends messages through the Bot API sendMessage method. Credentials stored in
// settings take precedence over the configured ones and are read on every send.
type Telegram struct {
	cfg      TelegramConfig
	settings SettingsSource
	client   *http.Client
}

func NewTelegram(cfg TelegramConfig, settings SettingsSource, client *http.Client) *Telegram {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.telegram.org"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Telegram{cfg: cfg, settings: settings, client: client}
}

func (t *Telegram) credentials(ctx context.Context) (string, string, error) {
	token, chatID := t.cfg.BotToken, t.cfg.ChatID
	if t.settings == nil {
		return token, chatID, nil
	}

	s, err := t.settings.Settings(ctx)
	if err != nil {
		return "", "", err
	}
	return s.Get(models.SettingTelegramBotToken, token), s.Get(models.SettingTelegramChatID, chatID), nil
}

func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	token, chatID, err := t.credentials(ctx)
	if err != nil {
		return &Error{Err: err}
	}
	if token == "" || chatID == "" {
		return ErrNotConfigured
	}

	form := url.Values{
		"chat_id":    {chatID},
		"text":       {msg.Text},
		"parse_mode": {"Markdown"},
	}
	endpoint := strings.TrimRight(t.cfg.APIURL, "/") + "/bot" + token + "/sendMessage"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &Error{Err: redact(err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return &Error{Err: redact(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &Error{StatusCode: resp.StatusCode, Err: err}
	}

	result := gjson.ParseBytes(body)
	if resp.StatusCode >= http.StatusMultipleChoices || !result.Get("ok").Bool() {
		desc := result.Get("description").String()
		if desc == "" {
			desc = "unknown error"
		}
		return &Error{StatusCode: resp.StatusCode, Description: desc}
	}
	return nil
}

// redact drops the request URL from transport errors; it embeds the bot token.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
