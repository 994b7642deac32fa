package models

// DefaultSiteName is served while no site_name setting is stored.
const DefaultSiteName = "Beacon Monitor"

const (
	SettingSiteName         = "site_name"
	SettingTelegramBotToken = "telegram_bot_token"
	SettingTelegramChatID   = "telegram_chat_id"
)

// Settings are global key/value options managed through the admin API.
type Settings map[string]string

func (s Settings) Get(key, fallback string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return fallback
}

// KnownSetting reports whether key is a setting the admin API manages.
func KnownSetting(key string) bool {
	switch key {
	case SettingSiteName, SettingTelegramBotToken, SettingTelegramChatID:
		return true
	}
	return false
}
