package models

// Settings holds user-configurable remote API settings.
type Settings struct {
	APIKey      string `json:"google_api_key"`
	APIEndpoint string `json:"google_api_endpoint"`
}

// Merge returns s with empty fields filled from fallback.
func (s Settings) Merge(fallback Settings) Settings {
	if s.APIKey == "" {
		s.APIKey = fallback.APIKey
	}
	if s.APIEndpoint == "" {
		s.APIEndpoint = fallback.APIEndpoint
	}
	return s
}

// SettingsView is the settings shape served to the extension. The key is
// masked; APIKeySet reports whether one is configured.
type SettingsView struct {
	APIKey      string `json:"google_api_key"`
	APIEndpoint string `json:"google_api_endpoint"`
	APIKeySet   bool   `json:"google_api_key_set"`
}

// MaskAPIKey keeps the last four characters of key. Empty stays empty.
func MaskAPIKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 4:
		return "****"
	default:
		return "****" + key[len(key)-4:]
	}
}
