package config

// GeminiProviderConfig configures the Gemini-backed Model Client:
// credentials plus Gemini 3's thinking mode and built-in grounding
// tools (Google Search, URL context).
type GeminiProviderConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`

	// EnableThinking turns on reasoning mode.
	EnableThinking bool `yaml:"enable_thinking"`
	// ThinkingLevel is one of "minimal", "low", "medium", "high"
	// (lowercase). It is stored in the config only: the Gemini client is
	// not given it and just turns thinking on when EnableThinking is set.
	ThinkingLevel string `yaml:"thinking_level"`
	// EnableGoogleSearch grounds responses in live Google Search results.
	EnableGoogleSearch bool `yaml:"enable_google_search"`
	// EnableURLContext allows the model to pull in up to 20 URLs of
	// context (34MB each).
	EnableURLContext bool `yaml:"enable_url_context"`
}

// DefaultGeminiProviderConfig returns defaults with thinking enabled,
// ThinkingLevel "high", and both grounding tools enabled.
func DefaultGeminiProviderConfig() GeminiProviderConfig {
	return GeminiProviderConfig{
		Model:              "gemini-2.5-flash",
		EnableThinking:     true,
		ThinkingLevel:      "high",
		EnableGoogleSearch: true,
		EnableURLContext:   true,
	}
}
