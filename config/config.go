// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Settings struct {
	// Credentials decide the backend: a Deepgram key selects the
	// streaming recognizer, a Groq key the buffered poller.
	DeepgramAPIKey string `env:"DEEPGRAM_API_KEY"`
	GroqAPIKey     string `env:"GROQ_API_KEY"`

	Language     string        `env:"MURMUR_LANGUAGE" envDefault:"en"`
	FlushTimeout time.Duration `env:"MURMUR_FLUSH_TIMEOUT" envDefault:"2s"`
	LogDir       string        `env:"MURMUR_LOG_PATH"`
}

func Load() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse environment: %w", err)
	}
	if s.FlushTimeout <= 0 {
		return Settings{}, fmt.Errorf("MURMUR_FLUSH_TIMEOUT must be positive, got %s", s.FlushTimeout)
	}
	return s, nil
}

// BackendName reports which backend the credentials select, or "" when
// none is configured.
func (s Settings) BackendName() string {
	switch {
	case s.DeepgramAPIKey != "":
		return "deepgram-stream"
	case s.GroqAPIKey != "":
		return "groq-batch"
	default:
		return ""
	}
}
