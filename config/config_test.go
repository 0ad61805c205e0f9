package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("MURMUR_LANGUAGE", "")
	t.Setenv("MURMUR_FLUSH_TIMEOUT", "")

	s, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Language != "en" {
		t.Errorf("Language = %q, want en", s.Language)
	}
	if s.FlushTimeout != 2*time.Second {
		t.Errorf("FlushTimeout = %s, want 2s", s.FlushTimeout)
	}
	if s.BackendName() != "" {
		t.Errorf("BackendName = %q, want empty with no credentials", s.BackendName())
	}
}

func TestBackendSelection(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "dg")
	t.Setenv("GROQ_API_KEY", "gq")

	s, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.BackendName() != "deepgram-stream" {
		t.Errorf("streaming credential should win, got %q", s.BackendName())
	}

	t.Setenv("DEEPGRAM_API_KEY", "")
	s, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.BackendName() != "groq-batch" {
		t.Errorf("BackendName = %q, want groq-batch", s.BackendName())
	}
}

func TestInvalidFlushTimeout(t *testing.T) {
	t.Setenv("MURMUR_FLUSH_TIMEOUT", "-1s")
	if _, err := Load(); err == nil {
		t.Error("expected error for negative flush timeout")
	}
}
