package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voxlog/voxlog/internal/config"
	"github.com/voxlog/voxlog/pkg/provider/stt"
)

const validYAML = `
discord:
  token: "bot-token"
  guild_id: "guild-1"
providers:
  stt:
    name: deepgram
    api_key: "dg-key"
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Discord.Token != "bot-token" {
		t.Errorf("token = %q, want %q", cfg.Discord.Token, "bot-token")
	}
	if cfg.Providers.STT.Name != "deepgram" {
		t.Errorf("stt name = %q, want %q", cfg.Providers.STT.Name, "deepgram")
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q, want default %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Recording.RecordingsDir != config.DefaultRecordingsDir {
		t.Errorf("recordings_dir = %q, want %q", cfg.Recording.RecordingsDir, config.DefaultRecordingsDir)
	}
	if cfg.Recording.TranscriptsDir != config.DefaultTranscriptsDir {
		t.Errorf("transcripts_dir = %q, want %q", cfg.Recording.TranscriptsDir, config.DefaultTranscriptsDir)
	}
	if cfg.Recording.SilenceTimeout.Std() != config.DefaultSilenceTimeout {
		t.Errorf("silence_timeout = %v, want %v", cfg.Recording.SilenceTimeout.Std(), config.DefaultSilenceTimeout)
	}
}

func TestLoadFromReader_ParsesDuration(t *testing.T) {
	t.Parallel()
	yaml := validYAML + `
recording:
  silence_timeout: 750ms
  language: ko-KR
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Recording.SilenceTimeout.Std() != 750*time.Millisecond {
		t.Errorf("silence_timeout = %v, want 750ms", cfg.Recording.SilenceTimeout.Std())
	}
	if cfg.Recording.Language != "ko-KR" {
		t.Errorf("language = %q, want %q", cfg.Recording.Language, "ko-KR")
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := validYAML + `
recordings: {}
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestValidate_MissingToken(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  guild_id: "guild-1"
providers:
  stt:
    name: deepgram
    api_key: "k"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing discord.token, got nil")
	}
	if !strings.Contains(err.Error(), "discord.token") {
		t.Errorf("error should mention discord.token, got: %v", err)
	}
}

func TestValidate_MissingSTTProvider(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  token: "t"
  guild_id: "g"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing STT provider, got nil")
	}
	if !strings.Contains(err.Error(), "providers.stt.name") {
		t.Errorf("error should mention providers.stt.name, got: %v", err)
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  token: "t"
  guild_id: "g"
providers:
  stt:
    name: deepgram
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing STT api key, got nil")
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Errorf("error should mention api_key, got: %v", err)
	}
}

func TestValidate_SilenceTimeoutOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := validYAML + `
recording:
  silence_timeout: 5ms
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range silence_timeout, got nil")
	}
	if !strings.Contains(err.Error(), "silence_timeout") {
		t.Errorf("error should mention silence_timeout, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := validYAML + `
server:
  log_level: loud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "discord.token", "providers.stt.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/does/not/exist.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestRegistry_CreateSTT(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterSTT("fake", func(entry config.ProviderEntry) (stt.Provider, error) {
		return nil, nil
	})

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "fake"}); err != nil {
		t.Errorf("CreateSTT registered: %v", err)
	}
	_, err := reg.CreateSTT(config.ProviderEntry{Name: "missing"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got %v", err)
	}
}
