package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.yaml", `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
storage:
  driver: file
  path: ./data
reminder:
  lead_time: 10m
`)

	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Reminder.LeadTime != "10m" {
		t.Fatalf("lead_time = %q", cfg.Reminder.LeadTime)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{"telegram":{"token":"t"},"nope":1}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t"},
			Storage:  StorageConfig{Driver: "file", Path: "./data"},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	c := base()
	c.Telegram.Token = ""
	if err := c.Validate(); err == nil {
		t.Fatal("missing token accepted")
	}

	c = base()
	c.Storage.Driver = "redis"
	if err := c.Validate(); err == nil {
		t.Fatal("unknown driver accepted")
	}

	c = base()
	c.Reminder.LeadTime = "five minutes"
	if err := c.Validate(); err == nil {
		t.Fatal("bad duration accepted")
	}

	c = base()
	c.Digest = &DigestConfig{Enabled: true}
	if err := c.Validate(); err == nil {
		t.Fatal("enabled digest without spec accepted")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 5m "); err != nil || d != 5*time.Minute {
		t.Fatalf("d=%v err=%v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Second); err != nil || d != time.Second {
		t.Fatalf("default: d=%v err=%v", d, err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := NewConfigManager(filepath.Join(t.TempDir(), "nope.json")).Load()
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v", err)
	}
}
