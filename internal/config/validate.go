package config

import (
	"fmt"
	"strings"
)

// Validate checks the parts of the config that would make the bot unusable
// or crash at startup. It is also used as the Watch validator so a broken
// edit never replaces a working config.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}

	switch c.Storage.Driver {
	case "", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}

	for _, f := range []struct{ path, raw string }{
		{"reminder.lead_time", c.Reminder.LeadTime},
		{"reminder.min_delay", c.Reminder.MinDelay},
		{"reminder.session_ttl", c.Reminder.SessionTTL},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if c.Digest != nil && c.Digest.Enabled && strings.TrimSpace(c.Digest.Spec) == "" {
		return fmt.Errorf("digest.spec is required when digest is enabled")
	}
	return nil
}
