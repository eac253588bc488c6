package bot

import (
	"strings"
	"testing"
	"time"

	"bosswatch/internal/tracker"
)

func TestFormatBossTable(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.Local)
	last := time.Date(2025, 3, 10, 8, 0, 0, 0, time.Local)
	recs := []tracker.BossRecord{
		{ID: "a", Name: "Dragon Lord", Shortnames: []string{"dl"}, RespawnType: tracker.RespawnCycle, Cycle: "02:00:00", LastKill: &last, SkipCount: 2},
		{ID: "b", Name: "Orc King", RespawnType: tracker.RespawnCycle, Cycle: "01:00:00"},
		{ID: "c", Name: "Midnight Panther", RespawnType: tracker.RespawnFixed, FixedTimes: []string{"21:00:00"}},
	}

	out := FormatBossTable(recs, now)
	if !strings.Contains(out, "Dragon Lord (dl)") || !strings.Contains(out, "+2") {
		t.Fatalf("table missing calibrated row: %q", out)
	}
	// uncalibrated cycle boss shows no times
	if !strings.Contains(out, "--") {
		t.Fatalf("table missing uncalibrated marker: %q", out)
	}
	// fixed bosses are starred and always have a next slot
	if !strings.Contains(out, "Midnight Panther *") || !strings.Contains(out, "21:00:00") {
		t.Fatalf("table missing fixed row: %q", out)
	}
}

func TestFormatBossTableEmpty(t *testing.T) {
	t.Parallel()
	if out := FormatBossTable(nil, time.Now()); !strings.Contains(out, "no bosses") {
		t.Fatalf("out = %q", out)
	}
}

func TestFormatNameList(t *testing.T) {
	t.Parallel()
	recs := []tracker.BossRecord{
		{Name: "Dragon Lord", Shortnames: []string{"dl", "dragon"}},
		{Name: "Solo Boss"},
	}
	out := formatNameList(recs)
	if !strings.Contains(out, "dl, dragon") || !strings.Contains(out, "Solo Boss") {
		t.Fatalf("out = %q", out)
	}
}

func TestLooksLikeClock(t *testing.T) {
	t.Parallel()
	for raw, want := range map[string]bool{
		"1030":  true,
		"10:30": true,
		"905":   true,
		"ledge": false,
		"":      false,
		"10h30": false,
	} {
		if got := looksLikeClock(raw); got != want {
			t.Fatalf("looksLikeClock(%q) = %v, want %v", raw, got, want)
		}
	}
}
