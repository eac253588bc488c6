package bot

import (
	"fmt"
	"strings"
	"time"

	"bosswatch/internal/tracker"
	"bosswatch/pkg/tgui"
)

func formatKillReply(res *tracker.KillResult) string {
	lines := []tgui.H{
		tgui.JoinH(" ", tgui.B(res.Record.Name), tgui.Esc("killed at"), tgui.Code(res.KilledAt.Format("15:04:05"))),
	}
	if res.HasNext {
		until := time.Until(res.NextSpawn).Round(time.Second)
		lines = append(lines, tgui.JoinH(" ",
			tgui.Esc("next spawn"),
			tgui.Code(formatWhen(res.NextSpawn, res.KilledAt)),
			tgui.Esc("(in "+until.String()+")")))
	}
	if res.Record.Note != "" {
		lines = append(lines, tgui.I(res.Record.Note))
	}
	return tgui.JoinH("\n", lines...).String()
}

// FormatBossTable renders the whole collection as a monospace block, in
// stored order. Shared with the daily digest.
func FormatBossTable(recs []tracker.BossRecord, now time.Time) string {
	if len(recs) == 0 {
		return "no bosses configured for this group"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-9s %-13s %s\n", "boss", "last", "next", "")
	for _, rec := range recs {
		last := "--"
		if rec.LastKill != nil {
			last = rec.LastKill.Format("15:04:05")
		}
		next := "--"
		if t, ok := tracker.NextSpawn(rec, now); ok {
			next = formatWhen(t, now)
		}
		mark := ""
		if rec.SkipCount > 0 {
			mark = fmt.Sprintf("+%d", rec.SkipCount)
		}
		name := rec.Name
		if len(rec.Shortnames) > 0 {
			name += " (" + rec.Shortnames[0] + ")"
		}
		if rec.RespawnType == tracker.RespawnFixed {
			name += " *"
		}
		fmt.Fprintf(&b, "%-20s %-9s %-13s %s\n", truncate(name, 20), last, next, mark)
	}
	b.WriteString("\n* fixed schedule, +N missed spawns")
	return tgui.Pre(b.String()).String()
}

func formatNameList(recs []tracker.BossRecord) string {
	if len(recs) == 0 {
		return "no bosses configured for this group"
	}
	lines := make([]tgui.H, 0, len(recs))
	for _, rec := range recs {
		if len(rec.Shortnames) == 0 {
			lines = append(lines, tgui.B(rec.Name))
			continue
		}
		lines = append(lines, tgui.JoinH(" ",
			tgui.B(rec.Name),
			tgui.Esc("-"),
			tgui.Code(strings.Join(rec.Shortnames, ", "))))
	}
	return tgui.JoinH("\n", lines...).String()
}

// formatWhen prints the clock time, prefixing the day when it is not the
// same calendar day as ref.
func formatWhen(t, ref time.Time) string {
	if t.Year() == ref.Year() && t.YearDay() == ref.YearDay() {
		return t.Format("15:04:05")
	}
	return t.Format("Jan 2 15:04")
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}
