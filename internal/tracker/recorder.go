package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bosswatch/internal/timerule"
	logx "bosswatch/pkg/logx"
)

// Recorder applies kill reports and bulk recalibrations to a group's
// collection. It reads the whole collection, mutates one record, and writes
// the whole collection back; external edits landing in between follow
// last-writer-wins.
type Recorder struct {
	store Store
	log   logx.Logger
	now   func() time.Time
}

func NewRecorder(store Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log, now: time.Now}
}

// SetClock overrides the wall clock (tests).
func (r *Recorder) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// KillResult describes an applied kill report.
type KillResult struct {
	Record    BossRecord
	KilledAt  time.Time
	NextSpawn time.Time
	HasNext   bool
}

// RecordKill resolves key against the group's collection and stamps the kill.
//
// timeArg empty: the kill happened now, full precision. Otherwise timeArg is
// parsed as a reported clock time and composed onto today, carrying the
// current second. Malformed timeArg returns timerule.ErrInvalidTime without
// touching stored state.
func (r *Recorder) RecordKill(ctx context.Context, groupID int64, key, timeArg, note string, reportedBy int64) (*KillResult, error) {
	now := r.now()

	killedAt := now
	if strings.TrimSpace(timeArg) != "" {
		c, err := timerule.ParseClock(timeArg)
		if err != nil {
			return nil, err
		}
		killedAt = timerule.Compose(now, c)
	}

	recs, err := r.store.ReadBosses(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("read bosses: %w", err)
	}
	i, err := FindRecord(recs, key)
	if err != nil {
		return nil, err
	}

	recs[i].LastKill = &killedAt
	recs[i].SkipCount = 0
	recs[i].Note = strings.TrimSpace(note)

	if err := r.store.WriteBosses(ctx, groupID, recs); err != nil {
		return nil, fmt.Errorf("write bosses: %w", err)
	}

	if err := r.store.AppendKillLog(ctx, groupID, KillLogEntry{
		BossID:     recs[i].ID,
		BossName:   recs[i].Name,
		KilledAt:   killedAt,
		Note:       recs[i].Note,
		ReportedBy: reportedBy,
		Source:     "command",
	}); err != nil {
		r.log.Warn("kill log append failed",
			logx.Int64("group_id", groupID), logx.Err(err))
	}

	res := &KillResult{Record: recs[i], KilledAt: killedAt}
	res.NextSpawn, res.HasNext = NextSpawn(recs[i], now)
	return res, nil
}

// ResetAll recalibrates every cycle-type record to at (nil clears them back
// to uncalibrated) and zeroes skip counts. Fixed-schedule records are left
// untouched. Returns the number of records changed.
func (r *Recorder) ResetAll(ctx context.Context, groupID int64, at *time.Time) (int, error) {
	recs, err := r.store.ReadBosses(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("read bosses: %w", err)
	}

	changed := 0
	for i := range recs {
		if recs[i].RespawnType == RespawnFixed {
			continue
		}
		if at != nil {
			t := *at
			recs[i].LastKill = &t
		} else {
			recs[i].LastKill = nil
		}
		recs[i].SkipCount = 0
		changed++
	}
	if changed == 0 {
		return 0, nil
	}

	if err := r.store.WriteBosses(ctx, groupID, recs); err != nil {
		return 0, fmt.Errorf("write bosses: %w", err)
	}
	return changed, nil
}

// NextSpawn computes the next respawn for display and scheduling.
//
// Cycle records need a calibrated LastKill; fixed records always have a next
// slot relative to now.
func NextSpawn(rec BossRecord, now time.Time) (time.Time, bool) {
	switch rec.RespawnType {
	case RespawnFixed:
		clocks, err := timerule.ParseFixedClocks(rec.FixedTimes)
		if err != nil || len(clocks) == 0 {
			return time.Time{}, false
		}
		t, err := timerule.NextFixed(now, clocks)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		if rec.LastKill == nil {
			return time.Time{}, false
		}
		d, err := timerule.ParseCycle(rec.Cycle)
		if err != nil {
			return time.Time{}, false
		}
		return timerule.NextCycle(*rec.LastKill, d), true
	}
}
