// Package tracker holds the boss record model and the kill recorder.
package tracker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type RespawnType string

const (
	RespawnCycle RespawnType = "cycle"
	RespawnFixed RespawnType = "fixed"
)

// BossRecord is one tracked boss inside a group's ordered collection.
// ID is a stable opaque key; everything else may be edited externally
// between reads.
type BossRecord struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Shortnames  []string    `json:"shortnames,omitempty"`
	RespawnType RespawnType `json:"respawn_type"`

	// Cycle is the respawn interval as "HH:MM:SS" (cycle type only).
	Cycle string `json:"cycle,omitempty"`
	// FixedTimes are daily spawn slots as "HH:MM:SS" (fixed type only).
	FixedTimes []string `json:"fixed_times,omitempty"`

	// LastKill nil means uncalibrated: no respawn can be computed.
	LastKill  *time.Time `json:"last_kill,omitempty"`
	SkipCount int        `json:"skip_count"`
	Note      string     `json:"note,omitempty"`
	Image     string     `json:"image,omitempty"`
}

type GroupSettings struct {
	AdminPassword string `json:"admin_password,omitempty"`
	// NotifyChatID is the chat reminders are delivered to. 0 = reminders off.
	NotifyChatID int64 `json:"notify_chat_id,omitempty"`
	// Announce enables the spoken lead-time announcement before the
	// structured reminder message.
	Announce bool `json:"announce,omitempty"`
}

// KillLogEntry is one append-only audit line. Best-effort: a failed append
// never fails the kill it records.
type KillLogEntry struct {
	BossID     string    `json:"boss_id"`
	BossName   string    `json:"boss_name"`
	KilledAt   time.Time `json:"killed_at"`
	Note       string    `json:"note,omitempty"`
	ReportedBy int64     `json:"reported_by,omitempty"`
	Source     string    `json:"source"` // "command", "button", "reset"
}

var (
	ErrNotFound = errors.New("boss not found")
)

// Store is the persistence surface the tracker needs. Collections are read
// and written whole, preserving stored order; concurrent writers follow
// last-writer-wins.
type Store interface {
	ReadBosses(ctx context.Context, groupID int64) ([]BossRecord, error)
	WriteBosses(ctx context.Context, groupID int64, recs []BossRecord) error

	ReadSettings(ctx context.Context, groupID int64) (GroupSettings, error)
	WriteSettings(ctx context.Context, groupID int64, s GroupSettings) error

	ListGroups(ctx context.Context) ([]int64, error)
	AppendKillLog(ctx context.Context, groupID int64, e KillLogEntry) error

	Close() error
}

// FindRecord resolves a user-supplied key against the collection:
// case-insensitive exact name match first, then shortnames. The first match
// in stored order wins. Returns the index into recs.
func FindRecord(recs []BossRecord, key string) (int, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return -1, ErrNotFound
	}
	for i := range recs {
		if strings.ToLower(recs[i].Name) == k {
			return i, nil
		}
	}
	for i := range recs {
		for _, sn := range recs[i].Shortnames {
			if strings.ToLower(sn) == k {
				return i, nil
			}
		}
	}
	return -1, ErrNotFound
}

// FindRecordByID resolves a stable record ID. Returns the index into recs.
func FindRecordByID(recs []BossRecord, id string) (int, error) {
	for i := range recs {
		if recs[i].ID == id {
			return i, nil
		}
	}
	return -1, ErrNotFound
}

// NewRecordID mints a stable opaque record key.
func NewRecordID() string { return uuid.NewString() }

// EnsureIDs assigns IDs to records that arrived without one (external
// editors may create records). Reports whether anything changed.
func EnsureIDs(recs []BossRecord) bool {
	changed := false
	for i := range recs {
		if strings.TrimSpace(recs[i].ID) == "" {
			recs[i].ID = NewRecordID()
			changed = true
		}
	}
	return changed
}
