package reminder

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	kit "bosswatch/internal/transport"
)

type SessionState int

const (
	StateAwaiting SessionState = iota
	StateRecorded
	StateUndone
)

// Session is the in-memory interaction state attached to one reminder
// message. The snapshot fields are filled when the initial action lands and
// let the one-shot undo restore the record exactly.
type Session struct {
	Token    string
	GroupID  int64
	Chat     kit.ChatTarget
	BossID   string
	BossName string
	Msg      kit.MessageRef

	State  SessionState
	Action string // "kill", "fail" or "skip" once recorded

	PrevLastKill  *time.Time
	PrevSkipCount int

	CreatedAt time.Time
	ActedAt   time.Time
}

// SessionStore holds live sessions keyed by short random token. Tokens ride
// in callback_data, so they stay well under Telegram's 64-byte cap and never
// contain ':'.
type SessionStore struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]*Session
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{ttl: ttl, m: map[string]*Session{}}
}

// SetTTL adjusts the idle TTL (hot-reload).
func (s *SessionStore) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

// Put registers the session and returns its minted token.
func (s *SessionStore) Put(sess *Session) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		tok := newToken()
		if _, exists := s.m[tok]; exists {
			continue
		}
		sess.Token = tok
		if sess.CreatedAt.IsZero() {
			sess.CreatedAt = time.Now()
		}
		s.m[tok] = sess
		return tok
	}
}

func (s *SessionStore) Get(token string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[token]
	return sess, ok
}

func (s *SessionStore) Delete(token string) {
	s.mu.Lock()
	delete(s.m, token)
	s.mu.Unlock()
}

// Len reports the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Sweep drops sessions older than the TTL and returns how many were removed.
func (s *SessionStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for tok, sess := range s.m {
		if now.Sub(sess.CreatedAt) > s.ttl {
			delete(s.m, tok)
			removed++
		}
	}
	return removed
}

func newToken() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
