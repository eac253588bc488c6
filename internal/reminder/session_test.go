package reminder

import (
	"strings"
	"testing"
	"time"
)

func TestSessionStorePutGet(t *testing.T) {
	t.Parallel()
	st := NewSessionStore(time.Hour)

	sess := &Session{GroupID: 1, BossID: "a"}
	tok := st.Put(sess)
	if tok == "" {
		t.Fatal("empty token")
	}
	if strings.Contains(tok, ":") {
		t.Fatalf("token %q would break callback data framing", tok)
	}
	if sess.Token != tok {
		t.Fatalf("session token not backfilled: %q vs %q", sess.Token, tok)
	}

	got, ok := st.Get(tok)
	if !ok || got != sess {
		t.Fatal("Get did not return the stored session")
	}

	st.Delete(tok)
	if _, ok := st.Get(tok); ok {
		t.Fatal("session survived Delete")
	}
}

func TestSessionStoreTokensUnique(t *testing.T) {
	t.Parallel()
	st := NewSessionStore(time.Hour)
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		tok := st.Put(&Session{})
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestSessionStoreSweep(t *testing.T) {
	t.Parallel()
	st := NewSessionStore(24 * time.Hour)

	old := &Session{CreatedAt: time.Now().Add(-25 * time.Hour)}
	fresh := &Session{}
	oldTok := st.Put(old)
	freshTok := st.Put(fresh)

	if n := st.Sweep(time.Now()); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, ok := st.Get(oldTok); ok {
		t.Fatal("expired session survived sweep")
	}
	if _, ok := st.Get(freshTok); !ok {
		t.Fatal("fresh session swept")
	}
}
