// Package httpapi exposes the read/write record view consumed by the
// external roster editor. The editor UI itself lives outside this process.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bosswatch/internal/tracker"
	logx "bosswatch/pkg/logx"
)

// PasswordHeader carries the group admin credential on write requests.
const PasswordHeader = "X-Admin-Password"

type Server struct {
	store tracker.Store
	log   logx.Logger
	srv   *http.Server
}

func New(addr string, store tracker.Store, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if addr == "" {
		addr = "127.0.0.1:8480"
	}
	s := &Server{store: store, log: log}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/groups", s.listGroups)
	r.Route("/groups/{id}", func(r chi.Router) {
		r.Get("/bosses", s.getBosses)
		r.Put("/bosses", s.putBosses)
		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)
	})
	return r
}

// Start runs the listener until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("editor api listening", logx.String("addr", s.srv.Addr))
		err := s.srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(sctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func groupID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// authorize allows writes when the group has no password set, or when the
// request header matches it.
func (s *Server) authorize(r *http.Request, id int64) (bool, error) {
	settings, err := s.store.ReadSettings(r.Context(), id)
	if err != nil {
		return false, err
	}
	if settings.AdminPassword == "" {
		return true, nil
	}
	given := r.Header.Get(PasswordHeader)
	return subtle.ConstantTimeCompare([]byte(given), []byte(settings.AdminPassword)) == 1, nil
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListGroups(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) getBosses(w http.ResponseWriter, r *http.Request) {
	id, err := groupID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recs, err := s.store.ReadBosses(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []tracker.BossRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) putBosses(w http.ResponseWriter, r *http.Request) {
	id, err := groupID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ok, err := s.authorize(r, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, errors.New("bad password"))
		return
	}

	var recs []tracker.BossRecord
	if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tracker.EnsureIDs(recs)
	if err := s.store.WriteBosses(r.Context(), id, recs); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	id, err := groupID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	settings, err := s.store.ReadSettings(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	// never leak the credential to readers
	settings.AdminPassword = ""
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	id, err := groupID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ok, err := s.authorize(r, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, errors.New("bad password"))
		return
	}

	var in tracker.GroupSettings
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// a blank password in the payload keeps the current one
	if in.AdminPassword == "" {
		cur, err := s.store.ReadSettings(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		in.AdminPassword = cur.AdminPassword
	}
	if err := s.store.WriteSettings(r.Context(), id, in); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	in.AdminPassword = ""
	writeJSON(w, http.StatusOK, in)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
