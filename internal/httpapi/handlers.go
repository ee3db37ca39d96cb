package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"clinotify/internal/dispatch"
	"clinotify/internal/domain"
	"clinotify/internal/store"
)

type MessageLister interface {
	RecentMessages(ctx context.Context, q domain.Queue, st domain.Status, limit int) ([]store.RecentMessage, error)
}

type ProfileRefresher interface {
	Refresh(ctx context.Context) (*store.Profile, error)
}

// API is the dispatcher's ops surface. Loops holds the category loops the
// pause toggle controls; the reclaimer keeps running regardless, because
// recovering stale claims is corrective, not sending.
type API struct {
	Loops    []*dispatch.Loop
	Store    MessageLister
	Profiles ProfileRefresher
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/v1/dispatch/status", a.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/dispatch/pause", a.handlePause).Methods(http.MethodPost)
	r.HandleFunc("/v1/dispatch/resume", a.handleResume).Methods(http.MethodPost)
	r.HandleFunc("/v1/messages/recent", a.handleRecentMessages).Methods(http.MethodGet)
	r.HandleFunc("/v1/profile/refresh", a.handleProfileRefresh).Methods(http.MethodPost)
}

type loopStatus struct {
	Name     string `json:"name"`
	Running  bool   `json:"running"`
	Interval string `json:"interval"`
}

func (a *API) statuses() []loopStatus {
	out := make([]loopStatus, 0, len(a.Loops))
	for _, l := range a.Loops {
		out = append(out, loopStatus{
			Name:     l.Name(),
			Running:  l.IsRunning(),
			Interval: l.Interval().String(),
		})
	}
	return out
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"loops": a.statuses()})
}

// Pause and resume are idempotent; toggling an already paused dispatcher is
// a no-op, not an error.
func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	for _, l := range a.Loops {
		if l.Stop() {
			slog.Info("dispatch paused", "loop", l.Name())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"loops": a.statuses()})
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	for _, l := range a.Loops {
		if l.Start() {
			slog.Info("dispatch resumed", "loop", l.Name())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"loops": a.statuses()})
}

func (a *API) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	q := domain.Queue(r.URL.Query().Get("queue"))
	if !q.Valid() {
		http.Error(w, ErrInvalidQueue, http.StatusBadRequest)
		return
	}

	var st domain.Status
	if s := r.URL.Query().Get("status"); s != "" {
		st = domain.Status(s)
		if !st.Valid() {
			http.Error(w, ErrInvalidStatus, http.StatusBadRequest)
			return
		}
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	msgs, err := a.Store.RecentMessages(r.Context(), q, st, limit)
	if err != nil {
		slog.Error("recent messages query failed", "queue", q, "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if msgs == nil {
		msgs = []store.RecentMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (a *API) handleProfileRefresh(w http.ResponseWriter, r *http.Request) {
	p, err := a.Profiles.Refresh(r.Context())
	if err != nil {
		slog.Error("profile refresh failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if p == nil {
		http.Error(w, ErrNoProfile, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
