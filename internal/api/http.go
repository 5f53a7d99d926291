// Package api exposes the queue and match operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/yourname/beamnet/internal/match"
	"github.com/yourname/beamnet/internal/queue"
	"github.com/yourname/beamnet/internal/store"
	"github.com/yourname/beamnet/internal/ws"
	"github.com/yourname/beamnet/pkg/types"
)

type router struct {
	repo      store.Repository
	queue     *queue.Manager
	lifecycle *match.Lifecycle
	hub       *ws.Hub
	log       zerolog.Logger
}

func NewRouter(repo store.Repository, qm *queue.Manager, lc *match.Lifecycle,
	hub *ws.Hub, jwtSecret string, log zerolog.Logger) http.Handler {
	r := &router{repo: repo, queue: qm, lifecycle: lc, hub: hub,
		log: log.With().Str("component", "api").Logger()}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.Group(func(mux chi.Router) {
		mux.Use(authMiddleware(jwtSecret))

		mux.Get("/modes", r.handleModes)

		mux.Post("/players/host_pref", r.handleHostPref)

		mux.Post("/queue/join", r.handleQueueJoin)
		mux.Post("/queue/leave", r.handleQueueLeave)
		mux.Get("/queue/entry", r.handleQueueEntry)

		mux.Get("/matches/{id}", r.handleGetMatch)
		mux.Post("/matches/{id}/actions", r.handleMatchAction)
		mux.With(requireAdmin).Post("/matches", r.handleCreateMatch)

		mux.Get("/ws", r.handleWS)
	})

	return mux
}

func (r *router) handleModes(w http.ResponseWriter, req *http.Request) {
	modes, err := r.repo.ListModes(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	type modeBoard struct {
		Mode      types.Mode `json:"mode"`
		Searching int        `json:"searching"`
		InGame    int        `json:"in_game"`
	}
	out := make([]modeBoard, 0, len(modes))
	for _, m := range modes {
		entries, err := r.repo.ListQueueEntries(req.Context(), m.InternalName)
		if err != nil {
			writeError(w, err)
			return
		}
		searching := 0
		for _, e := range entries {
			searching += len(e.PlayerIDs)
		}
		active, err := r.repo.CountActiveMatches(req.Context(), m.InternalName)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, modeBoard{Mode: *m, Searching: searching, InGame: active * 2 * types.TeamSize})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHostPref sets the caller's hosting preference: 0 never, 1 can, 2
// prefers.
func (r *router) handleHostPref(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Pref int `json:"pref"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if body.Pref < 0 || body.Pref > 2 {
		http.Error(w, "pref must be 0, 1, or 2", http.StatusBadRequest)
		return
	}
	playerID := actorFrom(req).ID
	if _, err := r.repo.EnsurePlayer(req.Context(), playerID); err != nil {
		writeError(w, err)
		return
	}
	if err := r.repo.SetHostPref(req.Context(), playerID, body.Pref); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"host_pref": body.Pref})
}

func (r *router) handleQueueJoin(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Modes    []string `json:"modes"`
		HostPref *int     `json:"host_pref,omitempty"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	playerID := actorFrom(req).ID
	if body.HostPref != nil {
		if *body.HostPref < 0 || *body.HostPref > 2 {
			http.Error(w, "host_pref must be 0, 1, or 2", http.StatusBadRequest)
			return
		}
		if _, err := r.repo.EnsurePlayer(req.Context(), playerID); err != nil {
			writeError(w, err)
			return
		}
		if err := r.repo.SetHostPref(req.Context(), playerID, *body.HostPref); err != nil {
			writeError(w, err)
			return
		}
	}
	entry, err := r.queue.Join(req.Context(), playerID, body.Modes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queued": true, "modes": entry.Modes, "joined_at": entry.JoinedAt})
}

func (r *router) handleQueueLeave(w http.ResponseWriter, req *http.Request) {
	elapsed, err := r.queue.Leave(req.Context(), actorFrom(req).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true, "queued_for": elapsed.Round(time.Second).String()})
}

func (r *router) handleQueueEntry(w http.ResponseWriter, req *http.Request) {
	entry, err := r.queue.Entry(req.Context(), actorFrom(req).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if entry == nil {
		writeJSON(w, http.StatusOK, map[string]any{"queued": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queued": true, "modes": entry.Modes, "joined_at": entry.JoinedAt})
}

// handleCreateMatch lets an admin assemble a match directly, bypassing the
// queue. Used for rehosts and testing.
func (r *router) handleCreateMatch(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Players []string `json:"players"`
		Mode    string   `json:"mode"`
		HostID  string   `json:"host_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	m, err := r.lifecycle.Create(req.Context(), body.Players, body.Mode, body.HostID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, r.matchView(req, m))
}

func (r *router) handleGetMatch(w http.ResponseWriter, req *http.Request) {
	m, err := r.repo.GetMatch(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, r.matchView(req, m))
}

func (r *router) matchView(req *http.Request, m *types.Match) map[string]any {
	state := types.MatchState("")
	if mode, err := r.repo.GetMode(req.Context(), m.Mode); err == nil {
		state = match.State(m, mode)
	}
	return map[string]any{
		"id":     m.ID,
		"mode":   m.Mode,
		"state":  state,
		"alpha":  m.Alpha,
		"bravo":  m.Bravo,
		"host":   m.HostID,
		"maps":   m.Maps,
		"modes":  m.GameModes,
		"scores": map[string]int{"alpha": m.Wins(types.TeamAlpha), "bravo": m.Wins(types.TeamBravo)},
	}
}

// handleMatchAction decodes the requested action once and dispatches the typed
// variant.
func (r *router) handleMatchAction(w http.ResponseWriter, req *http.Request) {
	matchID := chi.URLParam(req, "id")
	actor := actorFrom(req)

	var body struct {
		Action types.MatchAction `json:"action"`
		Winner string            `json:"winner,omitempty"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if !body.Action.Valid() {
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}

	ctx := req.Context()
	var (
		m   *types.Match
		err error
	)
	switch body.Action {
	case types.ActionGenerateMaps:
		m, err = r.lifecycle.GenerateMaps(ctx, matchID, actor)
	case types.ActionReportWin:
		var winner types.Team
		switch body.Winner {
		case "alpha":
			winner = types.TeamAlpha
		case "bravo":
			winner = types.TeamBravo
		default:
			http.Error(w, "winner must be alpha or bravo", http.StatusBadRequest)
			return
		}
		m, err = r.lifecycle.ReportWin(ctx, matchID, actor, winner)
	case types.ActionUndo:
		m, err = r.lifecycle.UndoLast(ctx, matchID, actor)
	case types.ActionSubmit:
		m, err = r.lifecycle.SubmitScore(ctx, matchID, actor)
	case types.ActionReportIssue:
		m, err = r.lifecycle.ReportIssue(ctx, matchID, actor.ID)
	case types.ActionResolveIssue:
		m, err = r.lifecycle.ResolveIssue(ctx, matchID, actor)
	case types.ActionCancelSubmission:
		m, err = r.lifecycle.CancelSubmission(ctx, matchID, actor)
	case types.ActionAssignAdmin:
		err = r.lifecycle.AssignAdmin(ctx, matchID, actor)
		if err == nil {
			m, err = r.repo.GetMatch(ctx, matchID)
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, r.matchView(req, m))
}

func (r *router) handleWS(w http.ResponseWriter, req *http.Request) {
	actor := actorFrom(req)
	r.hub.ServeWS(w, req, actor.ID, actor.Admin)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var derr *types.Error
	if errors.As(err, &derr) {
		switch derr.Kind {
		case types.KindNotFound, types.KindNotQueued:
			status = http.StatusNotFound
		case types.KindForbidden:
			status = http.StatusForbidden
		case types.KindAlreadyQueued, types.KindAlreadyInMatch, types.KindAlreadySubmitted:
			status = http.StatusConflict
		case types.KindQueueCooldown:
			status = http.StatusTooManyRequests
		case types.KindModeUnavailable, types.KindInvalidState:
			status = http.StatusUnprocessableEntity
		case types.KindConfigurationError:
			status = http.StatusInternalServerError
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
