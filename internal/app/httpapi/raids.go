package httpapi

import (
	"net/http"
	"strconv"

	"github.com/EndlessPixel/git-city/internal/httputil"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (s *Server) handleLaunchRaid(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DefenderLogin string `json:"defender_login"`
		Emblem        string `json:"emblem"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	outcome, err := s.app.Raids.Launch(r.Context(), s.developerID(r), payload.DefenderLogin, payload.Emblem)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, outcome)
}

func (s *Server) handleRaidHistory(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	raids, err := s.app.Raids.History(r.Context(),
		r.URL.Query().Get("attacker"),
		r.URL.Query().Get("defender"),
		perPage, (page-1)*perPage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, raids)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= maxPageSize {
		limit = v
	}
	entries, err := s.app.Raids.Leaderboard(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

// pagination reads 1-based ?page and ?per_page with caps.
func pagination(r *http.Request) (page, perPage int) {
	page, perPage = 1, defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && v > 0 {
		perPage = v
	}
	if perPage > maxPageSize {
		perPage = maxPageSize
	}
	return page, perPage
}
