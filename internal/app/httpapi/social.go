package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/EndlessPixel/git-city/internal/httputil"
)

func (s *Server) handleGiveKudos(w http.ResponseWriter, r *http.Request) {
	dev, err := s.app.Identity.Developer(r.Context(), s.developerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.app.Social.GiveKudos(r.Context(), dev, chi.URLParam(r, "login")); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"status": "kudos_given"})
}

func (s *Server) handleWithdrawKudos(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Social.WithdrawKudos(r.Context(), s.developerID(r), chi.URLParam(r, "login")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRedeemReferral(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code string `json:"code"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	dev, err := s.app.Identity.Developer(r.Context(), s.developerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	referral, err := s.app.Social.Redeem(r.Context(), dev, payload.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, referral)
}

func (s *Server) handleMyReferrals(w http.ResponseWriter, r *http.Request) {
	dev, err := s.app.Identity.Developer(r.Context(), s.developerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summary, err := s.app.Social.ReferralSummary(r.Context(), dev)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAchievementCatalog(w http.ResponseWriter, r *http.Request) {
	defs, err := s.app.Achievements.Definitions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, defs)
}

func (s *Server) handleMyAchievements(w http.ResponseWriter, r *http.Request) {
	unlocked, err := s.app.Achievements.Unlocked(r.Context(), s.developerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, unlocked)
}

// handleFeed serves the public activity feed, newest first, with the total
// count in X-Total-Count for pagination.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	events, total, err := s.app.Feed.List(r.Context(), page, perPage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	httputil.WriteJSON(w, http.StatusOK, events)
}
