package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	citysvc "github.com/EndlessPixel/git-city/internal/app/services/city"
	"github.com/EndlessPixel/git-city/internal/httputil"
)

// cityResponse is the snapshot plus the live viewer count.
type cityResponse struct {
	citysvc.Snapshot
	Viewers int `json:"viewers"`
}

func (s *Server) handleCity(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.app.City.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cityResponse{Snapshot: snapshot, Viewers: s.app.Presence.Count()})
}

func (s *Server) handleBuildingDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.app.City.Detail(r.Context(), chi.URLParam(r, "login"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

// handleClaim takes ownership of the building matching the signed-in login.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	dev, err := s.app.Identity.Developer(r.Context(), s.developerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.app.City.Claim(r.Context(), dev)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, b)
}

// handleSyncStats refreshes a building's GitHub stats. Owner only.
func (s *Server) handleSyncStats(w http.ResponseWriter, r *http.Request) {
	b, err := s.app.City.SyncStats(r.Context(), chi.URLParam(r, "login"), s.developerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, b)
}

// handleRealtime upgrades to the presence websocket. Signed-in visitors join
// under their login, everyone else as a guest.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	login := ""
	if id := s.developerID(r); id != "" {
		if dev, err := s.app.Identity.Developer(r.Context(), id); err == nil {
			login = dev.Login
		}
	}
	s.app.Presence.ServeWS(w, r, login)
}
