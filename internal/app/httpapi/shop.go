package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/EndlessPixel/git-city/internal/httputil"
)

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.app.Shop.Items(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

// handleBeginPurchase opens a payment attempt. The response carries whatever
// the provider handed back: a checkout URL for card, a QR payload for PIX.
func (s *Server) handleBeginPurchase(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ItemID   string `json:"item_id"`
		Provider string `json:"provider"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	purchase, err := s.app.Shop.Begin(r.Context(), s.developerID(r), payload.ItemID, payload.Provider)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, purchase)
}

func (s *Server) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	purchase, err := s.app.Shop.Purchase(r.Context(), s.developerID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, purchase)
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.app.Shop.Inventory(r.Context(), s.developerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetLoadout(w http.ResponseWriter, r *http.Request) {
	slots, err := s.app.Loadouts.Loadout(r.Context(), s.developerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, slots)
}

func (s *Server) handleEquip(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Zone   string `json:"zone"`
		ItemID string `json:"item_id"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	slot, err := s.app.Loadouts.Equip(r.Context(), s.developerID(r), payload.Zone, payload.ItemID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, slot)
}

func (s *Server) handleUnequip(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Loadouts.Unequip(r.Context(), s.developerID(r), chi.URLParam(r, "zone")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
