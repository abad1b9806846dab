package httpapi

import (
	"net/http"

	"github.com/EndlessPixel/git-city/internal/httputil"
)

func (s *Server) handleListBillboards(w http.ResponseWriter, r *http.Request) {
	boards, err := s.app.Billboards.ListActive(r.Context(), r.URL.Query().Get("building"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, boards)
}

// handlePlaceBillboard consumes one completed billboard purchase and mounts
// the advertisement. An empty building_login places a sky billboard.
func (s *Server) handlePlaceBillboard(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		BuildingLogin string `json:"building_login"`
		ImageURL      string `json:"image_url"`
		LinkURL       string `json:"link_url"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	board, err := s.app.Billboards.Place(r.Context(), s.developerID(r), payload.BuildingLogin, payload.ImageURL, payload.LinkURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, board)
}

// handleUploadMedia stores a billboard image and returns its public URL.
func (s *Server) handleUploadMedia(w http.ResponseWriter, r *http.Request) {
	if s.media == nil || !s.media.Enabled() {
		httputil.WriteErrorResponse(w, r, http.StatusServiceUnavailable, "media_disabled", "media storage is not configured", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.media.MaxUpload()+4096)
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "multipart field 'file' required")
		return
	}
	defer file.Close()

	url, err := s.media.Upload(r.Context(), header.Header.Get("Content-Type"), file)
	if err != nil {
		s.log.WithContext(r.Context()).WithError(err).Warn("media upload failed")
		httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "provider_failure", "media upload failed", nil)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"url": url})
}
