package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/EndlessPixel/git-city/internal/catalog"
	"github.com/EndlessPixel/git-city/internal/httputil"
)

// reseedTimeout bounds the background stats refresh kicked off by the admin
// reseed endpoint.
const reseedTimeout = 30 * time.Minute

// handleAdminStatus reports host and application health.
func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"services":       s.app.Services(),
		"viewers":        s.app.Presence.Count(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory"] = map[string]interface{}{
			"total_bytes": vm.Total,
			"used_bytes":  vm.Used,
			"used_pct":    vm.UsedPercent,
		}
	}
	if percents, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(percents) > 0 {
		status["cpu_pct"] = percents[0]
	}
	if up, err := host.UptimeWithContext(r.Context()); err == nil {
		status["host_uptime_seconds"] = up
	}

	httputil.WriteJSON(w, http.StatusOK, status)
}

// handleAdminAudit lists recent authenticated mutations, oldest first.
func (s *Server) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		limit = v
	}
	httputil.WriteJSON(w, http.StatusOK, s.audit.listLimit(limit))
}

// handleCatalogSync re-reads the YAML catalog and upserts items and
// achievement definitions.
func (s *Server) handleCatalogSync(w http.ResponseWriter, r *http.Request) {
	if s.catalogPath == "" {
		httputil.WriteErrorResponse(w, r, http.StatusServiceUnavailable, "catalog_disabled", "no catalog path configured", nil)
		return
	}
	c, err := catalog.Load(s.catalogPath)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	result, err := catalog.Sync(r.Context(), s.items, s.achievements, c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// handleReseed refreshes every building's GitHub stats in the background and
// returns immediately.
func (s *Server) handleReseed(w http.ResponseWriter, _ *http.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reseedTimeout)
		defer cancel()
		if n, err := s.app.City.RefreshAll(ctx); err != nil {
			s.log.WithError(err).Warn("background reseed failed")
		} else {
			s.log.WithField("buildings", n).Info("background reseed finished")
		}
	}()
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "reseed_started"})
}
