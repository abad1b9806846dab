// Package httpapi exposes the REST API the city client consumes: the city
// snapshot, claims, the shop, raids, social actions, webhooks, the realtime
// presence channel, and the admin surface. Handlers validate, call one
// service, and translate its sentinels into HTTP statuses.
package httpapi

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	app "github.com/EndlessPixel/git-city/internal/app"
	"github.com/EndlessPixel/git-city/internal/app/auth"
	"github.com/EndlessPixel/git-city/internal/app/metrics"
	billboardsvc "github.com/EndlessPixel/git-city/internal/app/services/billboards"
	citysvc "github.com/EndlessPixel/git-city/internal/app/services/city"
	loadoutsvc "github.com/EndlessPixel/git-city/internal/app/services/loadouts"
	raidsvc "github.com/EndlessPixel/git-city/internal/app/services/raids"
	shopsvc "github.com/EndlessPixel/git-city/internal/app/services/shop"
	socialsvc "github.com/EndlessPixel/git-city/internal/app/services/social"
	"github.com/EndlessPixel/git-city/internal/app/storage"
	apperrors "github.com/EndlessPixel/git-city/internal/errors"
	"github.com/EndlessPixel/git-city/internal/github"
	"github.com/EndlessPixel/git-city/internal/httputil"
	"github.com/EndlessPixel/git-city/internal/logging"
	"github.com/EndlessPixel/git-city/internal/media"
	"github.com/EndlessPixel/git-city/internal/middleware"
	"github.com/EndlessPixel/git-city/internal/payments/card"
	"github.com/EndlessPixel/git-city/internal/payments/pix"
)

// Config wires the HTTP server.
type Config struct {
	App *app.Application

	Tokens *auth.Manager
	State  *auth.State
	OAuth  *github.OAuth

	Card  *card.Client
	PIX   *pix.Client
	Media *media.Client

	// Items and Achievements are needed directly for admin catalog syncs.
	Items        storage.ItemStore
	Achievements storage.AchievementStore
	Sessions     storage.SessionStore
	CatalogPath  string

	PublicBaseURL string
	FrontendURL   string
	CookieName    string
	CookieSecure  bool

	AdminKeys      []string
	AllowedOrigins []string
	RatePerSecond  int
	RateBurst      int
	RaidsPerMinute int
	AuditLogPath   string

	Logger *logging.Logger
}

// Server holds the handler dependencies.
type Server struct {
	app   *app.Application
	oauth *github.OAuth
	state *auth.State

	card  *card.Client
	pix   *pix.Client
	media *media.Client

	items        storage.ItemStore
	achievements storage.AchievementStore
	catalogPath  string

	publicBaseURL string
	frontendURL   string
	cookieName    string
	cookieSecure  bool

	authmw  *middleware.AuthMiddleware
	apiKeys *middleware.APIKeyMiddleware
	limiter *middleware.RateLimiter
	raidRL  *middleware.RateLimiter
	tracing *middleware.TracingMiddleware
	cors    *middleware.CORSMiddleware

	audit   *auditLog
	started time.Time
	log     *logging.Logger
}

// NewServer builds the server and its middleware stack.
func NewServer(cfg Config) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}

	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = "git_city_session"
	}

	sink, err := newFileAuditSink(cfg.AuditLogPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		app:           cfg.App,
		oauth:         cfg.OAuth,
		state:         cfg.State,
		card:          cfg.Card,
		pix:           cfg.PIX,
		media:         cfg.Media,
		items:         cfg.Items,
		achievements:  cfg.Achievements,
		catalogPath:   cfg.CatalogPath,
		publicBaseURL: cfg.PublicBaseURL,
		frontendURL:   cfg.FrontendURL,
		cookieName:    cookieName,
		cookieSecure:  cfg.CookieSecure,
		authmw:        middleware.NewAuthMiddleware(cfg.Tokens, cfg.Sessions, cookieName, log),
		apiKeys:       middleware.NewAPIKeyMiddleware(cfg.AdminKeys, log),
		tracing:       middleware.NewTracingMiddleware(log),
		cors:          middleware.NewCORSMiddleware(cfg.AllowedOrigins),
		audit:         newAuditLog(0, sink),
		started:       time.Now(),
		log:           log,
	}
	if cfg.RatePerSecond > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RatePerSecond, cfg.RateBurst, log)
		s.limiter.StartCleanup(5 * time.Minute)
	}
	raidsPerMinute := cfg.RaidsPerMinute
	if raidsPerMinute <= 0 {
		raidsPerMinute = 3
	}
	s.raidRL = middleware.NewRateLimiterPerMinute(raidsPerMinute, log)
	return s, nil
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.tracing.Handler)
	r.Use(s.cors.Handler)
	if s.limiter != nil {
		r.Use(s.limiter.Handler)
	}

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/auth/github/login", s.handleOAuthLogin)
	r.Get("/auth/github/callback", s.handleOAuthCallback)
	r.Post("/auth/logout", s.handleLogout)

	r.Post("/webhooks/card", s.handleCardWebhook)
	r.Post("/webhooks/pix", s.handlePIXWebhook)

	r.With(s.authmw.OptionalAuth).Get("/realtime/ws", s.handleRealtime)

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/city", s.handleCity)
		api.Get("/buildings/{login}", s.handleBuildingDetail)
		api.Get("/items", s.handleItems)
		api.Get("/achievements", s.handleAchievementCatalog)
		api.Get("/feed", s.handleFeed)
		api.Get("/billboards", s.handleListBillboards)
		api.Get("/raids", s.handleRaidHistory)
		api.Get("/leaderboard/raids", s.handleLeaderboard)

		api.Group(func(priv chi.Router) {
			priv.Use(s.authmw.RequireAuth)
			priv.Use(s.auditMutations)

			priv.Get("/me", s.handleMe)
			priv.Get("/me/inventory", s.handleInventory)
			priv.Get("/me/achievements", s.handleMyAchievements)
			priv.Get("/me/referrals", s.handleMyReferrals)

			priv.Post("/buildings/claim", s.handleClaim)
			priv.Post("/buildings/{login}/sync", s.handleSyncStats)
			priv.Post("/buildings/{login}/kudos", s.handleGiveKudos)
			priv.Delete("/buildings/{login}/kudos", s.handleWithdrawKudos)

			priv.Post("/purchases", s.handleBeginPurchase)
			priv.Get("/purchases/{id}", s.handleGetPurchase)

			priv.Get("/loadout", s.handleGetLoadout)
			priv.Put("/loadout", s.handleEquip)
			priv.Delete("/loadout/{zone}", s.handleUnequip)

			priv.With(s.raidRL.Handler).Post("/raids", s.handleLaunchRaid)

			priv.Post("/referrals/redeem", s.handleRedeemReferral)

			priv.Post("/billboards", s.handlePlaceBillboard)
			priv.Post("/media", s.handleUploadMedia)
		})

		api.Group(func(admin chi.Router) {
			admin.Use(s.apiKeys.Handler)
			admin.Get("/admin/status", s.handleAdminStatus)
			admin.Get("/admin/audit", s.handleAdminAudit)
			admin.Post("/admin/catalog/sync", s.handleCatalogSync)
			admin.Post("/admin/buildings/reseed", s.handleReseed)
		})
	})

	return metrics.InstrumentHandler(r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps service and storage sentinels onto the API error model.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if svcErr := apperrors.GetServiceError(err); svcErr != nil {
		httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
		return
	}

	switch {
	case errors.Is(err, sql.ErrNoRows),
		errors.Is(err, raidsvc.ErrUnclaimedDefender):
		httputil.NotFound(w, "")
	case errors.Is(err, storage.ErrConflict),
		errors.Is(err, citysvc.ErrAlreadyClaimed),
		errors.Is(err, shopsvc.ErrAlreadyOwned),
		errors.Is(err, billboardsvc.ErrSlotsFull):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, citysvc.ErrNotOwner),
		errors.Is(err, shopsvc.ErrNotOwner),
		errors.Is(err, loadoutsvc.ErrNotOwned),
		errors.Is(err, socialsvc.ErrOwnBuilding):
		httputil.Forbidden(w, err.Error())
	case errors.Is(err, billboardsvc.ErrNoBillboardPurchase):
		httputil.WriteErrorResponse(w, r, http.StatusPaymentRequired, "payment_required", err.Error(), nil)
	case errors.Is(err, citysvc.ErrStatsUnavailable),
		errors.Is(err, shopsvc.ErrProviderUnavailable):
		httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "provider_failure", err.Error(), nil)
	case errors.Is(err, storage.ErrConstraint),
		errors.Is(err, shopsvc.ErrItemUnavailable),
		errors.Is(err, shopsvc.ErrBadProvider),
		errors.Is(err, loadoutsvc.ErrNotEquippable),
		errors.Is(err, loadoutsvc.ErrZoneMismatch),
		errors.Is(err, loadoutsvc.ErrItemInactive),
		errors.Is(err, raidsvc.ErrSelfRaid),
		errors.Is(err, raidsvc.ErrBadEmblem),
		errors.Is(err, socialsvc.ErrSelfReferral),
		errors.Is(err, socialsvc.ErrRedeemWindowClosed),
		errors.Is(err, billboardsvc.ErrBadImage):
		httputil.BadRequest(w, err.Error())
	default:
		s.log.WithContext(r.Context()).WithError(err).Error("request failed")
		httputil.InternalError(w, "")
	}
}

func (s *Server) developerID(r *http.Request) string {
	return middleware.GetDeveloperID(r.Context())
}
