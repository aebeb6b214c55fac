package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"gridgallery/internal/events"
	"gridgallery/internal/gallery"
	"gridgallery/internal/grid"
	"gridgallery/internal/media"
	"gridgallery/internal/presets"
	"gridgallery/internal/ratelimit"
	"gridgallery/internal/recipes"
	"gridgallery/internal/registry"
	"gridgallery/internal/util"
)

// Config wires required dependencies for the HTTP server. Jobs, Users and
// Favorites are only available with the relational backend and may be nil;
// Media, Limiter and Events are optional.
type Config struct {
	Catalog        presets.Catalog
	Gallery        gallery.Store
	Jobs           *gallery.JobStore
	Users          *gallery.UserStore
	Favorites      *gallery.FavoritesStore
	Grid           *grid.Client
	Registry       *registry.Client
	Recipes        *recipes.Client
	Media          *media.Locator
	Limiter        *ratelimit.SubmitLimiter
	Events         *events.Publisher
	GridAPIKey     string
	StylesPath     string
	AllowedOrigins []string
}

// Server exposes the gallery HTTP API.
type Server struct {
	catalog        presets.Catalog
	store          gallery.Store
	jobs           *gallery.JobStore
	users          *gallery.UserStore
	favorites      *gallery.FavoritesStore
	grid           *grid.Client
	registry       *registry.Client
	recipes        *recipes.Client
	media          *media.Locator
	limiter        *ratelimit.SubmitLimiter
	events         *events.Publisher
	gridAPIKey     string
	stylesPath     string
	allowedOrigins []string
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		catalog:        cfg.Catalog,
		store:          cfg.Gallery,
		jobs:           cfg.Jobs,
		users:          cfg.Users,
		favorites:      cfg.Favorites,
		grid:           cfg.Grid,
		registry:       cfg.Registry,
		recipes:        cfg.Recipes,
		media:          cfg.Media,
		limiter:        cfg.Limiter,
		events:         cfg.Events,
		gridAPIKey:     cfg.GridAPIKey,
		stylesPath:     cfg.StylesPath,
		allowedOrigins: cfg.AllowedOrigins,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithCORS(s.allowedOrigins, s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.HandleFunc("/api/models", s.handleListModels)
	s.mux.HandleFunc("/api/models/", s.handleGetModel)
	s.mux.HandleFunc("/api/styles", s.handleStyles)

	s.mux.HandleFunc("/api/jobs", s.handleCreateJob)
	s.mux.HandleFunc("/api/jobs/", s.handleJobByID)

	s.mux.HandleFunc("/api/gallery", s.handleGallery)
	s.mux.HandleFunc("/api/gallery/", s.handleGalleryByID)

	s.mux.HandleFunc("/api/users/connect", s.handleConnectUser)
	s.mux.HandleFunc("/api/favorites", s.handleFavorites)
	s.mux.HandleFunc("/api/favorites/", s.handleFavoriteByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestWallet returns the lowercase caller wallet from the request header.
func requestWallet(r *http.Request) string {
	return strings.ToLower(strings.TrimSpace(r.Header.Get("X-Wallet-Address")))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "status": status})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
