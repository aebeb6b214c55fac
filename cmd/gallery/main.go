package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"gridgallery/internal/config"
	"gridgallery/internal/events"
	"gridgallery/internal/gallery"
	"gridgallery/internal/grid"
	"gridgallery/internal/media"
	"gridgallery/internal/presets"
	"gridgallery/internal/ratelimit"
	"gridgallery/internal/recipes"
	"gridgallery/internal/registry"
	"gridgallery/internal/server"
	"gridgallery/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	catalog, err := presets.LoadCatalog(cfg.ModelPresetPath)
	if err != nil {
		log.Fatalf("failed to load model presets: %v", err)
	}
	slog.Info("model presets loaded", "count", catalog.Len(), "path", cfg.ModelPresetPath)

	var (
		store     gallery.Store
		jobs      *gallery.JobStore
		users     *gallery.UserStore
		favorites *gallery.FavoritesStore
	)
	if cfg.DatabaseURL != "" {
		gormStore, err := gallery.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		store = gormStore
		jobs = gallery.NewJobStore(gormStore.DB())
		users = gallery.NewUserStore(gormStore.DB())
		favorites = gallery.NewFavoritesStore(gormStore.DB())
		slog.Info("gallery store ready", "backend", "postgres")
	} else {
		fileStore, err := gallery.NewFileStore(cfg.GalleryStorePath, cfg.MaxGalleryItems)
		if err != nil {
			log.Fatalf("failed to open gallery store: %v", err)
		}
		store = fileStore
		slog.Info("gallery store ready", "backend", "file", "path", cfg.GalleryStorePath, "items", fileStore.Count())
	}

	chainOpts := registry.Options{
		CacheTTL:  cfg.ChainCacheTTLDuration(),
		CallDelay: cfg.ChainCallIntervalDuration(),
	}
	registryClient, err := registry.NewClient(cfg.ChainRPCURL, cfg.ChainContractAddress, cfg.ChainEnabled, chainOpts)
	if err != nil {
		log.Fatalf("failed to init registry client: %v", err)
	}
	recipesClient, err := recipes.NewClient(cfg.ChainRPCURL, cfg.ChainContractAddress, cfg.ChainEnabled, recipes.Options{
		CacheTTL:  chainOpts.CacheTTL,
		CallDelay: chainOpts.CallDelay,
	})
	if err != nil {
		log.Fatalf("failed to init recipes client: %v", err)
	}

	var locator *media.Locator
	if cfg.StorageConfigured() {
		locator, err = media.NewLocator(media.Config{
			Endpoint:           cfg.StorageEndpoint,
			UseSSL:             cfg.StorageUseSSL,
			TransientBucket:    cfg.TransientBucket,
			PermanentBucket:    cfg.PermanentBucket,
			TransientAccessKey: cfg.TransientAccessKey,
			TransientSecretKey: cfg.TransientSecretKey,
			SharedAccessKey:    cfg.SharedAccessKey,
			SharedSecretKey:    cfg.SharedSecretKey,
			CDNBaseURL:         cfg.CDNBaseURL,
			PresignExpiry:      cfg.PresignExpiryDuration(),
			DefaultExtension:   cfg.MediaDefaultExtension,
		})
		if err != nil {
			log.Fatalf("failed to init media locator: %v", err)
		}
	}

	var limiter *ratelimit.SubmitLimiter
	if cfg.RedisAddr != "" {
		limiter, err = ratelimit.NewSubmitLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.SubmitRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	var publisher *events.Publisher
	if cfg.EventsAMQPURL != "" {
		publisher, err = events.NewPublisher(cfg.EventsAMQPURL)
		if err != nil {
			log.Fatalf("failed to init event publisher: %v", err)
		}
		defer publisher.Close()
	}

	httpServer := server.New(server.Config{
		Catalog:        catalog,
		Gallery:        store,
		Jobs:           jobs,
		Users:          users,
		Favorites:      favorites,
		Grid:           grid.NewClient(cfg.GridAPIURL, cfg.GridClientAgent, cfg.GridAPIKey),
		Registry:       registryClient,
		Recipes:        recipesClient,
		Media:          locator,
		Limiter:        limiter,
		Events:         publisher,
		GridAPIKey:     cfg.GridAPIKey,
		StylesPath:     cfg.StylesPath,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("gallery server listening", "addr", addr, "chain", cfg.ChainEnabled)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
