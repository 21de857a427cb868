package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/categories"
	"server/internal/domain"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/imaging"
	"server/internal/infra"
	"server/internal/infra/geoip"
	"server/internal/listing"
	"server/internal/middleware"
	"server/internal/persist"
	"server/internal/providers/genai"
	"server/internal/session"
	"server/internal/settings"
)

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	// Settings store, seeded from the environment; the file wins where set.
	seed := settings.Defaults()
	seed.APIKey = cfg.GeminiAPIKey
	seed.SaveURL = cfg.SaveEndpointURL
	seed.CategoriesURL = cfg.CategoriesURL
	seed.Language = domain.ParseLanguage(cfg.DefaultLanguage)
	store, err := settings.NewStore(cfg.SettingsPath, seed)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load settings")
	}

	// GeoIP country lookups for locale detection (optional).
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open geoip database")
	}
	var lookup middleware.CountryLookup
	if resolver != nil {
		lookup = resolver.CountryCode
	}

	providerClient := &http.Client{Timeout: cfg.ProviderTimeout}
	provider := genai.NewClient(genai.Options{
		BaseURL:    cfg.GeminiBaseURL,
		HTTPClient: providerClient,
		Logger:     &logger,
	})
	generator := listing.NewGenerator(provider, listing.Models{
		Text:  cfg.GeminiTextModel,
		Image: cfg.GeminiImageModel,
		Probe: cfg.GeminiProbeModel,
	}, logger)

	registry := session.NewRegistry(generator, imaging.Normalize, cfg.SessionTTL, logger)

	app := &handlers.App{
		Log:       logger,
		Settings:  store,
		Sessions:  registry,
		Validator: generator,
		Persist:   persist.NewClient(persist.Options{Logger: &logger}),
		Categories: categories.NewProvider(categories.Options{
			CacheTTL: cfg.CategoryCacheTTL,
			Logger:   &logger,
		}),
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		DefaultLanguage: domain.ParseLanguage(cfg.DefaultLanguage),
		CountryLookup:   lookup,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          logger,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
