package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/http/handlers"
	"server/internal/middleware"
)

// Options carries the cross-cutting request policies.
type Options struct {
	AllowedOrigins  []string
	DefaultLanguage domain.Language
	CountryLookup   middleware.CountryLookup
	RateLimitPerMin int
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.CORS(opts.AllowedOrigins),
		middleware.Locale(opts.DefaultLanguage, opts.CountryLookup),
		middleware.Logger(opts.Logger),
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", app.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.GetSession)
			r.Post("/generate", app.GenerateListing)
			r.Post("/images/{slot}/regenerate", app.RegenerateImage)
			r.Delete("/images/{slot}", app.DeleteImage)
			r.Patch("/draft", app.EditDraft)
			r.Post("/reset", app.ResetSession)
			r.Post("/save", app.SaveProduct)
		})
	})

	r.Route("/v1/settings", func(r chi.Router) {
		r.Get("/", app.GetSettings)
		r.Put("/", app.UpdateSettings)
		r.Post("/validate-key", app.ValidateKey)
	})

	r.Get("/v1/categories", app.GetCategories)

	return r
}
