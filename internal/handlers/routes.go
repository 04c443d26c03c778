package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/familydiary/diary/internal/metrics"
	"github.com/familydiary/diary/internal/middleware"
)

// RouterDeps aggregates collaborators required by NewRouter.
type RouterDeps struct {
	Logger  *slog.Logger
	Metrics metrics.Recorder

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	AllowedOrigins []string
	AllowLocalhost bool

	// Verifier checks bearer tokens on the diary routes.
	Verifier      middleware.TokenVerifier
	DevAuthBypass bool
	AuthRateLimit RateLimiter

	// Auth serves /auth/*. It is nil when a managed identity provider is used.
	Auth *AuthHandler

	Entries       EntryStore
	Calendar      CalendarStore
	Photos        PhotoStore
	Prompts       PromptLookup
	MaxPhotoBytes int
}

// NewRouter builds the API routes and middleware chain:
//
//	CORS -> RequestLogger -> (Authorize for diary routes)
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(deps.AllowedOrigins, deps.AllowLocalhost))
	r.Use(middleware.RequestLogger(logger, deps.Metrics))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(r.Context(), w, http.StatusNotFound, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(r.Context(), w, http.StatusMethodNotAllowed, "method not allowed")
	})

	health := HealthHandler{}
	diary := DiaryHandler{
		Entries:       deps.Entries,
		Photos:        deps.Photos,
		Metrics:       deps.Metrics,
		MaxPhotoBytes: deps.MaxPhotoBytes,
	}
	calendar := CalendarHandler{Entries: deps.Calendar}
	prompt := PromptHandler{Prompts: deps.Prompts}

	r.Get("/health", health.Handle)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	if deps.Auth != nil {
		auth := *deps.Auth
		if auth.Limiter == nil {
			auth.Limiter = deps.AuthRateLimit
		}
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", auth.SignUp)
			r.Post("/initiate", auth.Initiate)
			r.Post("/challenge", auth.Challenge)
			r.Post("/revoke", auth.Revoke)
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authorize(deps.Verifier, deps.DevAuthBypass))

		r.Get("/", diary.Recent)
		r.Route("/diary/{recordKey}", func(r chi.Router) {
			r.Get("/", diary.Get)
			r.Post("/", diary.Save)
			r.Delete("/", diary.Delete)
			r.Post("/photo", diary.UploadPhoto)
		})
		r.Get("/family/calendar/{year}/{month}", calendar.Family)
		r.Get("/my/calendar/{year}/{month}", calendar.Mine)
		r.Get("/prompt", prompt.Get)
	})

	return r
}
