package api

import (
	"net/http"

	mw "github.com/deneee3444-wq/api/internal/api/middleware"
	"github.com/deneee3444-wq/api/internal/api/response"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc
	Artifacts     http.Handler

	GenerateImage http.HandlerFunc
	GenerateVideo http.HandlerFunc
	GenerateTTS   http.HandlerFunc

	ListJobs  http.HandlerFunc
	GetJob    http.HandlerFunc
	JobStatus http.HandlerFunc
	Quota     http.HandlerFunc
	Voices    http.HandlerFunc

	ListCredentials  http.HandlerFunc
	AddCredentials   http.HandlerFunc
	DeleteCredential http.HandlerFunc
	ResetCredentials http.HandlerFunc

	AdminResetPool        http.HandlerFunc
	AdminDeleteTenant     http.HandlerFunc
	AdminDeleteTenantData http.HandlerFunc
	AdminDeleteAllData    http.HandlerFunc
	AdminStats            http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.Artifacts != nil {
		r.Handle("/artifacts/*", http.StripPrefix("/artifacts", deps.Artifacts))
	}

	// Operator routes, authenticated by the admin key rather than a tenant key
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(deps.Auth.RequireAdmin)

		r.Post("/credentials/reset", orNotImplemented(deps.AdminResetPool))
		r.Delete("/tenants/{tenantID}", orNotImplemented(deps.AdminDeleteTenant))
		r.Delete("/tenants/{tenantID}/data", orNotImplemented(deps.AdminDeleteTenantData))
		r.Delete("/data", orNotImplemented(deps.AdminDeleteAllData))
		r.Get("/stats", orNotImplemented(deps.AdminStats))
	})

	// Tenant routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/generate/image", orNotImplemented(deps.GenerateImage))
		r.Post("/api/v1/generate/video", orNotImplemented(deps.GenerateVideo))
		r.Post("/api/v1/generate/tts", orNotImplemented(deps.GenerateTTS))

		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobs))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJob))
		r.Get("/api/v1/jobs/{jobID}/status", orNotImplemented(deps.JobStatus))

		r.Get("/api/v1/quota", orNotImplemented(deps.Quota))
		r.Get("/api/v1/voices", orNotImplemented(deps.Voices))

		r.Get("/api/v1/credentials", orNotImplemented(deps.ListCredentials))
		r.Post("/api/v1/credentials", orNotImplemented(deps.AddCredentials))
		r.Post("/api/v1/credentials/reset", orNotImplemented(deps.ResetCredentials))
		r.Delete("/api/v1/credentials/{identifier}", orNotImplemented(deps.DeleteCredential))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
