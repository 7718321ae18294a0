package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router builds the HTTP handler for this application instance.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			a.logger.Error("writing health response", "error", err)
		}
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(a.withSession)

		r.Get("/plugins", a.listPlugins)

		r.Post("/auth/session", a.createSession)
		r.Get("/me", a.currentUser)

		r.Get("/channels", a.listChannels)
		r.Post("/channels", a.createChannel)
		r.Get("/channels/{name}", a.getChannel)

		r.Get("/channels/{name}/packages", a.listPackages)
		r.Post("/channels/{name}/packages", a.createPackage)
	})

	return r
}
