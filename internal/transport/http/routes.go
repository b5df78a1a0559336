package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/files", func(r chi.Router) {
		r.Post("/", h.UploadDocument)
		r.Get("/", h.ListDocuments)
		r.Get("/{id}", h.GetDocument)

		r.Post("/{id}/extract", h.SubmitExtraction)
		r.Get("/{id}/text", h.GetExtractedText)

		r.Get("/{id}/anonymized", h.AnonymizeDocument)
		r.Get("/{id}/summary", h.GetSummary)
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
