package devserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.MiddlewareLogger)
	r.Get("/", s.HandlerGetPipeline)
	r.Post("/", s.HandlerCreateTask)
	r.Get("/{id:[0-9]+}", s.HandlerGetTask)
	r.Post("/{id:[0-9]+}", s.HandlerUpdateTask)
	r.Delete("/{id:[0-9]+}", s.HandlerDeleteTask)
	return r
}
