package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes holds everything the HTTP surface is built from
type Routes struct {
	Chat           *ChatHandler
	Status         *StatusHandler
	Middleware     *Middleware
	RequestTimeout time.Duration
}

// NewRouter wires the gateway endpoints
func NewRouter(rt Routes) http.Handler {
	timeout := rt.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID", "X-Cache-Hit", "X-Provider", "X-Latency-Ms", "X-Failover"},
		MaxAge:         300,
	}))

	r.Get("/health", rt.Status.HandleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if rt.Middleware != nil {
				r.Use(rt.Middleware.RateLimitMiddleware)
			}
			r.Post("/generate", rt.Chat.HandleGenerate)
			r.Post("/chat/completions", rt.Chat.HandleChatCompletion)
		})

		r.Get("/stats", rt.Status.HandleStats)
		r.Get("/stats/history", rt.Status.HandleHistory)
		r.Get("/providers", rt.Status.HandleProviders)
		r.Post("/providers/{name}/model", rt.Status.HandleSwitchModel)
		r.Delete("/cache", rt.Status.HandleClearCache)
	})

	return r
}
