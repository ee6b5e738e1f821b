package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/erauner12/productsync/internal/auth"
	"github.com/erauner12/productsync/internal/service/productservice"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// Server holds dependencies for HTTP handlers
type Server struct {
	Products *productservice.Service
	// Live serves GET /ws; nil disables the live feed route
	Live http.Handler
	// RateLimitConfig applies per-owner to the product routes; zero disables limiting
	RateLimitConfig RateLimitInfo
	// AllowedOrigins for CORS; empty allows any origin
	AllowedOrigins []string
	// ConditionalList enables Last-Modified / If-Modified-Since on GET /product.
	// Only safe when every write goes through this instance.
	ConditionalList bool
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// Routes creates the HTTP router with the product endpoints and live feed
func (s *Server) Routes(jwt auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorrelationMiddleware)
	r.Use(cors.Handler(s.corsOptions()))

	// Health check (unauthenticated)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	// Live feed authenticates inside the socket with its first frame
	if s.Live != nil {
		r.Handle("/ws", s.Live)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(jwt))
		if s.RateLimitConfig.MaxRequests > 0 {
			r.Use(RateLimitMiddleware(s.RateLimitConfig))
		}

		r.Get("/product", s.ListProducts)
		r.Post("/product", s.CreateProduct)
		r.Get("/product/{id}", s.GetProduct)
		r.Put("/product/{id}", s.PutProduct)
		r.Delete("/product/{id}", s.DeleteProduct)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}

func (s *Server) corsOptions() cors.Options {
	origins := s.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "If-Match", "If-Modified-Since",
			"ETag", "X-Correlation-ID", "X-Debug-Sub", LiveClientHeader},
		ExposedHeaders: []string{"ETag", "Last-Modified", "X-Correlation-ID", "Retry-After"},
		MaxAge:         300,
	}
}
