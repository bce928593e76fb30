package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sehatline/triage-ai/internal/chatgateway"
	httpmiddleware "github.com/sehatline/triage-ai/internal/http/middleware"
	"github.com/sehatline/triage-ai/internal/sessionstore"
	"github.com/sehatline/triage-ai/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	Gateway            *chatgateway.Handler
	SessionStore       *sessionstore.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Requests/sec per client IP on the chat endpoints; 0 disables limiting.
	ChatRateLimit float64
	ChatRateBurst int
}

// New creates the Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Gateway != nil {
		r.Group(func(chat chi.Router) {
			if cfg.ChatRateLimit > 0 {
				chat.Use(httpmiddleware.RateLimit(cfg.ChatRateLimit, cfg.ChatRateBurst))
			}
			chat.Get("/chat/ws", cfg.Gateway.HandleWebSocket)
			chat.Get("/chat/history", cfg.Gateway.HandleHistory)
		})
	}

	if cfg.SessionStore != nil {
		cfg.SessionStore.Register(r)
	}

	return r
}
