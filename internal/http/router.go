package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/comunidad-segura/realtime-api/internal/handlers"
)

// Handlers はルーターに登録するハンドラー群です
type Handlers struct {
	WebSocket *handlers.WebSocketHandler
	Rooms     *handlers.RoomHandler
	Health    *handlers.HealthHandler
	Metrics   http.Handler // nilの場合 /metrics は公開しない
}

func NewRouter(h Handlers, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/api/v1/healthz", h.Health.Healthz)
	r.Get("/api/v1/stats", h.Rooms.Stats)

	r.Route("/api/v1/rooms", func(r chi.Router) {
		r.Get("/{roomId}/presence", h.Rooms.Presence)
	})

	// WebSocketエンドポイント
	r.Get("/ws", h.WebSocket.HandleWebSocket)

	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	return r
}
