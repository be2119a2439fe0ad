package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openlot/auctionhouse/internal/api"
	"github.com/openlot/auctionhouse/internal/auction"
	"github.com/openlot/auctionhouse/internal/auth"
	"github.com/openlot/auctionhouse/internal/config"
	"github.com/openlot/auctionhouse/internal/db"
	"github.com/openlot/auctionhouse/internal/house"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// eventHub fans emitted auction events out to connected websocket clients.
// Events are fire-and-forget: a failed or slow client is dropped, never
// retried.
type eventHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
}

func newEventHub() *eventHub {
	return &eventHub{clients: make(map[*wsClient]bool)}
}

// Emit implements auction.Emitter
func (h *eventHub) Emit(e auction.Event) {
	payload := struct {
		Type string        `json:"type"`
		Data auction.Event `json:"data"`
	}{Type: e.Kind(), Data: e}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Msgf("failed to marshal event %s: %v", e.Kind(), err)
		return
	}

	var failed []*wsClient
	h.mu.RLock()
	for client := range h.clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			log.Error().Msgf("failed to send event: %v", err)
			failed = append(failed, client)
		}
	}
	h.mu.RUnlock()

	if len(failed) > 0 {
		h.mu.Lock()
		for _, client := range failed {
			delete(h.clients, client)
		}
		h.mu.Unlock()
	}
}

func (h *eventHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Msgf("failed to upgrade connection: %v", err)
		return
	}

	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	// Keep connection alive and handle disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			break
		}
	}
}

// Main entry point: sets up database, auction house, and HTTP server
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Msgf("failed to load config: %v", err)
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Initialize database connection
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Msgf("failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// Event feed for auction notifications
	hub := newEventHub()

	// Initialize the auction house and restore persisted auctions
	h := house.NewHouse(database, house.SystemClock{}, hub)
	if err := h.Load(ctx); err != nil {
		log.Fatal().Msgf("failed to load auctions: %v", err)
	}

	// Initialize auth service
	authService := auth.NewAuthService(database, []byte(cfg.JWTSecret))

	// Initialize API handlers
	handler := api.NewHandler(database, h, authService)

	// Set up HTTP router
	r := chi.NewRouter()

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket event feed
	r.Get("/ws", hub.handleWebSocket)

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)
	r.Get("/auctions", handler.ListAuctions)
	r.Get("/auctions/{id}", handler.GetAuction)
	r.Get("/assets/{id}", handler.GetAsset)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Get("/account", handler.GetAccount)
		r.Post("/assets", handler.CreateAsset)
		r.Post("/auctions", handler.CreateAuction)
		r.Post("/auctions/{id}/bids", handler.PlaceBid)
		r.Delete("/auctions/{id}", handler.CancelAuction)
		r.Post("/auctions/{id}/close", handler.CloseAuction)
		r.Post("/auctions/{id}/claim", handler.ClaimAsset)
	})

	// Start server
	log.Info().Msgf("starting server on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		log.Fatal().Msgf("server failed: %v", err)
	}
}
