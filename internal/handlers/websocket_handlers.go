package handlers

import (
	"net/http"

	"jamroom/internal/auth"
	"jamroom/internal/ws"
	"jamroom/pkg/logger"

	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	authService *auth.Service
	manager     *ws.Manager
	router      *ws.Router
	upgrader    websocket.Upgrader
}

func NewWebSocketHandlers(authService *auth.Service, manager *ws.Manager, router *ws.Router) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		manager:     manager,
		router:      router,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

// HandleWebSocket authenticates the opaque connection token and upgrades.
// An invalid token refuses the connection before any event is processed.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	user, err := h.authService.GetUserFromToken(r.Context(), tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	client := ws.NewClient(conn, user, h.manager, h.router)

	go client.WritePump()
	go client.ReadPump()
}
