package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"jamroom/internal/auth"
	"jamroom/internal/config"
	"jamroom/internal/database"
	"jamroom/internal/handlers"
	"jamroom/internal/notify"
	"jamroom/internal/playback"
	"jamroom/internal/ratelimit"
	"jamroom/internal/services"
	"jamroom/internal/ws"
	"jamroom/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Process-scoped state: playback clocks and rate-limit tables.
	clocks := playback.NewTable()
	cooldowns := ratelimit.NewCooldownTable(ratelimit.DefaultCooldowns())
	cooldowns.StartSweeping(ctx, cfg.RateLimit.SweepInterval)

	strict := ratelimit.Strict()
	moderate := ratelimit.Moderate()
	lenient := ratelimit.Lenient()
	for _, l := range []*ratelimit.Limiter{strict, moderate, lenient} {
		l.StartSweeping(ctx, cfg.RateLimit.SweepInterval)
	}

	// Notification delivery is best-effort and never blocks event handling.
	var transport notify.Transport = notify.NopTransport{}
	if cfg.Notify.PushURL != "" {
		transport = notify.NewHTTPTransport(cfg.Notify.PushURL)
	}
	dispatcher := notify.NewDispatcher(transport, cfg.Notify.MaxBatch)

	// Initialize services
	authService := auth.NewService(db, cfg)
	sessionService, err := services.NewSessionService(db)
	if err != nil {
		logger.Fatal("Failed to initialize session service: %v", err)
	}

	// Event router and per-session hubs
	router := ws.NewRouter(db, clocks, cooldowns, dispatcher)
	manager := ws.NewManager(router)

	// Initialize handlers
	authHandlers := handlers.NewAuthHandlers(authService)
	sessionHandlers := handlers.NewSessionHandlers(sessionService, authService)
	wsHandlers := handlers.NewWebSocketHandlers(authService, manager, router)

	// Setup routes
	mux := http.NewServeMux()
	setupRoutes(mux, authHandlers, sessionHandlers, wsHandlers, strict, moderate, lenient)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")
	stop()
	server.Shutdown(context.Background())
}

func setupRoutes(
	mux *http.ServeMux,
	authHandlers *handlers.AuthHandlers,
	sessionHandlers *handlers.SessionHandlers,
	wsHandlers *handlers.WebSocketHandlers,
	strict, moderate, lenient *ratelimit.Limiter,
) {
	// Auth routes: strict policy
	mux.Handle("/login", strict.Middleware(http.HandlerFunc(authHandlers.Login)))
	mux.Handle("/register", strict.Middleware(http.HandlerFunc(authHandlers.Register)))

	mux.Handle("/me/notifications", moderate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		authHandlers.UpdateNotifyPrefs(w, r)
	})))

	// Session routes: moderate for read/write, lenient for discovery
	mux.Handle("/sessions", moderate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			sessionHandlers.ListSessions(w, r)
		case http.MethodPost:
			sessionHandlers.CreateSession(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	mux.Handle("/sessions/code/", lenient.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sessionHandlers.ResolveJoinCode(w, r)
	})))

	mux.Handle("/sessions/", moderate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 2 || parts[1] == "" {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}

		switch r.Method {
		case http.MethodGet:
			sessionHandlers.GetSession(w, r)
		case http.MethodDelete:
			sessionHandlers.EndSession(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	// WebSocket route: moderate policy on the handshake; per-event
	// throughput is the cooldown table's job.
	mux.Handle("/ws", moderate.Middleware(http.HandlerFunc(wsHandlers.HandleWebSocket)))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
