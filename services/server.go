package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/prepdeck/coach/repository"
	ws "github.com/prepdeck/coach/websocket"
)

// Server holds all server dependencies
type Server struct {
	config        *Config
	store         repository.Store
	geminiService *GeminiService
	stt           SpeechToText
	metrics       *Metrics
	engine        *SessionEngine
	gateway       *Gateway
	voiceBuffers  *VoiceBufferSet

	authService      *AuthService
	authEndpoints    *AuthEndpoints
	sessionEndpoints *SessionEndpoints

	wsHub    *ws.Hub
	upgrader websocket.Upgrader
}

// NewServer creates a new server instance
func NewServer(config *Config, store repository.Store) *Server {
	return &Server{
		config: config,
		store:  store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, config.WebSocket.AllowedOrigins)
			},
		},
	}
}

// InitializeServices wires all services together
func (s *Server) InitializeServices() error {
	s.metrics = NewMetrics()

	if s.config.AI.GeminiAPIKey != "" {
		s.geminiService = NewGeminiService(s.config.AI.GeminiAPIKey, s.config.Interview.AITimeout)
		slog.Info("Gemini service initialized")
	} else {
		slog.Warn("No Gemini API key configured, running with fallback question bank and heuristic scoring only")
	}

	bank, err := NewQuestionBank()
	if err != nil {
		return err
	}

	// A nil *GeminiService stays nil inside the TextGenerator interface
	// unless guarded here.
	var generator TextGenerator
	if s.geminiService != nil {
		generator = s.geminiService
	}

	orchestrator := NewQuestionOrchestrator(generator, bank, s.metrics)
	scorer := NewScorer(generator, DefaultVocabulary(), s.metrics)
	s.engine = NewSessionEngine(s.store, orchestrator, scorer, s.metrics, s.config.Interview)

	switch s.config.AI.SpeechProvider {
	case "google":
		s.stt = NewGoogleSpeechToText("")
		slog.Info("Speech-to-text initialized", "provider", "google")
	default:
		if s.geminiService != nil {
			s.stt = NewGeminiTranscriber(s.geminiService)
			slog.Info("Speech-to-text initialized", "provider", "gemini")
		} else {
			slog.Warn("No speech-to-text provider available, voice turns will be rejected")
		}
	}

	s.voiceBuffers = NewVoiceBufferSet(s.config.Interview.ChunkGrace)
	s.authService = NewAuthService(s.store, s.config.JWT.Secret)
	s.authEndpoints = NewAuthEndpoints(s.authService)
	s.sessionEndpoints = NewSessionEndpoints(s.engine, s.store)
	s.gateway = NewGateway(s.engine, s.authService, s.voiceBuffers, s.stt, s.metrics)

	s.wsHub = ws.NewHub()
	go s.wsHub.Run()

	slog.Info("Services initialized")
	return nil
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.apiV1Handler)

		// The WebSocket route is unauthenticated at the HTTP layer; the
		// connection authenticates with its first frame.
		r.Get("/ws", s.websocketHandlerFunc)

		s.authEndpoints.RegisterPublicRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)
			s.authEndpoints.RegisterProtectedRoutes(r)
			s.sessionEndpoints.RegisterRoutes(r)
		})
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: s.SetupRoutes(),
	}

	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	s.engine.Close()
	s.voiceBuffers.Close()
	slog.Info("Server exited")
}

// CheckOrigin validates the origin of WebSocket connections to prevent CSRF attacks
func CheckOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")

	// If no allowed origins are configured, deny all requests for security
	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	allowedOrigins := strings.Split(allowedOriginsStr, ",")
	for i := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
	}

	for _, allowed := range allowedOrigins {
		if allowed == origin {
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	snapshot := s.metrics.GetSnapshot()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"metrics": map[string]interface{}{
			"sessions_started":   snapshot.SessionsStarted,
			"sessions_completed": snapshot.SessionsCompleted,
			"questions_asked":    snapshot.QuestionsAsked,
			"responses_scored":   snapshot.ResponsesScored,
			"ai_calls":           snapshot.AICalls,
			"ai_fallbacks":       snapshot.AIFallbacks,
			"voice_turns":        snapshot.VoiceTurns,
		},
	})
}

func (s *Server) apiV1Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"API v1","version":"1.0.0"}`))
}

func (s *Server) websocketHandlerFunc(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := s.wsHub.RegisterClient(conn)
	client.MessageHandler = s.gateway.HandleMessage

	slog.Info("WebSocket connection established", "conn_id", client.ConnID)

	go client.WritePump()
	client.ReadPump()
	s.gateway.HandleDisconnect(client)
}
