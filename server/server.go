package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xhad/repoqa/internal/models"
	"github.com/xhad/repoqa/pkg/rag"
)

const (
	notReadyMessage = "The knowledge base is not ready. Please provide a GitHub repository to get started."
	setupOKMessage  = "Repository indexed successfully! You can now ask questions."
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Service is the part of rag.Service the HTTP layer depends on.
type Service interface {
	Setup(ctx context.Context, repoURL string) (*models.IndexReport, error)
	Ask(ctx context.Context, question string) (*models.Answer, error)
	State() rag.State
	Ready() bool
}

type Config struct {
	Host string
	Port int

	// HealthCheck, when set, makes /health fail while it returns an error.
	HealthCheck func(ctx context.Context) error
	Logger      *slog.Logger
}

type Server struct {
	config Config
	svc    Service
	logger *slog.Logger
	mux    *http.ServeMux
	http   *http.Server
}

type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type setupRequest struct {
	RepoURL string `json:"repo_url"`
}

type setupResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Report  *models.IndexReport `json:"report,omitempty"`
}

type askRequest struct {
	Query string `json:"query"`
}

type askResponse struct {
	Response string   `json:"response"`
	Sources  []string `json:"sources,omitempty"`
}

type readyResponse struct {
	Ready bool   `json:"ready"`
	State string `json:"state"`
}

func New(svc Service, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: config,
		svc:    svc,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.http = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mux.HandleFunc("/setup", s.handleSetup)
	s.mux.HandleFunc("/ask", s.handleAsk)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.HandleFunc("/health", s.handleHealth)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("starting HTTP server", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, setupResponse{Message: "❌ Invalid request body"})
		return
	}
	if strings.TrimSpace(req.RepoURL) == "" {
		writeJSON(w, http.StatusBadRequest, setupResponse{Message: "❌ No repository URL provided"})
		return
	}

	// Indexing runs to completion even if the client goes away.
	report, err := s.svc.Setup(context.WithoutCancel(r.Context()), req.RepoURL)
	if err != nil {
		s.logger.Error("setup failed", "repo_url", req.RepoURL, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, rag.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, setupResponse{Message: "❌ " + setupFailure(err)})
		return
	}

	writeJSON(w, http.StatusOK, setupResponse{
		Success: true,
		Message: "✅ " + setupOKMessage,
		Report:  report,
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Readiness is checked before the body so an idle service always answers
	// with the same hint.
	if !s.svc.Ready() {
		writeJSON(w, http.StatusBadRequest, askResponse{Response: notReadyMessage})
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, askResponse{Response: "❌ Invalid request body"})
		return
	}

	answer, err := s.svc.Ask(r.Context(), req.Query)
	switch {
	case errors.Is(err, rag.ErrNotReady):
		writeJSON(w, http.StatusBadRequest, askResponse{Response: notReadyMessage})
	case errors.Is(err, rag.ErrEmptyQuery):
		writeJSON(w, http.StatusBadRequest, askResponse{Response: "❌ No query provided"})
	case err != nil:
		s.logger.Error("ask failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, askResponse{
			Response: fmt.Sprintf("⚠️  An error occurred while processing the query: %v", err),
		})
	default:
		writeJSON(w, http.StatusOK, askResponse{Response: answer.Text, Sources: answer.Sources})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.config.HealthCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.config.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, readyResponse{Ready: s.svc.Ready(), State: s.svc.State().String()})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Writes from concurrent handlers must not interleave.
	var writeMu sync.Mutex
	send := func(msgType, content string) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(Message{Type: msgType, Content: content}); err != nil {
			s.logger.Warn("error sending message", "error", err)
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("error reading message", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			send("error", "invalid message")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, msg, send)
		}()
	}
}

func (s *Server) handleMessage(ctx context.Context, msg Message, send func(msgType, content string)) {
	switch msg.Type {
	case "setup":
		send("status", fmt.Sprintf("Indexing %s", msg.Content))
		report, err := s.svc.Setup(context.WithoutCancel(ctx), msg.Content)
		if err != nil {
			send("error", setupFailure(err))
			return
		}
		send("status", rag.Summary(report))
		send("response", setupOKMessage)
	case "ask":
		answer, err := s.svc.Ask(ctx, msg.Content)
		switch {
		case errors.Is(err, rag.ErrNotReady):
			send("error", notReadyMessage)
		case errors.Is(err, rag.ErrEmptyQuery):
			send("error", "No query provided")
		case err != nil:
			send("error", err.Error())
		default:
			send("response", answer.Text)
		}
	default:
		send("error", fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// setupFailure turns a pipeline error into the message shown to users.
func setupFailure(err error) string {
	var stageErr *rag.StageError
	cause := err
	if errors.As(err, &stageErr) && stageErr.Err != nil {
		cause = stageErr.Err
	}

	switch {
	case errors.Is(err, rag.ErrInvalidInput):
		return "No repository URL provided"
	case errors.Is(err, rag.ErrFetch):
		return fmt.Sprintf("Failed to clone repository: %v", cause)
	case errors.Is(err, rag.ErrEmptyCorpus):
		return "No valid documents found to index in the repository."
	case errors.Is(err, rag.ErrPersistence):
		return fmt.Sprintf("Failed to create vector store: %v", cause)
	case errors.Is(err, rag.ErrModelInvocation):
		return fmt.Sprintf("Failed to embed documents: %v", cause)
	}
	return fmt.Sprintf("An unexpected error occurred: %v", err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
