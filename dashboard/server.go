package dashboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"cypher/storage"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/parser"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/singleflight"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "127.0.0.1:8080"

const shutdownTimeout = 10 * time.Second

var errAgentNotFound = map[string]string{"error": "Agent not found"}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithLogBuffer serves b on /logs and streams its records as logAdded.
func WithLogBuffer(b *LogBuffer) Option {
	return func(s *Server) { s.logs = b }
}

// WithArchive serves archived transcripts under /transcripts.
func WithArchive(a *storage.Archive) Option {
	return func(s *Server) { s.archive = a }
}

// WithTokenHash requires a bearer token matching hash on every route but
// /health. An empty hash disables auth.
func WithTokenHash(hash string) Option {
	return func(s *Server) { s.tokenHash = hash }
}

// Server is the dashboard HTTP server.
type Server struct {
	echo      *echo.Echo
	registry  *Registry
	hub       *Hub
	logs      *LogBuffer
	archive   *storage.Archive
	tokenHash string
	verified  sync.Map
	verifying singleflight.Group
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewServer returns a server exposing registry and pushing events through
// hub. The registry and log buffer publish to hub from then on.
func NewServer(registry *Registry, hub *Hub, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	registry.SetPublisher(hub)
	if s.logs != nil {
		s.logs.SetPublisher(hub)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("dashboard request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(s.authenticate)

	s.echo = e
	s.RegisterRoutes(e)
	return s
}

// RegisterRoutes registers the dashboard routes on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", s.Health)

	e.GET("/agents", s.ListAgents)
	e.GET("/agent/:id/system-prompt", s.GetSystemPrompt)
	e.GET("/agent/:id/chat-history", s.GetChatHistory)
	e.GET("/agent/:id/ai-response", s.GetAIResponse)
	e.GET("/agent/:id/ai-response.html", s.GetAIResponseHTML)
	e.GET("/agent/:id/last-run-data", s.GetLastRunData)
	e.GET("/agent/:id/run-data", s.GetRunData)

	e.GET("/logs", s.GetLogs)

	e.GET("/transcripts", s.ListTranscripts)
	e.GET("/transcripts/search", s.SearchTranscripts)
	e.GET("/transcripts/:id", s.GetTranscript)

	e.GET("/ws", s.HandleWebSocket)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves on addr and runs the hub until ctx ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", addr)
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("dashboard shutdown", "error", err)
		}
		return nil
	}
}

func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.tokenHash == "" || c.Path() == "/health" || c.Request().Method == http.MethodOptions {
			return next(c)
		}

		token := strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if token == "" || token == c.Request().Header.Get(echo.HeaderAuthorization) {
			token = c.QueryParam("token")
		}
		if token == "" || !s.tokenValid(token) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		return next(c)
	}
}

func (s *Server) tokenValid(token string) bool {
	sum := sha256.Sum256([]byte(token))
	key := hex.EncodeToString(sum[:])
	if _, ok := s.verified.Load(key); ok {
		return true
	}
	v, err, _ := s.verifying.Do(key, func() (any, error) {
		return VerifyToken(token, s.tokenHash)
	})
	if err != nil {
		s.logger.Error("dashboard token hash unusable", "error", err)
		return false
	}
	ok := v.(bool)
	if ok {
		s.verified.Store(key, struct{}{})
	}
	return ok
}

func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "healthy",
		"agents":      len(s.registry.Agents()),
		"connections": s.hub.ConnectionCount(),
	})
}

func (s *Server) ListAgents(c echo.Context) error {
	return c.JSON(http.StatusOK, s.registry.Agents())
}

func (s *Server) GetSystemPrompt(c echo.Context) error {
	st, ok := s.registry.Agent(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errAgentNotFound)
	}
	return c.String(http.StatusOK, st.SystemPrompt)
}

func (s *Server) GetChatHistory(c echo.Context) error {
	st, ok := s.registry.Agent(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errAgentNotFound)
	}
	return c.JSON(http.StatusOK, st.ChatHistory)
}

func (s *Server) GetAIResponse(c echo.Context) error {
	st, ok := s.registry.Agent(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errAgentNotFound)
	}
	return c.String(http.StatusOK, st.AIResponse)
}

// GetAIResponseHTML renders the latest response as Markdown.
func (s *Server) GetAIResponseHTML(c echo.Context) error {
	st, ok := s.registry.Agent(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errAgentNotFound)
	}
	return c.HTMLBlob(http.StatusOK, RenderMarkdown(st.AIResponse))
}

// RenderMarkdown converts Markdown text to an HTML fragment.
func RenderMarkdown(text string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	return markdown.ToHTML([]byte(text), p, nil)
}

func (s *Server) GetLastRunData(c echo.Context) error {
	st, ok := s.registry.Agent(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errAgentNotFound)
	}
	return c.JSON(http.StatusOK, st.LastRunData)
}

// GetRunData returns the bounded snapshot of the last run.
func (s *Server) GetRunData(c echo.Context) error {
	st, ok := s.registry.Agent(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errAgentNotFound)
	}
	if st.LastRunData == nil {
		return c.JSON(http.StatusOK, nil)
	}
	return c.JSON(http.StatusOK, st.LastRunData.Snapshot(st.ChatHistory))
}

func (s *Server) GetLogs(c echo.Context) error {
	if s.logs == nil {
		return c.JSON(http.StatusOK, []LogRecord{})
	}
	return c.JSON(http.StatusOK, s.logs.Records())
}

func (s *Server) ListTranscripts(c echo.Context) error {
	if s.archive == nil {
		return c.JSON(http.StatusOK, []storage.TranscriptMetadata{})
	}
	list, err := s.archive.List()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) SearchTranscripts(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing query parameter q"})
	}
	if s.archive == nil {
		return c.JSON(http.StatusOK, []storage.TranscriptMatch{})
	}
	matches, err := s.archive.Search(query)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, matches)
}

func (s *Server) GetTranscript(c echo.Context) error {
	if s.archive == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Transcript not found"})
	}
	t, err := s.archive.Load(c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Transcript not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, t)
}

// HandleWebSocket upgrades the request, sends the agent list and then
// streams every published event.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return nil
	}

	conn := s.hub.NewConnection(ws)
	if err := s.hub.SendJSON(conn, Event{Type: EventAgents, Data: s.registry.Agents()}); err != nil {
		s.logger.Warn("send initial agents frame", "error", err)
	}
	s.hub.Register(conn)

	go s.hub.writePump(conn)
	go s.hub.readPump(conn)
	return nil
}
