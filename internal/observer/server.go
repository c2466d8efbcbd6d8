// Package observer serves a read-only view of delegation runs and a
// websocket relay that fans out ledger changes and client messages.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"orchestra/internal/ledger"
	"orchestra/internal/logging"
	"orchestra/internal/metrics"
	"orchestra/internal/watcher"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultRunsLimit = 10
	insecureSubject  = "local-debug"
	maxMessageSize   = 64 * 1024
	wsWriteTimeout   = 10 * time.Second
	shutdownTimeout  = 10 * time.Second
)

// RunLister is the ledger view the daemon needs.
type RunLister interface {
	ListRuns(limit int) []ledger.Record
}

type Server struct {
	settings Settings
	runs     RunLister
	registry *Registry
	metrics  *metrics.Registry
	verifier *Verifier
	logger   *logging.Logger
	echo     *echo.Echo
	upgrader websocket.Upgrader

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

func NewServer(settings Settings, runs RunLister, logger *logging.Logger) *Server {
	if settings.ReadTimeout <= 0 {
		settings.ReadTimeout = DefaultReadTimeout
	}
	if settings.MaxMessagesPerSecond <= 0 {
		settings.MaxMessagesPerSecond = DefaultMaxMessagesPerSecond
	}
	server := &Server{
		settings: settings,
		runs:     runs,
		registry: NewRegistry(),
		metrics:  metrics.NewRegistry(),
		verifier: NewVerifier(VerifierConfig{
			Secret:   settings.JWTSecret,
			JWKSURL:  settings.JWKSURL,
			Audience: settings.JWTAudience,
			Issuer:   settings.JWTIssuer,
		}),
		logger:   logger.Category("observer"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Access is gated by the token, not the origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		shutdown: make(chan struct{}),
	}
	server.echo = server.routes()
	return server
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, values middleware.RequestLoggerValues) error {
			s.logger.Debug("request", map[string]string{
				"method": values.Method,
				"uri":    values.URI,
				"status": strconv.Itoa(values.Status),
			})
			return nil
		},
	}))
	e.GET("/api/health", s.handleHealth)
	e.GET("/api/runs", s.handleRuns)
	e.GET("/api/metrics", s.handleMetrics)
	e.GET("/ws/observe", s.handleObserve)
	return e
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) Metrics() *metrics.Registry {
	return s.metrics
}

// GET /api/health
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/runs?limit=N
func (s *Server) handleRuns(c echo.Context) error {
	limit := DefaultRunsLimit
	if raw := c.QueryParam("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		limit = value
	}
	return c.JSON(http.StatusOK, s.listRuns(limit))
}

// GET /api/metrics
func (s *Server) handleMetrics(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentType, "text/plain; version=0.0.4")
	c.Response().WriteHeader(http.StatusOK)
	return s.metrics.WritePrometheus(c.Response(), s.registry.Len())
}

// BroadcastRuns pushes the latest runs to every observer.
func (s *Server) BroadcastRuns() {
	delivered, err := s.registry.Broadcast(map[string]any{
		"type":    "runs",
		"payload": s.listRuns(DefaultRunsLimit),
	})
	if err != nil {
		s.logger.Warn("runs broadcast failed", map[string]string{"error": err.Error()})
		return
	}
	s.metrics.IncRunsBroadcast()
	s.logger.Debug("runs broadcast", map[string]string{"connections": strconv.Itoa(delivered)})
}

func (s *Server) listRuns(limit int) []ledger.Record {
	if s.runs == nil {
		return []ledger.Record{}
	}
	runs := s.runs.ListRuns(limit)
	if runs == nil {
		return []ledger.Record{}
	}
	return runs
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.settings.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve runs the HTTP server and the ledger watcher until ctx is cancelled or either fails.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: s.settings.ReadTimeout,
	}
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		s.logger.Info("observer listening", map[string]string{"addr": listener.Addr().String()})
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		return s.watchLedger(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		s.shutdownOnce.Do(func() { close(s.shutdown) })
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := group.Wait()
	s.logger.Info("observer stopped", nil)
	return err
}

func (s *Server) watchLedger(ctx context.Context) error {
	path := s.settings.LedgerPath
	if path == "" {
		<-ctx.Done()
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	fileWatcher, err := watcher.NewWithOptions(watcher.Options{Logger: s.logger})
	if err != nil {
		return err
	}
	defer fileWatcher.Close()

	handle, err := fileWatcher.WatchFile(path, func(watcher.Event) {
		s.BroadcastRuns()
	})
	if err != nil {
		return err
	}
	defer handle.Close()

	<-ctx.Done()
	return nil
}

// GET /ws/observe?token=...
func (s *Server) handleObserve(c echo.Context) error {
	subject, meta, authorized := s.authenticate(c.QueryParam("token"))
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", map[string]string{"error": err.Error()})
		return nil
	}
	if !authorized {
		s.metrics.IncRejected("invalid_token")
		closeWith(conn, websocket.ClosePolicyViolation, "invalid_token")
		return nil
	}

	client := NewConnection(subject, meta, s.settings.MaxMessagesPerSecond)
	s.registry.Add(client)
	s.metrics.IncConnectionOpened()
	logger := s.logger.With(map[string]string{"connection_id": client.ID, "subject": subject})
	logger.Info("observer connected", nil)

	readerDone := make(chan struct{})
	go func() {
		select {
		case <-s.shutdown:
			_ = conn.Close()
		case <-readerDone:
		}
	}()

	writerDone := make(chan struct{})
	go s.writePump(conn, client, writerDone)

	closeCode := s.readPump(conn, client)
	close(readerDone)
	s.registry.Remove(client.ID)
	<-writerDone
	if closeCode != 0 {
		closeWith(conn, closeCode, "")
	} else {
		_ = conn.Close()
	}
	s.metrics.IncConnectionClosed()
	logger.Info("observer disconnected", nil)
	return nil
}

func (s *Server) authenticate(token string) (string, map[string]string, bool) {
	if token == "" {
		if !s.settings.AllowInsecureWS {
			return "", nil, false
		}
		return insecureSubject, map[string]string{"scope": "observe", "mode": "insecure"}, true
	}
	subject, err := s.verifier.Verify(token)
	if err != nil {
		s.logger.Debug("token rejected", map[string]string{"error": err.Error()})
		return "", nil, false
	}
	return subject, map[string]string{"scope": "observe"}, true
}

type envelope struct {
	Type    json.RawMessage   `json:"type"`
	Payload json.RawMessage   `json:"payload"`
	From    string            `json:"from"`
	Meta    map[string]string `json:"meta"`
}

type ackMessage struct {
	Type string          `json:"type"`
	Echo json.RawMessage `json:"echo"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// readPump returns the close code to send, or 0 when the peer went away.
func (s *Server) readPump(conn *websocket.Conn, client *Connection) int {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return 0
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))

		if !client.Allow() {
			s.metrics.IncRejected("rate_limited")
			enqueueJSON(client, errorMessage{Type: "error", Error: "rate_limited"})
			return websocket.CloseTryAgainLater
		}

		var message map[string]json.RawMessage
		if err := json.Unmarshal(data, &message); err != nil {
			s.metrics.IncRejected("invalid_message")
			enqueueJSON(client, errorMessage{Type: "error", Error: "invalid_message"})
			continue
		}
		messageType, ok := message["type"]
		if !ok {
			s.metrics.IncRejected("invalid_message")
			enqueueJSON(client, errorMessage{Type: "error", Error: "invalid_message"})
			continue
		}

		if _, err := s.registry.Broadcast(envelope{
			Type:    messageType,
			Payload: message["payload"],
			From:    client.Subject,
			Meta:    client.Meta,
		}); err != nil {
			s.logger.Warn("broadcast failed", map[string]string{"error": err.Error()})
		} else {
			s.metrics.IncMessageRelayed()
		}
		enqueueJSON(client, ackMessage{Type: "ack", Echo: messageType})
	}
}

func (s *Server) writePump(conn *websocket.Conn, client *Connection, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.settings.ReadTimeout * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-client.send:
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				continue
			}
		case <-ticker.C:
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
		}
	}
}

func enqueueJSON(client *Connection, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	client.Enqueue(data)
}

func closeWith(conn *websocket.Conn, code int, text string) {
	message := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(wsWriteTimeout))
	_ = conn.Close()
}
