// Package gateway implements the Connection Gateway: an Echo HTTP mux that
// accepts a bidirectional binary channel per connection, performs the
// accept handshake against the Orchestrator, and pumps framed wire.Frame
// messages between the socket and HandleFrame, generalizing a
// REST+websocket Echo server into a single channel-oriented endpoint.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokutor-ai/voicegateway/pkg/logging"
	"github.com/lokutor-ai/voicegateway/pkg/orchestrator"
	"github.com/lokutor-ai/voicegateway/pkg/session"
	"github.com/lokutor-ai/voicegateway/pkg/wire"
)

// Config carries the subset of the process configuration the gateway itself
// needs, kept narrow so tests can construct one without pkg/config.
type Config struct {
	ListenPort      int
	ChannelPath     string
	MaxPayloadBytes int
	DefaultVoiceID  string
}

// Gateway is the Echo application. One Gateway serves every channel for the
// process's lifetime; per-connection state lives entirely in the goroutines
// spawned by handleChannel.
type Gateway struct {
	echo *echo.Echo
	orch *orchestrator.Orchestrator
	reg  *session.Registry
	cfg  Config
	log  logging.Logger

	startedAt        time.Time
	mu               sync.Mutex
	totalConnections int64
}

// New constructs an Echo app with the health, metrics, and channel routes
// registered (HideBanner/HidePort, middleware.Recover, a slog-based
// request logger).
func New(orch *orchestrator.Orchestrator, reg *session.Registry, cfg Config, logger logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if cfg.ChannelPath == "" {
		cfg.ChannelPath = "/ws"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))

	g := &Gateway{echo: e, orch: orch, reg: reg, cfg: cfg, log: logger, startedAt: time.Now()}
	g.registerRoutes()
	return g
}

// Echo exposes the underlying Echo instance for tests.
func (g *Gateway) Echo() *echo.Echo {
	return g.echo
}

func requestLogger(logger logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			logger.Debug("http request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"durationMs", time.Since(start).Milliseconds(),
				"remote", c.RealIP(),
			)
			return nil
		}
	}
}

func (g *Gateway) registerRoutes() {
	g.echo.GET("/health", g.handleHealth)
	g.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	g.echo.GET(g.cfg.ChannelPath, g.handleChannel)
}

// healthResponse is the conventional health payload:
// {status, uptime, activeSessions, totalConnections}.
type healthResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime"`
	ActiveSessions   int    `json:"activeSessions"`
	TotalConnections int64  `json:"totalConnections"`
}

func (g *Gateway) handleHealth(c echo.Context) error {
	active := 0
	if g.reg != nil {
		active = g.reg.Count()
	}
	g.mu.Lock()
	total := g.totalConnections
	g.mu.Unlock()
	return c.JSON(http.StatusOK, healthResponse{
		Status:           "ok",
		UptimeSeconds:    int64(time.Since(g.startedAt).Seconds()),
		ActiveSessions:   active,
		TotalConnections: total,
	})
}

// Run starts Echo and blocks until ctx cancellation or startup failure,
// shutting the orchestrator down first so every open channel gets a clean
// teardown before the HTTP listener stops accepting.
func (g *Gateway) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", g.cfg.ListenPort)
	errCh := make(chan error, 1)
	go func() {
		if err := g.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		g.log.Info("gateway: shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.orch.Shutdown(shutCtx)
		_ = g.echo.Shutdown(shutCtx)
		g.log.Info("gateway: stopped")
		return nil
	}
}

// handleChannel upgrades one request to a websocket channel and serves it
// until disconnect, following the five-step accept sequence: upgrade,
// create the session, attach the engines, ack, then pump frames.
func (g *Gateway) handleChannel(c echo.Context) error {
	remote := c.RealIP()
	ctx := c.Request().Context()

	g.mu.Lock()
	g.totalConnections++
	g.mu.Unlock()

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.log.Warn("gateway: channel upgrade failed", "remote", remote, "err", err)
		return err
	}
	if g.cfg.MaxPayloadBytes > 0 {
		conn.SetReadLimit(int64(g.cfg.MaxPayloadBytes))
	}

	connectionID := session.NewConnectionID()
	meta := session.Metadata{
		RemoteAddress: remote,
		UserAgent:     c.Request().UserAgent(),
		VoiceID:       g.cfg.DefaultVoiceID,
	}

	sink := newChannelSink(conn, g.log, connectionID)
	sess, err := g.orch.Open(ctx, connectionID, meta, sink)
	if err != nil {
		g.log.Error("gateway: channel open failed", "connectionId", connectionID, "remote", remote, "err", err)
		conn.Close(websocket.StatusInternalError, "failed to open session")
		return nil
	}

	g.log.Info("gateway: channel accepted", "connectionId", connectionID, "sessionId", sess.SessionID, "remote", remote)

	go sink.run()

	ack := wire.AckFrame(wire.EventConnectionAck, session.NewConnectionID(), sess.SessionID)
	sink.Send(ack)

	defer func() {
		sink.stop()
		g.orch.Close(connectionID)
		conn.Close(websocket.StatusNormalClosure, "")
		g.log.Info("gateway: channel closed", "connectionId", connectionID, "sessionId", sess.SessionID)
	}()

	for {
		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			if !isExpectedClose(err) {
				g.log.Debug("gateway: channel read error", "connectionId", connectionID, "err", err)
			}
			return nil
		}
		if msgType != websocket.MessageBinary {
			continue
		}

		frame, err := wire.Decode(payload)
		if err != nil {
			g.log.Warn("gateway: malformed frame", "connectionId", connectionID, "err", err)
			sink.Send(wire.ErrorFrame(wire.ErrInvalidPayload, session.NewConnectionID(), sess.SessionID, wire.EventErrorUnknown, err.Error()))
			continue
		}

		g.orch.HandleFrame(ctx, connectionID, frame)
	}
}

func isExpectedClose(err error) bool {
	closeStatus := websocket.CloseStatus(err)
	return closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway
}
