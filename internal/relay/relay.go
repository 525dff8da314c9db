// Package relay serves hub events to remote clients over websockets.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Socheema/Framez-sub000/internal/auth"
	"github.com/Socheema/Framez-sub000/internal/realtime"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

var tables = map[string]bool{
	realtime.TableFollows:  true,
	realtime.TableLikes:    true,
	realtime.TableMessages: true,
}

type Server struct {
	hub      *realtime.Hub
	auth     *auth.Authenticator
	reg      *prometheus.Registry
	log      *zap.Logger
	upgrader websocket.Upgrader

	pingInterval time.Duration
	pongWait     time.Duration

	connections prometheus.Gauge
}

// New builds a relay for hub. Connections must present a token accepted
// by authn. Hub counters are exported on reg.
func New(hub *realtime.Hub, authn *auth.Authenticator, reg *prometheus.Registry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s := &Server{
		hub:  hub,
		auth: authn,
		reg:  reg,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// clients are CLIs and apps, not browsers on another origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pingInterval: pingInterval,
		pongWait:     pongWait,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "framez",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
	}
	s.registerHubStats()
	return s
}

func (s *Server) registerHubStats() {
	stat := func(name string) func() float64 {
		return func() float64 { return float64(s.hub.Stats()[name]) }
	}
	s.reg.MustRegister(
		s.connections,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "framez", Subsystem: "hub", Name: "published_total",
			Help: "Events published on the hub.",
		}, stat("published")),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "framez", Subsystem: "hub", Name: "delivered_total",
			Help: "Events handed to subscribers.",
		}, stat("delivered")),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "framez", Subsystem: "hub", Name: "dropped_total",
			Help: "Events dropped because a subscriber queue was full.",
		}, stat("dropped")),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "framez", Subsystem: "hub", Name: "subscriptions",
			Help: "Live hub subscriptions.",
		}, stat("subscriptions")),
	)
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.logRequests())
	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})))
	engine.GET("/ws", s.handleWS)
	return engine
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// filterFrom reads table, column and value from the query string.
func filterFrom(c *gin.Context) (realtime.Filter, error) {
	f := realtime.Filter{
		Table:  c.Query("table"),
		Column: c.Query("column"),
		Value:  c.Query("value"),
	}
	if !tables[f.Table] {
		return f, fmt.Errorf("unknown table %q", f.Table)
	}
	if f.Column == "" && f.Value != "" {
		return f, errors.New("value given without column")
	}
	return f, nil
}

func (s *Server) handleWS(c *gin.Context) {
	token, err := auth.BearerToken(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	claims, err := s.auth.Validate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	filter, err := filterFrom(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.serve(c.Request.Context(), conn, filter, claims.UserID)
}

// serve forwards matching hub events to conn until the peer goes away or
// stops answering pings.
func (s *Server) serve(ctx context.Context, conn *websocket.Conn, filter realtime.Filter, userID string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	log := s.log.With(zap.String("user_id", userID), zap.Stringer("filter", filter))

	s.connections.Inc()
	defer s.connections.Dec()

	var writeMu sync.Mutex
	write := func(fn func() error) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return fn()
	}

	sub, err := s.hub.Subscribe(ctx, filter, func(_ context.Context, evt realtime.Event) {
		if err := write(func() error { return conn.WriteJSON(evt) }); err != nil {
			log.Debug("write event", zap.Error(err))
			cancel()
		}
	})
	if err != nil {
		log.Warn("hub subscribe failed", zap.Error(err))
		_ = conn.Close()
		return
	}
	log.Info("client connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := write(func() error {
					return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				})
				if err != nil {
					cancel()
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				log.Debug("read", zap.Error(err))
			}
			break
		}
	}

	cancel()
	_ = sub.Close()
	wg.Wait()
	log.Info("client disconnected")
}

// Run serves the relay on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// websocket handlers end with ctx
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("relay listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("relay server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown relay: %w", err)
	}
	return nil
}
