// Package server exposes the reconstructed books, venue controls and the
// order impact simulator over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Aidin1998/depthsim/internal/book"
	"github.com/Aidin1998/depthsim/internal/config"
	"github.com/Aidin1998/depthsim/internal/events"
	"github.com/Aidin1998/depthsim/internal/simulator"
	"github.com/Aidin1998/depthsim/internal/supervisor"
	"github.com/Aidin1998/depthsim/pkg/metrics"
	"github.com/Aidin1998/depthsim/pkg/models"
)

// Connections is the venue control surface the API exposes. In demo mode
// there are no live connections and the server runs without one.
type Connections interface {
	Connect(venue string) error
	Disconnect(venue string) error
	Subscribe(venue, symbol string) error
	Unsubscribe(venue, symbol string) error
	States() map[string]models.ConnState
	Subscriptions(venue string) ([]string, error)
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	cfg      config.ServerConfig
	engine   *book.Engine
	conns    Connections
	eventLog *events.Log
	logger   *zap.Logger

	httpServer *http.Server
}

// New creates the API server. conns may be nil when running offline.
func New(cfg config.ServerConfig, engine *book.Engine, conns Connections, eventLog *events.Log, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		engine:   engine,
		conns:    conns,
		eventLog: eventLog,
		logger:   logger.Named("server"),
	}
}

// Router builds the gin router with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(cors.Default())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", s.handleStream)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/books", s.handleListBooks)
		v1.GET("/books/:venue/:symbol", s.handleGetBook)
		v1.GET("/venues", s.handleVenues)
		v1.GET("/events", s.handleEvents)
		v1.POST("/simulate", s.handleSimulate)
		v1.POST("/venues/:venue/connect", s.handleConnect)
		v1.POST("/venues/:venue/disconnect", s.handleDisconnect)
		v1.POST("/subscriptions", s.handleSubscribe)
		v1.DELETE("/subscriptions", s.handleUnsubscribe)
	}
	return router
}

// Start runs the HTTP server until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleListBooks(c *gin.Context) {
	keys := s.engine.Keys()
	out := make([]gin.H, 0, len(keys))
	for _, key := range keys {
		out = append(out, gin.H{"venue": key.Venue, "symbol": key.Symbol})
	}
	c.JSON(http.StatusOK, gin.H{"books": out})
}

func (s *Server) handleGetBook(c *gin.Context) {
	key := book.Key{Venue: c.Param("venue"), Symbol: c.Param("symbol")}
	view, ok := s.engine.View(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no book for %s", key)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"book":    view,
		"metrics": book.ComputeMetrics(view),
	})
}

func (s *Server) handleVenues(c *gin.Context) {
	if s.conns == nil {
		c.JSON(http.StatusOK, gin.H{"venues": []gin.H{}, "mode": "demo"})
		return
	}
	states := s.conns.States()
	out := make([]gin.H, 0, len(states))
	for venue, state := range states {
		subs, _ := s.conns.Subscriptions(venue)
		out = append(out, gin.H{
			"venue":         venue,
			"state":         state,
			"subscriptions": subs,
		})
	}
	c.JSON(http.StatusOK, gin.H{"venues": out})
}

func (s *Server) handleEvents(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"events": s.eventLog.Recent(limit)})
}

type simulateRequest struct {
	Venue  string                `json:"venue" binding:"required"`
	Symbol string                `json:"symbol" binding:"required"`
	Order  models.SimulatedOrder `json:"order" binding:"required"`
}

func (s *Server) handleSimulate(c *gin.Context) {
	var req simulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, ok := s.engine.View(book.Key{Venue: req.Venue, Symbol: req.Symbol})
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no book for %s:%s", req.Venue, req.Symbol)})
		return
	}

	start := time.Now()
	result, err := simulator.Simulate(req.Order, view)
	metrics.SimulateLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, simulator.ErrInvalidOrder) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

type subscriptionRequest struct {
	Venue  string `json:"venue" binding:"required"`
	Symbol string `json:"symbol" binding:"required"`
}

func (s *Server) handleSubscribe(c *gin.Context) {
	s.handleSubscription(c, func(req subscriptionRequest) error {
		return s.conns.Subscribe(req.Venue, req.Symbol)
	})
}

func (s *Server) handleUnsubscribe(c *gin.Context) {
	s.handleSubscription(c, func(req subscriptionRequest) error {
		return s.conns.Unsubscribe(req.Venue, req.Symbol)
	})
}

func (s *Server) handleSubscription(c *gin.Context, op func(subscriptionRequest) error) {
	if s.conns == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live connections disabled"})
		return
	}
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := op(req); err != nil {
		// Subscription intent is tracked even while disconnected; report
		// that as accepted rather than failed.
		if errors.Is(err, supervisor.ErrNotConnected) {
			c.JSON(http.StatusAccepted, gin.H{
				"status": "queued", "venue": req.Venue, "symbol": req.Symbol,
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "venue": req.Venue, "symbol": req.Symbol})
}

func (s *Server) handleConnect(c *gin.Context) {
	s.handleVenueOp(c, func(venue string) error { return s.conns.Connect(venue) })
}

func (s *Server) handleDisconnect(c *gin.Context) {
	s.handleVenueOp(c, func(venue string) error { return s.conns.Disconnect(venue) })
}

func (s *Server) handleVenueOp(c *gin.Context, op func(string) error) {
	if s.conns == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live connections disabled"})
		return
	}
	venue := c.Param("venue")
	if err := op(venue); err != nil {
		if errors.Is(err, supervisor.ErrAlreadyConnected) {
			c.JSON(http.StatusOK, gin.H{"status": "already connected", "venue": venue})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "venue": venue})
}
