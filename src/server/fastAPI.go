package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"market-fanout/src/interfaces"
	"market-fanout/src/logger"
	"market-fanout/src/models"
	"market-fanout/src/upstream"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// -----------------------------------------------------------------------------
// FastAPIServer
// -----------------------------------------------------------------------------

type FastAPIServer struct {
	Config   *models.MConfig
	Logger   *logger.Logger
	Registry *ClientRegistry
	Upstream *upstream.Manager
	Markets  interfaces.IMarketStore

	engine  *gin.Engine
	httpSrv *http.Server
	grpcSrv *grpc.Server
	health  *health.Server

	// ctx is handed to sessions and bounds the poll loops they start.
	ctx context.Context
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewFastAPIServer(
	ctx context.Context,
	cfg *models.MConfig,
	registry *ClientRegistry,
	manager *upstream.Manager,
	markets interfaces.IMarketStore,
	gatherer prometheus.Gatherer,
	log *logger.Logger,
) *FastAPIServer {
	// Set Gin mode
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &FastAPIServer{
		Config:   cfg,
		Logger:   log.Named("FastAPIServer"),
		Registry: registry,
		Upstream: manager,
		Markets:  markets,
		engine:   gin.New(),
		grpcSrv:  grpc.NewServer(),
		health:   health.NewServer(),
		ctx:      ctx,
	}
	s.engine.Use(gin.Recovery())

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	s.setupRoutes(gatherer)
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.engine,
	}

	healthpb.RegisterHealthServer(s.grpcSrv, s.health)
	s.SetServing(false)
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *FastAPIServer) setupRoutes(gatherer prometheus.Gatherer) {
	// REST API endpoints
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/api/subscriptions", s.getSubscriptions)
	s.engine.GET("/api/markets", s.getMarkets)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// WebSocket endpoints, one per category
	s.engine.GET(s.Config.Endpoints.TradePath, s.handleWebSocket(models.CategoryTrade))
	s.engine.GET(s.Config.Endpoints.TickersPath, s.handleWebSocket(models.CategoryTickers))
}

// Handler exposes the gin engine for tests.
func (s *FastAPIServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start serves HTTP until Shutdown is called.
func (s *FastAPIServer) Start() error {
	s.Logger.Info("Starting server on %s", s.httpSrv.Addr)

	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartGRPC serves the gRPC health service until StopGRPC is called.
func (s *FastAPIServer) StartGRPC() error {
	addr := fmt.Sprintf("%s:%d", s.Config.GrpcHost, s.Config.GrpcPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.Logger.Info("Starting gRPC health service on %s", addr)
	return s.grpcSrv.Serve(lis)
}

// Shutdown stops both listeners and closes every session.
func (s *FastAPIServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	s.grpcSrv.GracefulStop()

	err := s.httpSrv.Shutdown(ctx)
	for _, session := range s.Registry.GetAllClients() {
		s.Registry.RemoveClient(session.ID())
	}
	return err
}

// SetServing reports upstream validity on the gRPC health service.
func (s *FastAPIServer) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.Config.Name, status)
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *FastAPIServer) handleWebSocket(category models.Category) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.Logger.Info("Failed to upgrade websocket: %v", err)
			return
		}

		session := NewClientSession(s.ctx, category, s.Upstream, s.Registry, s.Config.Session.SendBuffer, s.Logger)
		session.Initialize(conn)

		if err := s.Registry.AddClient(c.Request.Context(), session.ID(), session); err != nil {
			s.Logger.Warning("Dropping %s connection from %s: %v", category, c.ClientIP(), err)
			session.Close()
			return
		}

		s.Logger.Info("Client %s connected to %s", session.ID(), category)
		session.Serve()
	}
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *FastAPIServer) getHealth(c *gin.Context) {
	counts := s.Registry.Counts()
	upstreamOK := s.Upstream.Healthy()

	status := "ok"
	if !upstreamOK {
		status = "degraded"
	}

	active := 0
	for _, sub := range s.Upstream.Subscriptions() {
		if sub.Active {
			active++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"provider":    s.Upstream.Provider(),
		"upstream_ok": upstreamOK,
		"connections": gin.H{
			"trade":   counts[models.CategoryTrade],
			"tickers": counts[models.CategoryTickers],
		},
		"subscriptions": active,
	})
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getSubscriptions(c *gin.Context) {
	c.JSON(http.StatusOK, s.Upstream.Subscriptions())
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getMarkets(c *gin.Context) {
	markets, err := s.Markets.ListActiveMarkets(c.Request.Context())
	if err != nil {
		s.Logger.Error("Listing markets failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "markets unavailable"})
		return
	}
	c.JSON(http.StatusOK, markets)
}
