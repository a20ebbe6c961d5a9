// Package api is the operator-facing HTTP control surface over the market
// engine manager: read-only status/positions/orders, and a manual cancel-all
// per market. It never touches the strategy decision loop directly — every
// action goes through the same account ledger and order API the engine uses.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trading-core/internal/account"
	"trading-core/internal/exchange"
	"trading-core/internal/monitor"
	"trading-core/internal/orderstore"
	"trading-core/internal/router"
)

// Server wires the operator HTTP endpoints around the running engine state.
type Server struct {
	router    *gin.Engine
	acct      *account.Manager
	evRouter  *router.Router
	metrics   *monitor.EngineMetrics
	store     *orderstore.Store
	api       exchange.OrderAPI
	jwtSecret string
}

// NewOperatorServer builds a Server ready to Start.
func NewOperatorServer(acct *account.Manager, evRouter *router.Router, metrics *monitor.EngineMetrics, store *orderstore.Store, orderAPI exchange.OrderAPI, jwtSecret string) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		router:    r,
		acct:      acct,
		evRouter:  evRouter,
		metrics:   metrics,
		store:     store,
		api:       orderAPI,
		jwtSecret: jwtSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)

	v1 := s.router.Group("/api/v1")
	v1.Use(AuthMiddleware(s.jwtSecret))
	{
		v1.GET("/status", s.getStatus)
		v1.GET("/metrics", s.getMetrics)
		v1.GET("/positions", s.getPositions)
		v1.GET("/orders", s.getOrders)
		v1.GET("/orders/:market", s.getMarketOrders)
		v1.POST("/orders/:market/cancel-all", s.cancelAllForMarket)
		v1.GET("/ws/metrics", s.streamMetrics)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start blocks serving HTTP on addr until the process exits or an error occurs.
func (s *Server) Start(addr string) error {
	return s.router.Run(addr)
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"code": code, "error": msg})
}
