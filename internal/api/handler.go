package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"furbox-service/internal/apperr"
	"furbox-service/internal/service"
	"furbox-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	userIDHeader = "X-User-ID"
	userIDKey    = "user_id"
)

// Pinger is a dependency checked by /ready
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the use cases exposed over HTTP
type Services struct {
	Drafts   *service.DraftService
	Checkout *service.CheckoutService
	Plans    *service.PlanService
	Orders   *service.OrderService
	Renewals *service.RenewalService
	Cart     *service.CartService
}

// Handler contains HTTP handlers
type Handler struct {
	svc    Services
	checks map[string]Pinger
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler. checks are pinged by /ready.
func NewHandler(svc Services, checks map[string]Pinger) *Handler {
	return &Handler{
		svc:    svc,
		checks: checks,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(requireUser())
	{
		v1.POST("/drafts", h.createDraft)
		v1.GET("/drafts", h.listDrafts)
		v1.GET("/drafts/:id", h.getDraft)
		v1.GET("/drafts/:id/wallet", h.getWallet)
		v1.GET("/drafts/:id/quote", h.quoteBundle)
		v1.PUT("/drafts/:id/budget", h.setBudget)
		v1.PUT("/drafts/:id/pet-type", h.setPetType)
		v1.PUT("/drafts/:id/categories", h.setCategories)
		v1.POST("/drafts/:id/items", h.addLineItem)
		v1.PATCH("/drafts/:id/items/:variantId", h.updateLineItem)
		v1.DELETE("/drafts/:id/items/:productId", h.removeLineItem)
		v1.POST("/drafts/:id/checkout", h.checkoutBundle)

		v1.POST("/plans/:id/activate", h.activatePlan)
		v1.POST("/plans/:id/pause", h.pausePlan)
		v1.POST("/plans/:id/resume", h.resumePlan)
		v1.POST("/plans/:id/cancel", h.cancelPlan)
		v1.GET("/plans/:id/cycles", h.listCycles)

		v1.POST("/orders", h.checkout)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.DELETE("/cart/items/:variantId", h.removeCartItem)
	}

	internal := router.Group("/internal")
	{
		internal.POST("/orders", h.createOrder)
		internal.POST("/orders/:id/status", h.advanceOrderStatus)
		internal.POST("/renewals/run", h.runRenewals)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": failing,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// requireUser reads the caller identity set by the gateway
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader(userIDHeader), 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing or invalid " + userIDHeader + " header",
			})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) int64 {
	return c.GetInt64(userIDKey)
}

// pathID parses a positive integer path parameter, answering 400 otherwise
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name,
		})
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindNotFound:   http.StatusNotFound,
	apperr.KindBadRequest: http.StatusBadRequest,
	apperr.KindConflict:   http.StatusConflict,
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status, ok := statusByKind[apperr.KindOf(err)]
	if !ok {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal server error",
		})
		return
	}
	c.JSON(status, gin.H{
		"error":   apperr.Message(err),
		"details": apperr.KindOf(err),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
