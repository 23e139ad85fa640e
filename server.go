package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/middlewares"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"bitbucket.org/mmdatafocus/resto_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("resto-backend")

// requestTracing opens one span per request so handler latency lines up with
// the otelgorm database spans downstream.
func requestTracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Request.Method + " " + c.FullPath()
		if c.FullPath() == "" {
			name = c.Request.Method + " unmatched"
		}
		ctx, span := tracer.Start(c.Request.Context(), name)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func newRouter(settings *config.Settings, logger *logrus.Logger) *gin.Engine {
	r := gin.New()

	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(requestTracing())
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate everything else on database readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production requires an explicit allowlist; anything else is developer
	// convenience.
	if settings.Production {
		corsConfig.AllowOrigins = settings.CORSAllowedOrigins
		if len(corsConfig.AllowOrigins) == 0 {
			corsConfig.AllowOrigins = []string{}
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	registerRoutes(r, settings, logger)
	r.NoRoute(customNotFoundHandler)
	return r
}

func registerRoutes(r *gin.Engine, settings *config.Settings, logger *logrus.Logger) {
	r.POST("/auth/login", loginHandler())

	// Guest QR flow: the table slug identifies the tenant, no auth involved.
	r.GET("/qr/:slug/menu", qrMenuHandler())
	r.POST("/orders", createOrderHandler())

	staff := r.Group("/", middlewares.RequireRole(models.UserRoleOwner, models.UserRoleStaff, models.UserRoleKitchen))
	{
		staff.GET("/orders", listOrdersHandler())
		staff.GET("/orders/:id", getOrderHandler())
		staff.POST("/orders/:id/status", orderStatusHandler())
		staff.POST("/orders/:id/payments", initiatePaymentHandler())
		staff.POST("/orders/:id/payments/cash", cashPaymentHandler())
		staff.GET("/menu", listMenuHandler())
	}

	owner := r.Group("/", middlewares.RequireRole(models.UserRoleOwner))
	{
		owner.POST("/products", createProductHandler())
		owner.POST("/products/:id/stock", adjustStockHandler())
		owner.POST("/products/:id/image/sign", signProductImageHandler(settings, logger))
		owner.POST("/products/:id/image", productImageHandler(settings, logger))
		owner.POST("/categories", createCategoryHandler())
		owner.POST("/tables", createTableHandler())
		owner.GET("/tables", listTablesHandler())
		owner.GET("/subscription", getSubscriptionHandler())
		owner.POST("/subscription/payments", subscriptionPaymentHandler())
		owner.GET("/reports/orders.xlsx", ordersReportHandler(logger))
	}

	admin := r.Group("/admin", middlewares.RequireRole(models.UserRoleAdmin))
	{
		admin.POST("/restaurants", createRestaurantHandler())
		admin.POST("/restaurants/:id/active", restaurantActiveHandler())
		admin.POST("/users", createUserHandler())
	}

	r.POST("/webhooks/payment", paymentWebhookHandler(settings, logger))

	jobs := r.Group("/jobs", middlewares.RequireCronSecret(settings.CronSecret))
	{
		jobs.GET("/stock-consistency", stockConsistencyJobHandler(logger))
		jobs.GET("/subscription-expiry", subscriptionExpiryJobHandler(logger))
		jobs.GET("/restaurant-suspension", restaurantSuspensionJobHandler(logger))
		jobs.GET("/order-archival", orderArchivalJobHandler(logger))
		jobs.GET("/log-cleanup", logCleanupJobHandler(logger))
	}
}

func main() {
	logger := config.GetLogger()

	settings, err := config.LoadSettings()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "settings"}).Fatal(err.Error())
	}

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until the DB is ready, the readiness gate returns 503 for app endpoints.
	r := newRouter(settings, logger)
	srv := &http.Server{
		Addr:    ":" + settings.Port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on port ", settings.Port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
	config.ClosePubSubClient()
}
