package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"bitbucket.org/mmdatafocus/resto_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// respondError maps the domain error taxonomy to HTTP codes. Anything
// unrecognized is an internal failure.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrOrderNotFound),
		errors.Is(err, utils.ErrPaymentNotFound),
		errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrInvalidTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		token, user, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
	}
}

func qrMenuHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		table, err := models.GetDiningTableByQRSlug(ctx, c.Param("slug"))
		if err != nil {
			respondError(c, err)
			return
		}
		ctx = utils.SetRestaurantIdInContext(ctx, table.RestaurantId)
		products, err := models.ListMenu(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"table": table, "menu": products})
	}
}

func createOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		order, err := models.CreateOrder(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, order)
	}
}

func listOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var status models.OrderStatus
		if raw := c.Query("status"); raw != "" {
			parsed, ok := models.ParseOrderStatus(raw)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
				return
			}
			status = parsed
		}
		orders, err := models.ListOrders(c.Request.Context(), status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, orders)
	}
}

func getOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		order, err := models.GetOrder(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

type orderStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

func orderStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req orderStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, ok := models.ParseOrderStatus(req.Status)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
		order, err := models.SetOrderStatus(c.Request.Context(), id, status, req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

type initiatePaymentRequest struct {
	Method        string `json:"method" binding:"required"`
	TransactionId string `json:"transaction_id"`
}

func initiatePaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req initiatePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		method, ok := models.ParsePaymentMethod(req.Method)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown payment method"})
			return
		}
		payment, err := models.InitiatePayment(c.Request.Context(), &models.NewPayment{
			OrderId:       id,
			Method:        method,
			TransactionId: req.TransactionId,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"payment":           payment,
			"gateway_reference": payment.GatewayReference(),
		})
	}
}

func cashPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		payment, err := models.SettleCashPayment(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, payment)
	}
}

func listMenuHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		products, err := models.ListMenu(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, products)
	}
}

func createProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProduct
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := utils.ValidateStruct(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		product, err := models.CreateProduct(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, product)
	}
}

type adjustStockRequest struct {
	Quantity decimal.Decimal `json:"quantity" binding:"required"`
}

func adjustStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req adjustStockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		stock, err := models.AdjustStock(c.Request.Context(), id, req.Quantity)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stock)
	}
}

type createCategoryRequest struct {
	Name      string `json:"name" binding:"required"`
	SortOrder int    `json:"sort_order"`
}

func createCategoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createCategoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		category, err := models.CreateMenuCategory(c.Request.Context(), req.Name, req.SortOrder)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, category)
	}
}

func createTableHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewDiningTable
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		table, err := models.CreateDiningTable(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, table)
	}
}

func listTablesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tables, err := models.ListDiningTables(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, tables)
	}
}

func getSubscriptionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		restaurantId, ok := utils.GetRestaurantIdFromContext(c.Request.Context())
		if !ok || restaurantId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		sub, err := models.GetSubscription(c.Request.Context(), restaurantId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sub)
	}
}

func subscriptionPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewSubscriptionPayment
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		payment, err := models.InitiateSubscriptionPayment(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"payment":           payment,
			"gateway_reference": payment.GatewayReference(),
		})
	}
}

func createRestaurantHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewRestaurant
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := utils.ValidateStruct(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		restaurant, err := models.CreateRestaurant(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, restaurant)
	}
}

type restaurantActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func restaurantActiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req restaurantActiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		restaurant, err := models.SetRestaurantActive(c.Request.Context(), c.Param("id"), *req.IsActive)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, restaurant)
	}
}

func createUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := utils.ValidateStruct(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, user)
	}
}

type webhookRequest struct {
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Message       string `json:"message"`
}

func paymentWebhookHandler(settings *config.Settings, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req webhookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.Reference == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reference is required"})
			return
		}
		// Some gateway versions send payment_status instead of status.
		status := req.Status
		if status == "" {
			status = req.PaymentStatus
		}

		// Best-effort: serialize concurrent redelivery of the same reference.
		// Correctness does not depend on Redis; the terminal-status guard in
		// the reconciler makes redelivery a no-op either way.
		var lock *redislock.Lock
		if locker := config.GetRedisLock(); locker != nil {
			var lockErr error
			lock, lockErr = locker.Obtain(c.Request.Context(), "webhook:"+req.Reference, 30*time.Second, nil)
			if lockErr != nil {
				if lockErr != redislock.ErrNotObtained {
					logger.WithFields(logrus.Fields{
						"funcName":  "paymentWebhookHandler",
						"reference": req.Reference,
					}).Warn("error obtaining redis lock; proceeding without: " + lockErr.Error())
				}
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil {
				logger.WithFields(logrus.Fields{
					"funcName":  "paymentWebhookHandler",
					"reference": req.Reference,
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		reconciler := workflow.NewPaymentReconciler(config.GetDB(), logger, settings.GatewayProvider)
		result, err := reconciler.Process(c.Request.Context(), workflow.GatewayCallback{
			Reference: req.Reference,
			Status:    status,
			Message:   req.Message,
		})
		if err != nil {
			if errors.Is(err, utils.ErrPaymentNotFound) {
				// 404 so the gateway stops retrying a dead reference.
				c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
				return
			}
			logger.WithFields(logrus.Fields{
				"funcName":  "paymentWebhookHandler",
				"reference": req.Reference,
			}).Error("webhook processing failed: " + err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "outcome": result.Outcome})
	}
}

func jobResponse(c *gin.Context, result interface{}, err error) {
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func stockConsistencyJobHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		sweeper := &workflow.StockSweeper{DB: db, Logger: logger}
		result, err := workflow.RunGuarded(c.Request.Context(), db, logger, "stock_consistency_sweep",
			func(ctx context.Context) (interface{}, error) { return sweeper.Run(ctx) })
		jobResponse(c, result, err)
	}
}

func subscriptionExpiryJobHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		sweeper := &workflow.SubscriptionSweeper{DB: db, Logger: logger}
		result, err := workflow.RunGuarded(c.Request.Context(), db, logger, "subscription_expiry_sweep",
			func(ctx context.Context) (interface{}, error) { return sweeper.RunExpiry(ctx) })
		jobResponse(c, result, err)
	}
}

func restaurantSuspensionJobHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		sweeper := &workflow.SubscriptionSweeper{DB: db, Logger: logger}
		result, err := workflow.RunGuarded(c.Request.Context(), db, logger, "restaurant_suspension_sweep",
			func(ctx context.Context) (interface{}, error) { return sweeper.RunSuspension(ctx) })
		jobResponse(c, result, err)
	}
}

func orderArchivalJobHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		sweeper := &workflow.ArchivalSweeper{DB: db, Logger: logger}
		result, err := workflow.RunGuarded(c.Request.Context(), db, logger, "order_archival_sweep",
			func(ctx context.Context) (interface{}, error) { return sweeper.Run(ctx) })
		jobResponse(c, result, err)
	}
}

func logCleanupJobHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		sweeper := &workflow.LogRetentionSweeper{DB: db, Logger: logger}
		result, err := workflow.RunGuarded(c.Request.Context(), db, logger, "log_cleanup_sweep",
			func(ctx context.Context) (interface{}, error) { return sweeper.Run(ctx) })
		jobResponse(c, result, err)
	}
}
