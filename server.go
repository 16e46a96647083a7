package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chairtab/platform_backend/config"
	"github.com/chairtab/platform_backend/gateway"
	"github.com/chairtab/platform_backend/middlewares"
	"github.com/chairtab/platform_backend/models"
	"github.com/chairtab/platform_backend/reports"
	"github.com/chairtab/platform_backend/utils"
	"github.com/chairtab/platform_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("chairtab-platform")

// RateLimiter is IP-based best-effort limiting backed by Redis.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
}

// railRouter picks the concrete rail per debit. Dwolla instruments are
// funding source URLs; Stripe instruments are pm_ ids. Used when no single
// gateway is forced via COLLECTION_GATEWAY.
type railRouter struct {
	ach  gateway.Gateway
	card gateway.Gateway
}

func (r *railRouter) Debit(ctx context.Context, req gateway.DebitRequest) (*gateway.DebitResult, error) {
	if strings.HasPrefix(req.SourceInstrument, "http") {
		return r.ach.Debit(ctx, req)
	}
	return r.card.Debit(ctx, req)
}

// buildGateway selects the payment rail from configuration. The null gateway
// is only ever chosen explicitly; missing credentials for a real rail are a
// startup error.
func buildGateway(logger *logrus.Logger) gateway.Gateway {
	switch config.CollectionGatewayKind() {
	case "null":
		logger.Warn("COLLECTION_GATEWAY=null; debits are simulated")
		return gateway.NewNull()
	case "dwolla":
		gw, err := gateway.NewDwolla()
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "gateway"}).Panic(err.Error())
		}
		return gw
	case "stripe":
		gw, err := gateway.NewStripe()
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "gateway"}).Panic(err.Error())
		}
		return gw
	default:
		ach, err := gateway.NewDwolla()
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "gateway"}).Panic(err.Error())
		}
		card, err := gateway.NewStripe()
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "gateway"}).Panic(err.Error())
		}
		return &railRouter{ach: ach, card: card}
	}
}

// webhookResponseStatus maps reconciliation errors onto webhook responses.
// Only an unsupported status value is acked and dropped: it can never succeed
// on redelivery. Everything else, unknown transaction ids included, answers
// non-2xx so the rail redelivers; the transfer may simply not be recorded on
// its collection yet.
func webhookResponseStatus(err error) int {
	if workflow.ErrorKindOf(err) == workflow.ErrKindValidation {
		return http.StatusNoContent
	}
	return http.StatusInternalServerError
}

type collectionWebhookRequest struct {
	GatewayTransactionId string `json:"gateway_transaction_id" binding:"required"`
	Status               string `json:"status" binding:"required"`
}

func collectionWebhookHandler(service *workflow.CollectionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var req collectionWebhookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			// Malformed payload: ack/drop to avoid infinite redelivery.
			config.LogError(logger, "server.go", "collectionWebhookHandler", "bind", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "webhook.reconcile")
		defer span.End()

		collection, err := service.ReconcileTransferStatus(ctx, req.GatewayTransactionId, req.Status)
		if err != nil {
			config.LogError(logger, "server.go", "collectionWebhookHandler", "reconcile", req, err)
			c.Status(webhookResponseStatus(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"collection_id": collection.ID,
			"status":        collection.Status,
		})
	}
}

func processCollectionsHandler(service *workflow.CollectionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		ctx, span := tracer.Start(c.Request.Context(), "collections.process")
		defer span.End()

		results, err := service.ProcessScheduledCollections(ctx, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"processed": len(results), "results": results})
	}
}

func generateCollectionsHandler(service *workflow.CollectionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var barberId *int
		if v := c.Query("barber_id"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid barber_id"})
				return
			}
			barberId = &n
		}

		kind := c.DefaultQuery("type", "commission")
		var results []workflow.CollectionGenerationResult
		var err error
		switch kind {
		case "commission":
			results, err = service.GenerateCommissionCollections(c.Request.Context(), barberId)
		case "booth_rent":
			results, err = service.GenerateBoothRentCollections(c.Request.Context(), barberId)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be commission or booth_rent"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"generated": len(results), "results": results})
	}
}

type retryCollectionRequest struct {
	CollectionId  int  `json:"collection_id" binding:"required"`
	NewMaxRetries *int `json:"new_max_retries"`
}

func retryCollectionHandler(service *workflow.CollectionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req retryCollectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		if req.NewMaxRetries != nil {
			if _, err := service.OverrideRetryLimit(c.Request.Context(), req.CollectionId, *req.NewMaxRetries); err != nil {
				c.JSON(statusForWorkflowError(err), gin.H{"error": err.Error()})
				return
			}
		}
		collection, err := service.RetryFailedCollection(c.Request.Context(), req.CollectionId)
		if err != nil {
			c.JSON(statusForWorkflowError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"collection_id": collection.ID,
			"status":        collection.Status,
			"retry_count":   collection.RetryCount,
		})
	}
}

func statusForWorkflowError(err error) int {
	switch workflow.ErrorKindOf(err) {
	case workflow.ErrKindValidation:
		return http.StatusBadRequest
	case workflow.ErrKindNotFound:
		return http.StatusNotFound
	case workflow.ErrKindConflict, workflow.ErrKindInvalidState, workflow.ErrKindRetryLimit:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func externalTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewExternalTransaction
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		record, err := models.RecordExternalTransaction(c.Request.Context(), &input)
		if err != nil {
			if err == utils.ErrorRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "processor connection not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, record)
	}
}

func collectionConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCollectionConfig
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		cfg, err := models.UpsertCollectionConfig(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		c.JSON(http.StatusOK, cfg)
	}
}

func payoutSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start, end, err := reportPeriod(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		summary, err := reports.GetPayoutSummary(c.Request.Context(), start, end)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func barberRevenueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		barberId, err := strconv.Atoi(c.Param("barberId"))
		if err != nil || barberId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid barber id"})
			return
		}
		start, end, err := reportPeriod(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		report, err := reports.GetBarberRevenue(c.Request.Context(), barberId, start, end)
		if err != nil {
			if err == utils.ErrorRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "barber not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func reportPeriod(c *gin.Context) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, -1, 0)
	if v := c.Query("start"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q", v)
		}
		start = t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q", v)
		}
		end = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("end must not be before start")
	}
	return start, end, nil
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, app endpoints return 503.
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
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production requires an explicit allowlist via CORS_ALLOWED_ORIGINS.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "X-Internal-Secret")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// The collection service and its gateway are built once at startup and
	// shared across handlers and the scheduler.
	gw := buildGateway(logger)
	service := workflow.NewCollectionService(nil, logger, gw, workflow.GetRetryConfig())
	// The DB handle is nil until ConnectDatabaseWithRetry finishes; the
	// readiness gate keeps requests out until then.
	serviceReady := func() *workflow.CollectionService {
		if service.DB == nil {
			service.DB = config.GetDB()
		}
		return service
	}
	withService := func(build func(*workflow.CollectionService) gin.HandlerFunc) gin.HandlerFunc {
		return func(c *gin.Context) {
			build(serviceReady())(c)
		}
	}

	internal := r.Group("/", middlewares.InternalAuthMiddleware())
	internal.POST("/webhooks/collections", withService(collectionWebhookHandler))
	internal.POST("/internal/collections/process", withService(processCollectionsHandler))
	internal.POST("/internal/collections/generate", withService(generateCollectionsHandler))
	internal.POST("/internal/collections/retry", withService(retryCollectionHandler))
	internal.POST("/internal/transactions", externalTransactionHandler())
	internal.POST("/internal/collection-configs", collectionConfigHandler())

	r.GET("/reports/payout-summary", payoutSummaryHandler())
	r.GET("/reports/barber-revenue/:barberId", barberRevenueHandler())
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
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
	service.DB = db
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
	workersCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go workflow.NewOutboxDispatcher(db, logger).Run(workersCtx)

	// Periodic scheduler: processes due collections under a redis leader lock.
	if config.SchedulerEnabled() {
		go RunCollectionScheduler(workersCtx, service)
	} else {
		logger.WithFields(logrus.Fields{"field": "scheduler"}).Warn("collection scheduler disabled")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
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

	// Stop background workers first so they don't start new work while draining.
	cancelWorkers()

	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger logs only requests that accumulated errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware checks per-IP request counts against the window.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
