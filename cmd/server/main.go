package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rentflow/rental-backend/internal/config"
	"github.com/rentflow/rental-backend/internal/database"
	"github.com/rentflow/rental-backend/internal/handlers"
	"github.com/rentflow/rental-backend/internal/middleware"
	"github.com/rentflow/rental-backend/internal/services"
	"github.com/rentflow/rental-backend/pkg/jwt"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting RentFlow rental backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Database
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	bookingRepo := database.NewBookingRepository(db.DB)
	tokenRepo := database.NewBookingTokenRepository(db.DB)
	catalogRepo := database.NewCatalogRepository(db.DB)
	customerRepo := database.NewCustomerRepository(db.DB)
	paymentRepo := database.NewPaymentRepository(db.DB)
	refundRepo := database.NewRefundRepository(db.DB)
	auditRepo := database.NewPaymentAuditRepository(db.DB, logger)

	metrics := services.NewMetrics()

	// Webhook event cache (optional)
	var eventCache services.EventCache
	if cfg.Redis.Address != "" {
		redisClient := services.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := services.PingRedis(pingCtx, redisClient); err != nil {
			logger.WithError(err).Warn("Redis unavailable, webhook dedupe falls back to the audit log")
			redisClient.Close()
		} else {
			defer redisClient.Close()
			eventCache = services.NewRedisEventCache(redisClient, cfg.Redis.EventTTL)
			logger.Info("✓ Redis event cache connected")
		}
		cancel()
	}

	// Booking event publisher
	var events services.EventPublisher
	if cfg.RabbitMQ.URL != "" {
		publisher, err := services.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			logger.WithError(err).Warn("RabbitMQ unavailable, booking events will only be logged")
			events = services.NewNoopPublisher(logger)
		} else {
			events = publisher
			logger.Infof("✓ Publishing booking events to exchange %q", cfg.RabbitMQ.Exchange)
		}
	} else {
		events = services.NewNoopPublisher(logger)
	}
	defer events.Close()

	// Email
	var notifier services.Notifier
	if cfg.Email.SendGridAPIKey != "" {
		notifier = services.NewSendGridNotifier(cfg.Email.SendGridAPIKey, cfg.Email.FromAddress, cfg.Email.FromName, logger)
		logger.Info("✓ SendGrid email enabled")
	} else {
		notifier = services.NewLogNotifier(logger)
		logger.Warn("SENDGRID_API_KEY not set, emails will be logged instead of sent")
	}

	// Payments
	if cfg.Stripe.SecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set, payment operations will fail with a configuration error")
	}
	gateway := services.NewStripeGateway(logger)
	credentials := services.NewStripeCredentialResolver(cfg.Stripe.SecretKey, catalogRepo)
	orchestrator := services.NewPaymentOrchestrator(
		gateway,
		credentials,
		auditRepo,
		metrics,
		logger,
		cfg.Stripe.MaxRetries,
		cfg.Stripe.RetryBackoff,
	)

	// Booking core
	availabilitySvc := services.NewAvailabilityService(bookingRepo, catalogRepo, logger)

	bookingCfg := services.DefaultBookingServiceConfig()
	bookingCfg.FrontendURL = cfg.Booking.FrontendURL
	bookingCfg.CustomerLoginURL = cfg.Booking.CustomerLoginURL
	bookingCfg.BcryptCost = cfg.Security.BcryptCost
	bookingSvc := services.NewBookingService(
		bookingRepo,
		paymentRepo,
		customerRepo,
		catalogRepo,
		availabilitySvc,
		orchestrator,
		notifier,
		events,
		auditRepo,
		metrics,
		bookingCfg,
		logger,
	)

	tokenCfg := services.DefaultBookingTokenConfig()
	tokenCfg.DefaultTTLHours = cfg.Booking.TokenTTLHours
	tokenCfg.FrontendURL = cfg.Booking.FrontendURL
	tokenSvc := services.NewBookingTokenService(
		tokenRepo,
		bookingRepo,
		paymentRepo,
		customerRepo,
		catalogRepo,
		bookingSvc,
		orchestrator,
		notifier,
		metrics,
		tokenCfg,
		logger,
	)

	refundSvc := services.NewRefundService(
		bookingRepo,
		paymentRepo,
		refundRepo,
		bookingSvc,
		orchestrator,
		events,
		auditRepo,
		metrics,
		logger,
	)

	reconciler := services.NewWebhookReconciler(
		bookingRepo,
		paymentRepo,
		refundRepo,
		catalogRepo,
		auditRepo,
		bookingSvc,
		eventCache,
		metrics,
		logger,
	)

	// Background jobs
	cronCfg := services.DefaultCronConfig()
	cronCfg.DepositRetrySpec = cfg.Scheduler.DepositRetrySpec
	cronCfg.PendingSweepSpec = cfg.Scheduler.PendingSweepSpec
	cronService := services.NewCronService(bookingRepo, bookingSvc, metrics, cronCfg, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	logger.Info("✓ Cron service started - deposit retry and pending sweep enabled")

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// Handlers
	bookingHandler := handlers.NewBookingHandler(bookingSvc, refundSvc, auditRepo, logger)
	tokenHandler := handlers.NewBookingTokenHandler(tokenSvc, logger)
	availabilityHandler := handlers.NewAvailabilityHandler(availabilitySvc, logger)
	webhookHandler := handlers.NewWebhookHandler(reconciler, cfg.Stripe.WebhookSecret, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestInfo())
	if cfg.Security.EnableRequestLog {
		router.Use(requestLogger(logger))
	}

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 1 && cfg.CORS.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowOrigins = nil
		corsConfig.AllowCredentials = false
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	{
		// Public: booking page and gateway callbacks
		v1.GET("/booking-tokens/:token", tokenHandler.GetToken)
		v1.POST("/booking-tokens/:token/exchange", tokenHandler.ExchangeToken)
		v1.POST("/payments/webhook", webhookHandler.HandleStripeWebhook)

		staff := v1.Group("")
		staff.Use(middleware.AuthMiddleware(jwtService, logger))
		{
			staff.POST("/booking-tokens", tokenHandler.IssueToken)

			staff.GET("/vehicles/:id/availability", availabilityHandler.VehicleAvailability)
			staff.GET("/vehicle-models/:id/availability", availabilityHandler.ModelAvailability)

			bookings := staff.Group("/bookings")
			{
				bookings.POST("", bookingHandler.CreateBooking)
				bookings.GET("/:id", bookingHandler.GetBooking)
				bookings.PUT("/:id", bookingHandler.UpdateBooking)
				bookings.DELETE("/:id", bookingHandler.DeleteBooking)
				bookings.PATCH("/:id/status", bookingHandler.UpdateStatus)
				bookings.GET("/:id/payments", bookingHandler.GetPaymentHistory)
				bookings.GET("/:id/payment-audits", bookingHandler.ListPaymentAudits)
				bookings.POST("/:id/refund",
					middleware.RequireRole(jwt.RoleOwner, jwt.RoleManager),
					bookingHandler.RefundBooking)
			}
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	logger.Info("Stopping cron service...")
	cronService.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         c.ClientIP(),
			"latency_ms": time.Since(start).Milliseconds(),
			"user_agent": c.Request.UserAgent(),
			"has_auth":   c.GetHeader("Authorization") != "",
		}
		if userID, exists := c.Get("user_id"); exists {
			fields["user_id"] = userID
		}
		if staff, ok := middleware.GetStaffContext(c); ok {
			fields["company_id"] = staff.CompanyID
			fields["roles"] = staff.Roles
		}

		entry := logger.WithFields(fields)

		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
			return
		}

		status := c.Writer.Status()
		if status >= 500 {
			entry.Error("Request completed with server error")
		} else if status >= 400 {
			entry.Warn("Request completed with client error")
		} else {
			entry.Info("Request completed successfully")
		}
	}
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
