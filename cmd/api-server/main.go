package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Newcityvip/bdt-fraud-radar/configs"
	"github.com/Newcityvip/bdt-fraud-radar/internal/analytics"
	"github.com/Newcityvip/bdt-fraud-radar/internal/auth"
	"github.com/Newcityvip/bdt-fraud-radar/internal/export"
	"github.com/Newcityvip/bdt-fraud-radar/internal/ingestion"
	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
	"github.com/Newcityvip/bdt-fraud-radar/internal/queue"
	"github.com/Newcityvip/bdt-fraud-radar/internal/repositories"
	"github.com/Newcityvip/bdt-fraud-radar/internal/scoring"
	"github.com/Newcityvip/bdt-fraud-radar/internal/services"
)

func main() {
	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting fraud radar API server")

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	streamClient, err := queue.NewRedisStreamClient(cfg.Redis, cfg.Worker.DeadLetterStream)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis stream")
	}
	defer streamClient.Close()

	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis cache")
	}
	defer cacheClient.Close()

	userRepo := repositories.NewUserRepository(db)
	recordRepo := repositories.NewRecordRepository(db)
	assessmentRepo := repositories.NewAssessmentRepository(db)

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, "fraud-radar", cfg.JWT.Expiration)
	authService := services.NewAuthService(userRepo, jwtManager)
	ingestionService := ingestion.NewService(recordRepo, streamClient, cfg.Scoring.LookbackDays)

	engine := scoring.NewEngine(scoring.ThresholdsFromConfig(cfg.Scoring))
	scanService := services.NewScanService(engine, recordRepo, assessmentRepo, cacheClient)
	alertService := services.NewAlertService(assessmentRepo, scanService, streamClient)
	analyticsService := analytics.NewService(db, cacheClient)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	rateLimiter := NewRateLimiter(100, time.Minute)
	router.Use(rateLimitMiddleware(rateLimiter))

	setupRoutes(router, jwtManager, authService, ingestionService, alertService, analyticsService, streamClient, db)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func setupRoutes(
	router *gin.Engine,
	jwtManager *auth.JWTManager,
	authService *services.AuthService,
	ingestionService *ingestion.Service,
	alertService *services.AlertService,
	analyticsService *analytics.Service,
	streamClient *queue.RedisStreamClient,
	db *repositories.Database,
) {
	router.GET("/health", healthHandler(db))

	v1 := router.Group("/api/v1")

	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/register", registerHandler(authService))
		authRoutes.POST("/login", loginHandler(authService))
		authRoutes.POST("/refresh", auth.RequireAuth(jwtManager), refreshTokenHandler(authService))
		authRoutes.GET("/me", auth.RequireAuth(jwtManager), currentUserHandler(authService))
	}

	protected := v1.Group("")
	protected.Use(auth.RequireAuth(jwtManager))

	recordRoutes := protected.Group("/records")
	{
		recordRoutes.POST("/batch", ingestBatchHandler(ingestionService))
	}

	alertRoutes := protected.Group("/alerts")
	{
		alertRoutes.GET("", getAlertsHandler(alertService))
		alertRoutes.GET("/export", exportAlertsHandler(alertService))
		alertRoutes.GET("/summary", getSummaryHandler(alertService))
	}

	scanRoutes := protected.Group("/scans")
	scanRoutes.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleAnalyst))
	{
		scanRoutes.POST("", triggerScanHandler(alertService))
		scanRoutes.GET("/pending", getPendingScansHandler(streamClient))
	}

	statsRoutes := protected.Group("/stats")
	{
		statsRoutes.GET("/reasons", getTopReasonsHandler(analyticsService))
		statsRoutes.GET("/volume", getRecordVolumeHandler(analyticsService))
		statsRoutes.GET("/queue", getQueueDepthHandler(analyticsService, streamClient))
	}
}

// Handlers

func healthHandler(db *repositories.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

func registerHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Register(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrWeakPassword) || errors.Is(err, repositories.ErrUserAlreadyExists) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func loginHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Login(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrInvalidCredentials) {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func refreshTokenHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if len(token) > 7 {
			token = token[7:]
		}

		resp, err := authService.RefreshToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func currentUserHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.UserIDFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		user, err := authService.GetUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}

		c.JSON(http.StatusOK, user)
	}
}

func ingestBatchHandler(ingestionService *ingestion.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ingestion.BatchRecordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := ingestionService.IngestBatch(c.Request.Context(), &req, "api")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// getAlertsHandler serves the paged alert feed. Failures still answer 200
// with ok:false so the consumer sees the upstream message.
func getAlertsHandler(alertService *services.AlertService) gin.HandlerFunc {
	return func(c *gin.Context) {
		params := queryParams(c)

		page, err := alertService.GetPage(c.Request.Context(), params)
		if err != nil {
			log.Error().Err(err).Msg("Failed to serve alert page")
			c.JSON(http.StatusOK, models.PageResponse{
				OK:    false,
				Error: err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, page)
	}
}

func exportAlertsHandler(alertService *services.AlertService) gin.HandlerFunc {
	return func(c *gin.Context) {
		params := queryParams(c)

		rows, err := alertService.ExportRows(c.Request.Context(), params)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		filename := export.FileName(time.Now())
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)

		if err := export.WriteCSV(c.Writer, rows, export.DefaultColumns); err != nil {
			if errors.Is(err, export.ErrNoRows) {
				c.Status(http.StatusNoContent)
				return
			}
			log.Error().Err(err).Msg("Failed to write CSV export")
		}
	}
}

func getSummaryHandler(alertService *services.AlertService) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := alertService.Summary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func triggerScanHandler(alertService *services.AlertService) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := getIntParam(c, "days", models.DefaultDays)

		scanID, err := alertService.TriggerScan(c.Request.Context(), "api", days)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"scan_id": scanID,
			"days":    days,
		})
	}
}

func getPendingScansHandler(streamClient *queue.RedisStreamClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		pending, err := streamClient.GetPendingCount(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pending": pending})
	}
}

func getTopReasonsHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := getIntParam(c, "limit", 10)

		reasons, err := analyticsService.TopReasons(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reasons": reasons})
	}
}

func getRecordVolumeHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := getIntParam(c, "days", 7)

		volumes, err := analyticsService.DailyRecordVolume(c.Request.Context(), days)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"volume": volumes})
	}
}

func getQueueDepthHandler(analyticsService *analytics.Service, streamClient *queue.RedisStreamClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		depth, err := analyticsService.QueueDepth(c.Request.Context(), streamClient)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pending_scans": depth})
	}
}

func queryParams(c *gin.Context) models.QueryParams {
	return models.QueryParams{
		Days:     getIntParam(c, "days", models.DefaultDays),
		MinScore: getIntParam(c, "minScore", models.DefaultMinScore),
		Limit:    getIntParam(c, "limit", models.DefaultLimit),
		Offset:   getIntParam(c, "offset", 0),
	}.Normalized()
}

func getIntParam(c *gin.Context, name string, defaultValue int) int {
	if raw := c.Query(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return defaultValue
}
