package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"newsdesk/ai"
	"newsdesk/config"
	"newsdesk/models"
	"newsdesk/queue"
	"newsdesk/services"
	"newsdesk/sources"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	discoveredArticlesCounter prometheus.Counter
	publishedArticlesCounter  prometheus.Counter
	generationFailuresCounter prometheus.Counter
)

func init() {
	discoveredArticlesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "discovered_articles_total",
			Help: "Total number of new draft articles created by discovery scans.",
		},
	)
	publishedArticlesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "published_articles_total",
			Help: "Total number of articles published via generation or admin action.",
		},
	)
	generationFailuresCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_failures_total",
			Help: "Total number of articles that ended in generation_failed.",
		},
	)
	prometheus.MustRegister(discoveredArticlesCounter, publishedArticlesCounter, generationFailuresCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to articles database.")

	logging.Info("Running database auto-migration...")
	db.AutoMigrate(&models.Article{}, &models.SourceTestReport{}, &models.SourceTestResult{})

	// Setup Services
	registry := sources.Default()
	normalizer := services.NewTitleNormalizer(cfg.TitleColonWindow)
	images := services.NewImageResolver(cfg.PageFetchTimeout, cfg.UserAgent, logging)

	var model services.TextModel
	if cfg.OpenAIAPIKey != "" {
		model = ai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	} else {
		// Generation läuft dann in einen ConfigurationError; Discovery und
		// Admin-Oberfläche funktionieren weiterhin.
		logging.Warn("OPENAI_API_KEY not set, content generation is disabled")
	}

	taskQueue, err := queue.NewRedisQueue(queue.Config{
		RedisURL:     cfg.RedisURL,
		StreamKey:    cfg.TaskStreamKey,
		GroupName:    cfg.TaskGroupName,
		ConsumerName: cfg.TaskConsumerName,
		MaxAttempts:  cfg.WorkerMaxAttempts,
		RetryBackoff: cfg.WorkerRetryBackoff,
	}, logging)
	if err != nil {
		logging.Fatal("Failed to connect to task queue", zap.Error(err))
	}
	defer taskQueue.Close()

	dispatcher := &services.Dispatcher{DB: db, Queue: taskQueue, Logger: logging}
	generator := &services.ContentGenerator{
		DB:                    db,
		Model:                 model,
		Images:                images,
		Logger:                logging,
		Normalizer:            normalizer,
		DisplayTitleThreshold: cfg.DisplayTitleThreshold,
		AllowedDomains:        registry.AllowedDomains(),
		PublishedCounter:      publishedArticlesCounter,
		FailureCounter:        generationFailuresCounter,
	}
	scanner := &services.DiscoveryScanner{
		DB:          db,
		Registry:    registry,
		Images:      images,
		Normalizer:  normalizer,
		Dispatcher:  dispatcher,
		Logger:      logging,
		ItemLimit:   cfg.FeedItemLimit,
		FeedTimeout: cfg.FeedFetchTimeout,
		UserAgent:   cfg.UserAgent,
	}
	batch := &services.BatchOrchestrator{
		DB:               db,
		Queue:            taskQueue,
		Scanner:          scanner,
		Registry:         registry,
		Reports:          &services.ReportAggregator{DB: db},
		Logger:           logging,
		EnqueueChunkSize: cfg.EnqueueChunkSize,
		StoreBatchLimit:  cfg.StoreBatchLimit,
		DelayFull:        cfg.SourceTestDelayFull,
		DelaySample:      cfg.SourceTestDelaySample,
		DelayMicro:       cfg.SourceTestDelayMicro,
	}

	// Setup Worker (globale Generierungs-Konkurrenz = 1)
	articleWorker := &services.ArticleWorker{DB: db, Generator: generator, Logger: logging}
	worker := queue.NewWorker(taskQueue, articleWorker, logging)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if err := worker.Start(workerCtx); err != nil {
		logging.Fatal("Failed to start generation worker", zap.Error(err))
	}
	logging.Info("Generation worker started", zap.String("stream", cfg.TaskStreamKey))

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Routes
	setupArticleRoutes(router, db, dispatcher, logging)
	setupReportRoutes(router, db, logging)
	setupAdminRoutes(router, batch, scanner, logging)

	// Setup Cron
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled discovery scan...")
		created := scanner.ScanAll(context.Background())
		discoveredArticlesCounter.Add(float64(created))
		logging.Info("Scheduled discovery scan completed", zap.Int("new_drafts", created))
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func setupArticleRoutes(router *gin.Engine, db *gorm.DB, dispatcher *services.Dispatcher, log *zap.Logger) {
	rg := router.Group("/articles")

	// POST - Manueller Eintrag: Draft anlegen und sofort dispatchen
	rg.POST("/", func(c *gin.Context) {
		var req struct {
			Title            string `json:"title" binding:"required"`
			ArticleType      string `json:"article_type" binding:"required"`
			ShortDescription string `json:"short_description"`
			SourceURL        string `json:"source_url"`
			SourceTitle      string `json:"source_title"`
			Categories       string `json:"categories"`
			Region           string `json:"region"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		switch models.ArticleType(req.ArticleType) {
		case models.TypeTrendingTopic, models.TypePositiveNews, models.TypeResearchBreakthrough, models.TypeMisinformation:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported article type"})
			return
		}

		now := time.Now().UTC()
		article := models.Article{
			Title:            req.Title,
			ArticleType:      models.ArticleType(req.ArticleType),
			ShortDescription: req.ShortDescription,
			SourceURL:        req.SourceURL,
			SourceTitle:      req.SourceTitle,
			Categories:       req.Categories,
			Region:           req.Region,
			Status:           models.StatusDraft,
			DiscoveryMethod:  models.DiscoveryManual,
			DiscoveredAt:     &now,
		}
		if err := db.Create(&article).Error; err != nil {
			log.Error("Failed to create article", zap.Error(err))
			c.JSON(http.StatusConflict, gin.H{"error": "Failed to create article (duplicate source_url?)"})
			return
		}

		if err := dispatcher.Dispatch(c.Request.Context(), article.ID); err != nil {
			log.Error("Dispatch after manual create failed", zap.Uint("article_id", article.ID), zap.Error(err))
		}
		c.JSON(http.StatusCreated, article)
	})

	// GET - Artikel per ID
	rg.GET("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var article models.Article
		if err := db.First(&article, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Article not found"})
				return
			}
			log.Error("Database error while fetching article", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}
		c.JSON(http.StatusOK, article)
	})

	// POST - Body-gesteuerter Endpunkt für gefilterte Abfragen
	rg.POST("/query", func(c *gin.Context) {
		type ArticleQuery struct {
			Status          string `json:"status"`
			ArticleType     string `json:"article_type"`
			Region          string `json:"region"`
			DiscoveryMethod string `json:"discovery_method"`
			Limit           int    `json:"limit"`
		}

		var req ArticleQuery
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		query := db.Model(&models.Article{})
		if req.Status != "" {
			query = query.Where("status = ?", req.Status)
		}
		if req.ArticleType != "" {
			query = query.Where("article_type = ?", req.ArticleType)
		}
		if req.Region != "" {
			query = query.Where("region = ?", req.Region)
		}
		if req.DiscoveryMethod != "" {
			query = query.Where("discovery_method = ?", req.DiscoveryMethod)
		}
		if req.Limit > 0 {
			query = query.Limit(req.Limit)
		}

		var articles []models.Article
		if err := query.Order("created_at desc").Find(&articles).Error; err != nil {
			log.Error("Database query for articles failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, articles)
	})

	// Redaktionelle Übergänge: status-gated Writes, kein weiterer Workflow-Code.
	rg.POST("/:id/submit-review", func(c *gin.Context) {
		var req struct {
			ExpertID          string `json:"expert_id" binding:"required"`
			ExpertDisplayName string `json:"expert_display_name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body (expert_id required)"})
			return
		}
		transitionStatus(c, db, log, []models.ArticleStatus{models.StatusAwaitingExpertReview, models.StatusNeedsRevision},
			map[string]interface{}{
				"status":              models.StatusAwaitingAdminReview,
				"expert_id":           req.ExpertID,
				"expert_display_name": req.ExpertDisplayName,
			})
	})

	rg.POST("/:id/publish", func(c *gin.Context) {
		now := time.Now().UTC()
		transitionStatus(c, db, log, []models.ArticleStatus{models.StatusAwaitingAdminReview},
			map[string]interface{}{
				"status":       models.StatusPublished,
				"published_at": now,
			})
		if c.Writer.Status() == http.StatusOK {
			publishedArticlesCounter.Inc()
		}
	})

	rg.POST("/:id/request-revision", func(c *gin.Context) {
		var req struct {
			Notes string `json:"notes" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body (notes required)"})
			return
		}
		transitionStatus(c, db, log, []models.ArticleStatus{models.StatusAwaitingExpertReview, models.StatusAwaitingAdminReview},
			map[string]interface{}{
				"status":               models.StatusNeedsRevision,
				"admin_revision_notes": req.Notes,
			})
	})
}

// transitionStatus führt einen status-gated Übergang aus und antwortet direkt.
func transitionStatus(c *gin.Context, db *gorm.DB, log *zap.Logger, from []models.ArticleStatus, updates map[string]interface{}) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid article id"})
		return
	}

	res := db.Model(&models.Article{}).
		Where("id = ? AND status IN ?", uint(id), from).
		Updates(updates)
	if res.Error != nil {
		log.Error("Status transition failed", zap.Uint64("article_id", id), zap.Error(res.Error))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Article not found or not in an eligible status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": updates["status"]})
}

func setupReportRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/reports")

	rg.GET("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var report models.SourceTestReport
		if err := db.Preload("Results").First(&report, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
				return
			}
			log.Error("Database error while fetching report", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}
		c.JSON(http.StatusOK, report)
	})
}

func setupAdminRoutes(router *gin.Engine, batch *services.BatchOrchestrator, scanner *services.DiscoveryScanner, log *zap.Logger) {
	rg := router.Group("/admin")

	// POST - Einzelnen fehlgeschlagenen Artikel erneut einstellen
	rg.POST("/articles/:id/requeue", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid article id"})
			return
		}
		if err := batch.RequeueOne(c.Request.Context(), uint(id)); err != nil {
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Article requeued"})
	})

	// POST - Alle fehlgeschlagenen Artikel erneut einstellen
	rg.POST("/articles/requeue-failed", func(c *gin.Context) {
		count, err := batch.RequeueAllFailed(c.Request.Context())
		if err != nil {
			log.Error("Requeue of failed articles aborted", zap.Int("requeued", count), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error(), "count": count})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Failed articles requeued", "count": count})
	})

	// POST - Discovery-Scan manuell anstoßen (async)
	rg.POST("/discovery/scan", func(c *gin.Context) {
		go func() {
			created := scanner.ScanAll(context.Background())
			discoveredArticlesCounter.Add(float64(created))
			log.Info("Async discovery scan completed", zap.Int("new_drafts", created))
		}()
		c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "Discovery scan triggered"})
	})

	// POST - Source-Tests (full/sample/micro/batched), laufen async wegen
	// der sequenziellen Inter-Request-Delays.
	rg.POST("/source-tests/:mode", func(c *gin.Context) {
		mode := services.TestMode(c.Param("mode"))
		var req struct {
			BatchSize int `json:"batch_size"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
				return
			}
		}

		switch mode {
		case services.TestFull, services.TestSample, services.TestMicro:
		case services.TestBatched:
			if req.BatchSize <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "batch_size required for batched mode"})
				return
			}
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown source test mode"})
			return
		}

		reportID, err := batch.StartSourceTest(c.Request.Context(), mode, req.BatchSize)
		if err != nil {
			log.Error("Source test start failed", zap.String("mode", string(mode)), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "Source test triggered", "report_id": reportID})
	})
}
