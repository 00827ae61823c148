package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runner/internal/config"
	"github.com/stemsi/exstem-runner/internal/handler"
	"github.com/stemsi/exstem-runner/internal/logger"
	"github.com/stemsi/exstem-runner/internal/middleware"
	"github.com/stemsi/exstem-runner/internal/response"
)

// paperMaxAge is how long candidates may cache a published paper.
const paperMaxAge = 300

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Exam      *handler.ExamHandler
	Attempt   *handler.AttemptHandler
	WS        *handler.WSHandler
	System    *handler.SystemHandler
	Monitor   *handler.MonitorHandler
	Dashboard *handler.DashboardHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// The returned stop function ends the rate limiter's cleanup loop.
func SetupRouter(handlers *Handlers, cfg *config.Config, log zerolog.Logger) (*gin.Engine, func()) {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept-Language", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID first so every response, including errors, carries metadata.
	router.Use(response.RequestIDMiddleware(log))
	router.Use(logger.Access(log))
	router.Use(middleware.Localize())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	writeLimiter := middleware.NewRateLimiter(cfg.SubmitRateLimit, time.Second, middleware.ByParam("attempt_id"))
	stop := make(chan struct{})
	go writeLimiter.RunCleanup(stop)
	limited := writeLimiter.Middleware()

	api := router.Group("/api/v1")
	{
		// ─── Authoring ─────────────────────────────────────────────────
		exams := api.Group("/exams")
		{
			exams.GET("", handlers.Exam.ListExams)
			exams.POST("", handlers.Exam.CreateExam)
			exams.GET("/:exam_id", handlers.Exam.GetExam)
			exams.GET("/:exam_id/questions", handlers.Exam.ListQuestions)
			exams.PUT("/:exam_id/questions", handlers.Exam.ReplaceQuestions)
			exams.GET("/:exam_id/outline", handlers.Exam.GetOutline)
			exams.POST("/:exam_id/publish", handlers.Exam.PublishExam)
			exams.GET("/:exam_id/results", handlers.Exam.ListResults)
			exams.GET("/:exam_id/dashboard", handlers.Dashboard.GetExamDashboard)
			exams.GET("/:exam_id/monitor", handlers.Monitor.MonitorExam)

			exams.POST("/:exam_id/attempts", handlers.Attempt.StartAttempt)
		}

		// ─── Candidate ─────────────────────────────────────────────────
		attempts := api.Group("/attempts/:attempt_id")
		attempts.Use(middleware.NoStore())
		{
			attempts.GET("", handlers.Attempt.GetAttempt)
			attempts.PUT("/answers/:index", limited, handlers.Attempt.SaveAnswer)
			attempts.POST("/navigate", handlers.Attempt.Navigate)
			attempts.POST("/submit", limited, handlers.Attempt.SubmitAttempt)
			attempts.DELETE("", handlers.Attempt.AbandonAttempt)
		}
		api.GET("/attempts/:attempt_id/paper", middleware.CacheControl(paperMaxAge), handlers.Attempt.GetPaper)

		api.GET("/system/status", handlers.System.Status)
	}

	// ─── WebSocket ─────────────────────────────────────────────────────
	wsGroup := router.Group("/ws/v1")
	{
		wsGroup.GET("/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	return router, func() { close(stop) }
}
