package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exam-portal/internal/config"
	"github.com/stemsi/exam-portal/internal/handler"
	"github.com/stemsi/exam-portal/internal/middleware"
	"github.com/stemsi/exam-portal/internal/response"
	"github.com/stemsi/exam-portal/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	StudentPortal *handler.StudentPortalHandler
	Exam          *handler.ExamHandler
	WS            *handler.WSHandler
	Monitor       *handler.MonitorHandler
	System        *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	limiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
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
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	auth := middleware.Authenticate(authService)

	// ─── 1. Student Group ──────────────────────────────────────────────
	student := router.Group("/api/v1/student")
	student.Use(auth, middleware.StudentOnly())
	if limiter != nil {
		student.Use(limiter.Middleware())
	}
	{
		exams := student.Group("/exams/:exam_id")
		exams.GET("/registration", handlers.StudentPortal.GetRegistration)
		exams.GET("/state", handlers.StudentPortal.GetExamState)
		exams.POST("/start", handlers.StudentPortal.StartAttempt)
		exams.PUT("/answers", handlers.StudentPortal.RecordAnswer)
		exams.POST("/submit", handlers.StudentPortal.Submit)
		exams.GET("/paper", handlers.StudentPortal.GetExamPaper)
	}

	// ─── 2. Staff Group ────────────────────────────────────────────────
	staff := router.Group("/api/v1/staff")
	staff.Use(auth, middleware.StaffOnly())
	{
		staff.GET("/exams", handlers.Exam.ListExams)
		staff.POST("/exams", handlers.Exam.CreateExam)
		staff.GET("/exams/:id", handlers.Exam.GetExam)
		staff.PUT("/exams/:id", handlers.Exam.UpdateExam)
		staff.DELETE("/exams/:id", handlers.Exam.DeleteExam)

		staff.GET("/exams/:id/questions", handlers.Exam.ListQuestions)
		staff.POST("/exams/:id/questions", handlers.Exam.AddQuestion)
		staff.DELETE("/exams/:id/questions/:question_id", handlers.Exam.DeleteQuestion)

		staff.GET("/exams/:id/results", handlers.Exam.GetResults)
		staff.GET("/exams/:id/results/export", handlers.Exam.ExportResults)

		if handlers.Monitor != nil {
			staff.GET("/exams/:id/monitor", handlers.Monitor.MonitorExamSSE)
		}
		if handlers.System != nil {
			staff.GET("/system/metrics", middleware.AdminOnly(), handlers.System.SystemMetricsSSE)
		}
	}

	// ─── 3. WebSocket Group ────────────────────────────────────────────
	// Token comes from ?token= because browsers cannot set WS headers.
	wsGroup := router.Group("/ws/v1/student")
	wsGroup.Use(auth, middleware.StudentOnly())
	{
		wsGroup.GET("/exams/:exam_id/stream", handlers.WS.ExamWebSocketStream)
	}

	return router
}
