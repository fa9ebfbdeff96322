package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/thesis-track-api/internal/handler"
	"github.com/noah-isme/thesis-track-api/internal/middleware"
	"github.com/noah-isme/thesis-track-api/internal/models"
	"github.com/noah-isme/thesis-track-api/internal/repository"
	"github.com/noah-isme/thesis-track-api/internal/service"
	"github.com/noah-isme/thesis-track-api/pkg/config"
	"github.com/noah-isme/thesis-track-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/thesis-track-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/thesis-track-api/pkg/middleware/requestid"
)

// Dependencies bundles everything the HTTP layer needs.
type Dependencies struct {
	Config  *config.Config
	Logger  *zap.Logger
	Auth    *handler.AuthHandler
	Theses  *handler.ThesisHandler
	Reports *handler.ReportHandler
	Users   *handler.UserHandler
	Metrics *handler.MetricsHandler

	AuthService    *service.AuthService
	MetricsService *service.MetricsService
	AuditRepo      *repository.UserRepository
}

// New builds the gin engine with all routes and middleware registered.
func New(deps Dependencies) *gin.Engine {
	if deps.Config.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(deps.Config.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.MetricsService))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", deps.Metrics.Health)
	r.GET("/ready", deps.Metrics.Ready)
	r.GET("/metrics", deps.Metrics.Prometheus)

	if deps.Config.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(deps.Config.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", deps.Auth.Login)
	auth.POST("/refresh", deps.Auth.Refresh)

	authSecured := auth.Group("", middleware.JWT(deps.AuthService))
	authSecured.POST("/logout", deps.Auth.Logout)
	authSecured.POST("/change-password", deps.Auth.ChangePassword)
	authSecured.GET("/me", deps.Auth.Me)

	// Signed download tokens are self-authenticating; no bearer token needed.
	api.GET("/reports/download", deps.Reports.Download)

	secured := api.Group("", middleware.JWT(deps.AuthService))

	theses := secured.Group("/theses")
	theses.POST("", middleware.RequireRoles(models.RoleScholar), deps.Theses.Submit)
	theses.GET("", deps.Theses.Worklist)
	theses.GET("/:id", deps.Theses.Get)
	theses.GET("/:id/download", deps.Theses.Download)
	theses.PUT("/:id/guide-decision", middleware.RequireRoles(models.RoleGuide), deps.Theses.GuideDecision)
	theses.PUT("/:id/librarian-review", middleware.RequireRoles(models.RoleLibrarian), deps.Theses.LibrarianReview)
	theses.PUT("/:id/registrar-decision", middleware.RequireRoles(models.RoleRegistrar), deps.Theses.RegistrarDecision)
	theses.PUT("/:id/vc-decision", middleware.RequireRoles(models.RoleVC), deps.Theses.VCDecision)
	theses.PUT("/:id/final-decision", middleware.RequireRoles(models.RoleGuide), deps.Theses.FinalDecision)
	theses.PUT("/:id/reapprove", middleware.RequireRoles(models.RoleGuide), deps.Theses.Reapprove)
	theses.PUT("/:id/final-reject", middleware.RequireRoles(models.RoleGuide), deps.Theses.FinalReject)
	theses.POST("/:id/report",
		middleware.Audit(deps.AuditRepo, models.AuditActionReportExport, "report"),
		deps.Reports.Create)

	secured.GET("/reports/:id", deps.Reports.Status)

	users := secured.Group("/users")
	users.GET("/guides", deps.Users.Guides)
	users.GET("/me", deps.Users.Profile)

	return r
}
