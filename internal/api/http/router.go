package http

import (
	"time"

	"github.com/EternisAI/provider-ca/internal/api/http/handler"
	"github.com/EternisAI/provider-ca/internal/api/http/middleware"
	"github.com/EternisAI/provider-ca/internal/auth"
	"github.com/EternisAI/provider-ca/internal/confirmation"
	"github.com/EternisAI/provider-ca/internal/health"
	"github.com/EternisAI/provider-ca/internal/issuance"
	"github.com/EternisAI/provider-ca/internal/signing"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Services struct {
	Signing    *signing.Service
	Issuance   *issuance.Service
	Policies   *confirmation.Resolver
	Challenges *confirmation.Manager
	Approver   handler.Approver
	Validator  *auth.Validator
	Health     *health.Checker
	Version    string
}

// NewEngine builds the gin engine with the shared middleware chain and all routes.
func NewEngine(cfg Config, srvs *Services) *gin.Engine {
	engine := gin.New()

	origins := cfg.CORS.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}))
	engine.Use(handler.Recovery())

	var limiter *middleware.TenantLimiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = middleware.NewTenantLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	SetupRoute(engine, srvs, limiter)
	return engine
}

func SetupRoute(engine *gin.Engine, srvs *Services, limiter *middleware.TenantLimiter) {
	engine.Use(middleware.RequestLogger())
	engine.NoRoute(handler.NoRoute)

	healthHandler := handler.NewHealthHandler(srvs.Health)
	systemHandler := handler.NewSystemHandler(srvs.Version)
	engine.GET("/health", healthHandler.Check)
	engine.GET("/version", systemHandler.Version)

	confirmationHandler := handler.NewConfirmationHandler(srvs.Challenges, srvs.Approver)
	engine.GET("/confirmations/:id", confirmationHandler.Approve)

	api := engine.Group("/")
	api.Use(middleware.BearerAuth(srvs.Validator), middleware.RateLimit(limiter))
	api.GET("/checktrust", systemHandler.CheckTrust)

	signHandler := handler.NewSignHandler(srvs.Signing)
	sign := api.Group("/sign")
	{
		sign.POST("/start", signHandler.Start)
		sign.GET("/:id/status", signHandler.Status)
		sign.POST("/:id/confirmation-request", signHandler.ConfirmationRequest)
		sign.POST("/:id/confirm", signHandler.Confirm)
		sign.GET("/:id/signs", signHandler.Signs)
		sign.POST("/:id/cancel", signHandler.Cancel)
	}

	issuanceHandler := handler.NewIssuanceHandler(srvs.Issuance)
	issues := api.Group("/certificate-issues")
	{
		issues.POST("/create", issuanceHandler.Create)
		issues.GET("/:id/status", issuanceHandler.Status)
		issues.GET("/:id/statement", issuanceHandler.Statement)
		issues.POST("/:id/confirmation-request", issuanceHandler.ConfirmationRequest)
		issues.POST("/:id/confirm", issuanceHandler.Confirm)
		issues.POST("/:id/cancel", issuanceHandler.Cancel)
	}

	certificateHandler := handler.NewCertificateHandler(srvs.Issuance)
	api.POST("/certificate/revoke", certificateHandler.Revoke)
	api.GET("/certificate/:id", certificateHandler.Get)

	optionsHandler := handler.NewOptionsHandler(srvs.Policies)
	options := api.Group("/signing-confirmation-options")
	{
		options.GET("", optionsHandler.Supported)
		options.POST("", optionsHandler.SetForTenant)
		options.GET("/default", optionsHandler.TenantDefault)
		options.POST("/:login", optionsHandler.SetForUser)
		options.GET("/:login/default", optionsHandler.UserDefault)
	}
}
