package apiroutes

import (
	"github.com/gin-gonic/gin"
	"github.com/payva/go-payva-auth/api"
	restinterceptors "github.com/payva/go-payva-auth/api/interceptors"
	"github.com/payva/go-payva-auth/global"
	"github.com/payva/go-payva-auth/metrics"
	"github.com/payva/go-payva-auth/repository"
	"github.com/payva/go-payva-auth/services"
	"github.com/payva/go-payva-auth/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// REST API routes
func ConfigRoutes(router *gin.Engine, dbSelector *repository.CouchDBSelector, tokenService *services.TokenService, custodyKey []byte, env *types.Environment) *gin.Engine {
	// init metrics
	if global.Conf.Prometheus.Enabled {
		metrics.InitMetrics()

		authorized := router.Group("/metrics", gin.BasicAuth(gin.Accounts{
			global.Conf.Prometheus.Username: global.Conf.Prometheus.Password,
		}))

		authorized.GET("", gin.WrapH(promhttp.Handler()))
	}

	// SERVICE definitions
	identityService := services.NewIdentityService()
	walletService := services.NewWalletService(dbSelector, custodyKey, env)
	authStateService := services.NewAuthStateService(dbSelector)
	flowService := services.NewAuthFlowService(identityService, walletService, tokenService, authStateService)

	// periodic cleanup for the services created here
	env.Cron.AddFunc("@every 10m", flowService.RemoveExpiredFlows)
	env.Cron.AddFunc("@every 5m", walletService.RemoveExpiredRecoveries)
	env.Cron.Start()

	// API definitions
	authApi := api.NewAuthApi(flowService, tokenService)
	walletApi := api.NewWalletApi(walletService)
	jwksApi := api.NewJwksApi(tokenService)
	healthApi := api.NewHealthCheckAPI()

	// PUBLIC ROOT API
	rootPublicApi := router.Group("/")
	{
		rootPublicApi.GET(".well-known/jwks.json", jwksApi.Jwks)
	}

	// PUBLIC API
	publicApi := router.Group("/api", metrics.MetricsMiddleware(), restinterceptors.RateLimitMiddleware())
	{
		publicApi.GET("/v1/healthcheck", healthApi.HealthCheck)
		publicApi.POST("/v1/auth/login", authApi.Login)
		publicApi.GET("/v1/auth/callback", authApi.Callback)
		publicApi.GET("/v1/auth/flow/:id", authApi.FlowStatus)
		publicApi.POST("/v1/auth/flow/:id/retry", authApi.RetryFlow)
		publicApi.DELETE("/v1/auth/flow/:id", authApi.CancelFlow)
		publicApi.POST("/v1/wallet/recovery", walletApi.BeginRecovery)
		publicApi.POST("/v1/wallet/recovery/complete", walletApi.CompleteRecovery)
	}

	// SESSION scoped API (bearer session token required)
	sessionApi := router.Group("/api", metrics.MetricsMiddleware(), restinterceptors.RateLimitMiddleware(), restinterceptors.SessionMiddleware(tokenService))
	{
		sessionApi.GET("/v1/session", authApi.Session)
		sessionApi.POST("/v1/logout", authApi.Logout)
		sessionApi.GET("/v1/wallet", walletApi.GetWallet)
		sessionApi.POST("/v1/wallet/deactivate", walletApi.Deactivate)
	}

	return router
}
