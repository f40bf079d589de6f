package handler

import (
	"net/http"

	"satshunt/internal/adapter/http/middleware"
	"satshunt/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc        ports.AuthService
	WithdrawSvc    ports.WithdrawService
	DonationSvc    ports.DonationService
	WalletSvc      ports.WalletService
	CardSvc        ports.CardService
	ReportingSvc   ports.ReportingService
	TokenSvc       ports.TokenService
	RateLimitStore ports.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	MetricsHandler http.Handler // nil = /metrics disabled
	AdminToken     string       // empty = admin routes disabled
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep, verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	if deps.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- LNURL-withdraw (what the tag and the wallet talk to) ---
	withdrawHandler := NewWithdrawHandler(deps.WithdrawSvc)
	lnurlw := v1.Group("/lnurlw")
	{
		lnurlw.GET("/callback", rl("lnurlw"), withdrawHandler.Callback)
		lnurlw.GET("/:card_id", rl("lnurlw"), withdrawHandler.Request)
	}

	// --- Card programming (one-shot write token in the URL) ---
	cardHandler := NewCardHandler(deps.CardSvc)
	v1.POST("/boltcard/:write_token", rl("boltcard"), cardHandler.ProgramKeys)

	// --- Donations (public) ---
	donationHandler := NewDonationHandler(deps.DonationSvc)
	donations := v1.Group("/donations")
	{
		donations.POST("", rl("donations"), donationHandler.Create)
		donations.GET("/:id", rl("donations"), donationHandler.Get)
	}

	// --- Public stats ---
	statsHandler := NewStatsHandler(deps.ReportingSvc)
	stats := v1.Group("/stats")
	{
		stats.GET("", rl("stats"), statsHandler.All)
		stats.GET("/:location_id", rl("stats"), statsHandler.ByLocation)
	}

	// --- Player auth ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/register", rl("auth_register"), authHandler.Register)
		auth.POST("/login", rl("auth_login"), authHandler.Login)
	}

	// --- Custodial wallet (JWT-authenticated) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	walletHandler := NewWalletHandler(deps.WalletSvc)
	wallet := v1.Group("/wallet", jwtAuth)
	{
		wallet.POST("/collect", rl("wallet"), walletHandler.Collect)
		wallet.GET("/balance", rl("wallet"), walletHandler.Balance)
		wallet.POST("/withdraw", rl("wallet"), walletHandler.Withdraw)
		wallet.POST("/withdraw-address", rl("wallet"), walletHandler.WithdrawToAddress)
		wallet.GET("/transactions", rl("wallet"), walletHandler.ListTransactions)
	}

	// --- Provisioning (shared admin token) ---
	if deps.AdminToken != "" {
		admin := v1.Group("/admin", middleware.AdminAuth(deps.AdminToken))
		{
			admin.POST("/cards", cardHandler.CreateCard)
			admin.POST("/cards/:card_id/rotate", cardHandler.RotateKeys)
		}
	}

	return r
}
