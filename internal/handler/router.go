package handler

import (
	"github.com/eaglebank/ledger/shared/logging"
	"github.com/eaglebank/ledger/shared/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Logger      *zap.Logger
	JWTSecret   []byte
	CORSOrigins []string
	Accounts    *AccountHandler
	Transfers   *TransferHandler
	Health      *HealthHandler
}

// NewRouter wires the public HTTP surface. /api routes require a bearer token
// only when a JWT secret is configured.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := logging.OrNop(cfg.Logger)

	router := gin.New()
	router.Use(middleware.Recovery(logger), middleware.LoggingMiddleware(logger), middleware.CORS(cfg.CORSOrigins))

	if cfg.Health != nil {
		router.GET("/health", cfg.Health.Health)
	}

	api := router.Group("/api")
	if len(cfg.JWTSecret) > 0 {
		api.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	}
	{
		api.POST("/accounts", cfg.Accounts.CreateAccount)
		api.GET("/accounts", cfg.Accounts.ListAccounts)
		api.GET("/accounts/:id", cfg.Accounts.GetAccount)
		api.PUT("/accounts/:id", cfg.Accounts.UpdateBalance)
		api.DELETE("/accounts/:id", cfg.Accounts.DeleteAccount)
		api.POST("/transfer", cfg.Transfers.Transfer)
	}

	return router
}
