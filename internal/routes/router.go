// Package routesはroutingを行います。
package routes

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/kawafuchieirin/app-prototype/internal/config"
	"github.com/kawafuchieirin/app-prototype/internal/handlers"
	"github.com/kawafuchieirin/app-prototype/internal/logging"
	"github.com/kawafuchieirin/app-prototype/internal/services"
)

// Dependencies はルーターが使う依存関係です。cmd/api で組み立てて渡します。
type Dependencies struct {
	Settings    *config.Settings
	Logger      *log.Logger
	TodoService handlers.TodoStore
	Verifier    services.TokenVerifier
	DB          handlers.Pinger
}

// SetupRouter はGinルーターをセットアップし、すべてのエンドポイントを登録します。
func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.RequestLogger(deps.Logger))

	// CORS対策
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = deps.Settings.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsConfig))

	// ハンドラー
	todoHandler := handlers.NewTodoHandler(deps.TodoService, deps.Logger)
	userHandler := handlers.NewUserHandler()
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Logger)

	// ルーティング
	r.GET("/", OptionalAuth(deps.Verifier, deps.Logger), userHandler.RootHandler)
	r.GET("/health", healthHandler.StatusHandler)
	r.GET("/health/db", healthHandler.DBCheckHandler)
	r.GET("/me", RequireAuth(deps.Verifier, deps.Logger), userHandler.MeHandler)

	todos := r.Group("/todos")
	{
		todos.GET("", todoHandler.GetTodosHandler)
		todos.GET("/stats", todoHandler.GetStatsHandler)
		todos.POST("", todoHandler.CreateTodoHandler)
		todos.GET("/:id", todoHandler.GetTodoByIDHandler)
		todos.PATCH("/:id", todoHandler.UpdateTodoHandler)
		todos.DELETE("/:id", todoHandler.DeleteTodoHandler)
	}

	return r
}
