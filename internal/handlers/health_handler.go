package handlers

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// Pinger はストレージへの疎通確認です。repositories.TodoRepository が実装します。
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler はヘルスチェックを扱います。
type HealthHandler struct {
	db     Pinger
	logger *log.Logger
}

// NewHealthHandler は新しいHealthHandlerを作成します。
func NewHealthHandler(db Pinger, logger *log.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

// StatusHandler はプロセスが応答できることだけを確認します。
func (h *HealthHandler) StatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// DBCheckHandler はテーブルにアクセスできるか確認します。
func (h *HealthHandler) DBCheckHandler(c *gin.Context) {
	if err := h.db.Ping(c.Request.Context()); err != nil {
		h.logger.Error("database health check failed", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "detail": "Database connection failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
