package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/kawafuchieirin/app-prototype/internal/models"
	"github.com/kawafuchieirin/app-prototype/internal/repositories"
)

// TodoStore はハンドラーが呼び出すTodoの操作です。services.TodoService が実装します。
type TodoStore interface {
	CreateTodo(ctx context.Context, req models.TodoCreateRequest) (*models.Todo, error)
	GetTodo(ctx context.Context, id string) (*models.Todo, error)
	ListTodos(ctx context.Context) ([]*models.Todo, error)
	UpdateTodo(ctx context.Context, id string, req models.TodoUpdateRequest) (*models.Todo, error)
	DeleteTodo(ctx context.Context, id string) (bool, error)
	GetStats(ctx context.Context) (*models.TodoStats, error)
}

// TodoHandler はTodo関連のハンドラーを管理します。
type TodoHandler struct {
	todoService TodoStore
	logger      *log.Logger
}

// NewTodoHandler は新しいTodoHandlerを作成します。
func NewTodoHandler(todoService TodoStore, logger *log.Logger) *TodoHandler {
	useJSONFieldNames()
	return &TodoHandler{todoService: todoService, logger: logger}
}

// GetTodosHandler は全てのTodoを取得します。
func (h *TodoHandler) GetTodosHandler(c *gin.Context) {
	todos, err := h.todoService.ListTodos(c.Request.Context())
	if err != nil {
		h.internalError(c, "failed to list todos", err)
		return
	}
	c.JSON(http.StatusOK, todos)
}

// GetStatsHandler はステータスごとの件数と完了率を返します。
func (h *TodoHandler) GetStatsHandler(c *gin.Context) {
	stats, err := h.todoService.GetStats(c.Request.Context())
	if err != nil {
		h.internalError(c, "failed to compute stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// CreateTodoHandler は新しいTodoを作成します。
func (h *TodoHandler) CreateTodoHandler(c *gin.Context) {
	var req models.TodoCreateRequest
	if err := bindJSON(c, &req); err != nil {
		abortWithValidationError(c, err)
		return
	}

	created, err := h.todoService.CreateTodo(c.Request.Context(), req)
	if err != nil {
		h.internalError(c, "failed to create todo", err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetTodoByIDHandler は指定IDのTodoを取得します。
func (h *TodoHandler) GetTodoByIDHandler(c *gin.Context) {
	todo, err := h.todoService.GetTodo(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repositories.ErrTodoNotFound) {
			todoNotFound(c)
			return
		}
		h.internalError(c, "failed to fetch todo", err)
		return
	}
	c.JSON(http.StatusOK, todo)
}

// UpdateTodoHandler は指定されたフィールドだけを更新します。
func (h *TodoHandler) UpdateTodoHandler(c *gin.Context) {
	var req models.TodoUpdateRequest
	if err := bindJSON(c, &req); err != nil {
		abortWithValidationError(c, err)
		return
	}

	updated, err := h.todoService.UpdateTodo(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		if errors.Is(err, repositories.ErrTodoNotFound) {
			todoNotFound(c)
			return
		}
		h.internalError(c, "failed to update todo", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DeleteTodoHandler はTodoを削除します。
func (h *TodoHandler) DeleteTodoHandler(c *gin.Context) {
	deleted, err := h.todoService.DeleteTodo(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.internalError(c, "failed to delete todo", err)
		return
	}
	if !deleted {
		todoNotFound(c)
		return
	}
	c.Status(http.StatusNoContent)
}

func todoNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"detail": "Todo not found"})
}

func (h *TodoHandler) internalError(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, "method", c.Request.Method, "path", c.Request.URL.Path, "id", c.Param("id"), "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
}
