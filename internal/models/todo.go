// Package modelsはTodoを定義します。
package models

import (
	"time"
)

// TodoStatus はTodoの進捗状態です。
type TodoStatus string

const (
	TodoStatusPending    TodoStatus = "pending"
	TodoStatusInProgress TodoStatus = "in_progress"
	TodoStatusCompleted  TodoStatus = "completed"
)

// Valid はステータスが定義済みの値かどうかを返します。
func (s TodoStatus) Valid() bool {
	switch s {
	case TodoStatusPending, TodoStatusInProgress, TodoStatusCompleted:
		return true
	}
	return false
}

// Todo はAPIが返すToDoタスクです。
type Todo struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"` // 未設定の場合は null
	Status      TodoStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TodoCreateRequest は POST /todos のリクエストボディです。
// 文字数の上限は validator により文字単位 (rune) で検証されます。
type TodoCreateRequest struct {
	Title       string      `json:"title" binding:"required,min=1,max=200"`
	Description *string     `json:"description" binding:"omitempty,max=1000"`
	Status      *TodoStatus `json:"status" binding:"omitnil,oneof=pending in_progress completed"` // 省略時は pending
}

// TodoUpdateRequest は PATCH /todos/:id のリクエストボディです。
// nil のフィールドは更新しません。空文字の title は nil と区別して検証されます。
type TodoUpdateRequest struct {
	Title       *string     `json:"title" binding:"omitnil,min=1,max=200"`
	Description *string     `json:"description" binding:"omitnil,max=1000"`
	Status      *TodoStatus `json:"status" binding:"omitnil,oneof=pending in_progress completed"`
}

// IsEmpty は更新対象のフィールドが一つもないかどうかを返します。
func (r TodoUpdateRequest) IsEmpty() bool {
	return r.Title == nil && r.Description == nil && r.Status == nil
}

// TodoStats は GET /todos/stats のレスポンスです。
type TodoStats struct {
	Total          int     `json:"total"`
	Pending        int     `json:"pending"`
	InProgress     int     `json:"in_progress"`
	Completed      int     `json:"completed"`
	CompletionRate float64 `json:"completion_rate"`
}
