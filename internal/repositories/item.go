package repositories

import (
	"fmt"
	"time"

	"github.com/kawafuchieirin/app-prototype/internal/models"
)

// シングルテーブル設計のキー。全てのTodoは同じパーティションに格納されます。
const (
	todoPartitionKey = "TODO"
	todoSortPrefix   = "TODO#"
)

// todoItem はDynamoDB上のTodoレコードです。
type todoItem struct {
	PK          string  `dynamodbav:"PK"`
	SK          string  `dynamodbav:"SK"`
	ID          string  `dynamodbav:"id"`
	Title       string  `dynamodbav:"title"`
	Description *string `dynamodbav:"description,omitempty"`
	Status      string  `dynamodbav:"status"`
	CreatedAt   string  `dynamodbav:"created_at"`
	UpdatedAt   string  `dynamodbav:"updated_at"`
}

func todoSortKey(id string) string {
	return todoSortPrefix + id
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func newTodoItem(t *models.Todo) todoItem {
	return todoItem{
		PK:          todoPartitionKey,
		SK:          todoSortKey(t.ID),
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		CreatedAt:   formatTime(t.CreatedAt),
		UpdatedAt:   formatTime(t.UpdatedAt),
	}
}

func (it todoItem) toTodo() (*models.Todo, error) {
	status := models.TodoStatus(it.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("todo %s: invalid status %q", it.ID, it.Status)
	}
	createdAt, err := parseTime(it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("todo %s: invalid created_at: %w", it.ID, err)
	}
	updatedAt, err := parseTime(it.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("todo %s: invalid updated_at: %w", it.ID, err)
	}

	var description *string
	if it.Description != nil && *it.Description != "" {
		d := *it.Description
		description = &d
	}

	return &models.Todo{
		ID:          it.ID,
		Title:       it.Title,
		Description: description,
		Status:      status,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}
