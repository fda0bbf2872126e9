package services

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kawafuchieirin/app-prototype/internal/models"
	"github.com/kawafuchieirin/app-prototype/internal/repositories"
)

// TodoRepository はTodoServiceが依存する永続化の操作です。
type TodoRepository interface {
	Create(ctx context.Context, t *models.Todo) error
	FindByID(ctx context.Context, id string) (*models.Todo, error)
	FindAll(ctx context.Context) ([]*models.Todo, error)
	Update(ctx context.Context, id string, ch repositories.TodoChanges) (*models.Todo, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// TodoService はTodo関連のビジネスロジックを扱います。
type TodoService struct {
	todoRepo TodoRepository
	now      func() time.Time
	newID    func() string
}

// TodoServiceOption は TodoService の生成オプションです。
type TodoServiceOption func(*TodoService)

// WithClock は現在時刻の取得関数を差し替えます。
func WithClock(now func() time.Time) TodoServiceOption {
	return func(s *TodoService) { s.now = now }
}

// WithIDGenerator はID生成関数を差し替えます。
func WithIDGenerator(newID func() string) TodoServiceOption {
	return func(s *TodoService) { s.newID = newID }
}

// NewTodoService は新しいTodoServiceを作成します。
func NewTodoService(todoRepo TodoRepository, opts ...TodoServiceOption) *TodoService {
	s := &TodoService{
		todoRepo: todoRepo,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTodo は新しいTodoを作成します。
func (s *TodoService) CreateTodo(ctx context.Context, req models.TodoCreateRequest) (*models.Todo, error) {
	now := s.now().UTC()
	status := models.TodoStatusPending
	if req.Status != nil {
		status = *req.Status
	}

	todo := &models.Todo{
		ID:          s.newID(),
		Title:       req.Title,
		Description: normalizeDescription(req.Description),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.todoRepo.Create(ctx, todo); err != nil {
		return nil, err
	}
	return todo, nil
}

// GetTodo は指定IDのTodoを取得します。存在しない場合は repositories.ErrTodoNotFound を返します。
func (s *TodoService) GetTodo(ctx context.Context, id string) (*models.Todo, error) {
	return s.todoRepo.FindByID(ctx, id)
}

// ListTodos は全てのTodoを取得します。
func (s *TodoService) ListTodos(ctx context.Context) ([]*models.Todo, error) {
	return s.todoRepo.FindAll(ctx)
}

// UpdateTodo は指定されたフィールドだけを更新し、updated_at を現在時刻にします。
//
// 存在確認と書き込みは別のリクエストで、楽観ロックはありません。
// 同じIDへの同時更新は後から書いた方が残ります。
func (s *TodoService) UpdateTodo(ctx context.Context, id string, req models.TodoUpdateRequest) (*models.Todo, error) {
	existing, err := s.todoRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updatedAt := s.now().UTC()
	// 時計が巻き戻っても created_at <= updated_at を保つ
	if updatedAt.Before(existing.UpdatedAt) {
		updatedAt = existing.UpdatedAt
	}

	return s.todoRepo.Update(ctx, id, repositories.TodoChanges{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		UpdatedAt:   updatedAt,
	})
}

// DeleteTodo はTodoを削除し、削除したかどうかを返します。
func (s *TodoService) DeleteTodo(ctx context.Context, id string) (bool, error) {
	return s.todoRepo.Delete(ctx, id)
}

// GetStats は全Todoからステータスごとの件数と完了率を集計します。
func (s *TodoService) GetStats(ctx context.Context) (*models.TodoStats, error) {
	todos, err := s.todoRepo.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return computeStats(todos), nil
}

func computeStats(todos []*models.Todo) *models.TodoStats {
	stats := &models.TodoStats{Total: len(todos)}
	for _, t := range todos {
		switch t.Status {
		case models.TodoStatusPending:
			stats.Pending++
		case models.TodoStatusInProgress:
			stats.InProgress++
		case models.TodoStatusCompleted:
			stats.Completed++
		}
	}
	if stats.Total > 0 {
		rate := float64(stats.Completed) / float64(stats.Total) * 100
		// 小数第1位に丸める。ちょうど半分は偶数側 (6.25 -> 6.2)
		stats.CompletionRate = math.RoundToEven(rate*10) / 10
	}
	return stats
}

// 空文字の description は未設定 (null) として保存する
func normalizeDescription(d *string) *string {
	if d == nil || *d == "" {
		return nil
	}
	v := *d
	return &v
}
