// Package repositories はデータベース操作を行うリポジトリを提供します。
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kawafuchieirin/app-prototype/internal/models"
)

// ErrTodoNotFound はTODOが見つからない場合のエラーです。
var ErrTodoNotFound = errors.New("todo not found")

// DynamoAPI はリポジトリが利用するDynamoDBクライアントの操作です。
// *dynamodb.Client が満たし、テストではインメモリ実装に差し替えます。
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// TodoRepository はTodoテーブルへの読み書きを行います。
type TodoRepository struct {
	DB        DynamoAPI
	TableName string
}

// NewTodoRepository は新しいTodoRepositoryインスタンスを作成します。
func NewTodoRepository(db DynamoAPI, tableName string) *TodoRepository {
	return &TodoRepository{DB: db, TableName: tableName}
}

// TodoChanges は Update で書き換えるフィールドです。nil のフィールドは変更しません。
// Description が空文字の場合は属性を削除します。
type TodoChanges struct {
	Title       *string
	Description *string
	Status      *models.TodoStatus
	UpdatedAt   time.Time
}

func (r *TodoRepository) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: todoPartitionKey},
		"SK": &types.AttributeValueMemberS{Value: todoSortKey(id)},
	}
}

// Create は新しいTodoをテーブルに書き込みます。
func (r *TodoRepository) Create(ctx context.Context, t *models.Todo) error {
	item, err := attributevalue.MarshalMap(newTodoItem(t))
	if err != nil {
		return fmt.Errorf("could not marshal todo: %w", err)
	}
	_, err = r.DB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.TableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("could not put todo: %w", err)
	}
	return nil
}

// FindByID は指定されたIDのTodoを取得します。存在しない場合は ErrTodoNotFound を返します。
func (r *TodoRepository) FindByID(ctx context.Context, id string) (*models.Todo, error) {
	out, err := r.DB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.TableName),
		Key:       r.key(id),
	})
	if err != nil {
		return nil, fmt.Errorf("could not get todo: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrTodoNotFound
	}
	return unmarshalTodo(out.Item)
}

// FindAll はパーティション内の全てのTodoを取得します。順序は保存順 (ソートキー順) です。
func (r *TodoRepository) FindAll(ctx context.Context) ([]*models.Todo, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(todoPartitionKey))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("could not build query: %w", err)
	}

	todos := make([]*models.Todo, 0)
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.TableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	paginator := dynamodb.NewQueryPaginator(r.DB, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not query todos: %w", err)
		}
		for _, item := range page.Items {
			t, err := unmarshalTodo(item)
			if err != nil {
				return nil, err
			}
			todos = append(todos, t)
		}
	}
	return todos, nil
}

// Update は指定されたフィールドと updated_at を書き換え、更新後のTodoを返します。
// 楽観ロックは行わないため、同時更新は後勝ちになります。
func (r *TodoRepository) Update(ctx context.Context, id string, ch TodoChanges) (*models.Todo, error) {
	update := expression.Set(expression.Name("updated_at"), expression.Value(formatTime(ch.UpdatedAt)))
	if ch.Title != nil {
		update = update.Set(expression.Name("title"), expression.Value(*ch.Title))
	}
	if ch.Description != nil {
		if *ch.Description == "" {
			update = update.Remove(expression.Name("description"))
		} else {
			update = update.Set(expression.Name("description"), expression.Value(*ch.Description))
		}
	}
	if ch.Status != nil {
		update = update.Set(expression.Name("status"), expression.Value(string(*ch.Status)))
	}
	// 存在しないキーへの UpdateItem は新規作成になるため、存在を条件にする
	cond := expression.AttributeExists(expression.Name("SK"))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("could not build update: %w", err)
	}

	out, err := r.DB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.TableName),
		Key:                       r.key(id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrTodoNotFound
		}
		return nil, fmt.Errorf("could not update todo: %w", err)
	}
	return unmarshalTodo(out.Attributes)
}

// Delete は指定されたIDのTodoを削除し、削除したかどうかを返します。
func (r *TodoRepository) Delete(ctx context.Context, id string) (bool, error) {
	out, err := r.DB.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(r.TableName),
		Key:          r.key(id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, fmt.Errorf("could not delete todo: %w", err)
	}
	return len(out.Attributes) > 0, nil
}

// Ping はテーブルにアクセスできるかを確認します。
func (r *TodoRepository) Ping(ctx context.Context) error {
	_, err := r.DB.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(r.TableName),
	})
	if err != nil {
		return fmt.Errorf("could not describe table %s: %w", r.TableName, err)
	}
	return nil
}

func unmarshalTodo(av map[string]types.AttributeValue) (*models.Todo, error) {
	var it todoItem
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return nil, fmt.Errorf("could not unmarshal todo: %w", err)
	}
	return it.toTodo()
}
