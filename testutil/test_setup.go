// Package testutil はHTTPレベルのテストで使う共通のセットアップを提供します。
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/kawafuchieirin/app-prototype/internal/config"
	"github.com/kawafuchieirin/app-prototype/internal/logging"
	"github.com/kawafuchieirin/app-prototype/internal/models"
	"github.com/kawafuchieirin/app-prototype/internal/repositories"
	"github.com/kawafuchieirin/app-prototype/internal/routes"
	"github.com/kawafuchieirin/app-prototype/internal/services"
	"github.com/kawafuchieirin/app-prototype/testutil/dynamotest"
)

// TestTableName はテストで使うテーブル名です。
const TestTableName = "app-prototype-test"

// TestEnv はテスト用ルーターとその裏側のフェイクです。
type TestEnv struct {
	Router   *gin.Engine
	Dynamo   *dynamotest.Fake
	Service  *services.TodoService
	Settings *config.Settings
}

// SetupTestRouter はインメモリのDynamoDBと署名検証なしのトークン検証でルーターを組み立てます。
func SetupTestRouter(t *testing.T, opts ...services.TodoServiceOption) *TestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	settings := config.Default()
	settings.DynamoDBTableName = TestTableName
	settings.CognitoEndpointURL = "http://localhost:9229"

	logger := logging.Discard()
	fake := dynamotest.NewFake(TestTableName)
	repo := repositories.NewTodoRepository(fake, TestTableName)
	svc := services.NewTodoService(repo, opts...)

	r := routes.SetupRouter(routes.Dependencies{
		Settings:    settings,
		Logger:      logger,
		TodoService: svc,
		Verifier:    services.NewTokenVerifier(settings, logger),
		DB:          repo,
	})
	return &TestEnv{Router: r, Dynamo: fake, Service: svc, Settings: settings}
}

// Do はリクエストを送ってレスポンスを返します。body が nil でなければJSONにして送ります。
func (e *TestEnv) Do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewBuffer(data)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// CreateTestTodo は POST /todos でTodoを作成し、作成されたTodoを返します。
func (e *TestEnv) CreateTestTodo(t *testing.T, req models.TodoCreateRequest) models.Todo {
	t.Helper()
	w := e.Do(t, http.MethodPost, "/todos", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.Todo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	return created
}

// LocalToken はcognito-local相当の (署名検証されない) トークンを作ります。
func LocalToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims))
	signed, err := token.SignedString([]byte("local-secret"))
	require.NoError(t, err)
	return signed
}
