// Package database はDynamoDBクライアントの初期化とテーブル作成を行います。
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/charmbracelet/log"

	"github.com/kawafuchieirin/app-prototype/internal/config"
)

// NewClient は設定からDynamoDBクライアントを作成します。
// DynamoDBEndpointURL が設定されている場合は DynamoDB Local に接続し、
// 認証情報が無ければダミーの認証情報を使います。
func NewClient(ctx context.Context, s *config.Settings, logger *log.Logger) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(s.AWSRegion),
	}
	if s.DynamoDBEndpointURL != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("dummy", "dummy", ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if s.DynamoDBEndpointURL != "" {
			o.BaseEndpoint = aws.String(s.DynamoDBEndpointURL)
		}
	})

	if s.DynamoDBEndpointURL != "" {
		logger.Info("using local dynamodb endpoint", "endpoint", s.DynamoDBEndpointURL, "table", s.DynamoDBTableName)
	} else {
		logger.Debug("using aws dynamodb", "region", s.AWSRegion, "table", s.DynamoDBTableName)
	}
	return client, nil
}

// TableAPI はテーブル管理に必要なDynamoDBの操作です。
type TableAPI interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// EnsureTable はPK/SKを持つテーブルが無ければ作成し、作成したかどうかを返します。
func EnsureTable(ctx context.Context, api TableAPI, tableName string, maxWait time.Duration) (bool, error) {
	_, err := api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)})
	if err == nil {
		return false, nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return false, fmt.Errorf("could not describe table %s: %w", tableName, err)
	}

	_, err = api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return false, fmt.Errorf("could not create table %s: %w", tableName, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(api)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)}, maxWait); err != nil {
		return true, fmt.Errorf("table %s was not active in time: %w", tableName, err)
	}
	return true, nil
}
