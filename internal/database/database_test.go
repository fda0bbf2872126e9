package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawafuchieirin/app-prototype/internal/config"
	"github.com/kawafuchieirin/app-prototype/internal/logging"
	"github.com/kawafuchieirin/app-prototype/testutil/dynamotest"
)

func TestEnsureTable_CreatesMissingTable(t *testing.T) {
	fake := dynamotest.NewFake()

	created, err := EnsureTable(context.Background(), fake, "app-prototype-local", time.Minute)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, fake.Calls["CreateTable"])

	created, err = EnsureTable(context.Background(), fake, "app-prototype-local", time.Minute)
	require.NoError(t, err)
	assert.False(t, created, "既存のテーブルは作成しない")
	assert.Equal(t, 1, fake.Calls["CreateTable"])
}

func TestEnsureTable_DescribeError(t *testing.T) {
	fake := dynamotest.NewFake()
	fake.Err = errors.New("access denied")

	_, err := EnsureTable(context.Background(), fake, "t", time.Minute)
	assert.ErrorContains(t, err, "access denied")
	assert.Zero(t, fake.Calls["CreateTable"])
}

func TestNewClient_LocalEndpoint(t *testing.T) {
	s := config.Default()
	s.DynamoDBEndpointURL = "http://127.0.0.1:8000"

	client, err := NewClient(context.Background(), s, logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Equal(t, "http://127.0.0.1:8000", *client.Options().BaseEndpoint)
	assert.Equal(t, "ap-northeast-1", client.Options().Region)
}
