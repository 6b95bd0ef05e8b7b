package bots

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

func TestWithDefaults(t *testing.T) {
	cfg := Configuration{ID: "bot-1", Tone: "Professional"}.WithDefaults()
	assert.Equal(t, DefaultName, cfg.Name)
	assert.Equal(t, DefaultBusinessType, cfg.BusinessType)
	assert.Equal(t, DefaultRole, cfg.Role)
	assert.Equal(t, ToneProfessional, cfg.Tone)
	assert.Equal(t, DefaultKnowledgeBase, cfg.KnowledgeBase)

	blank := Configuration{ID: "bot-2", Name: "  "}.WithDefaults()
	assert.Equal(t, DefaultName, blank.Name)
	assert.Equal(t, ToneFriendly, blank.Tone)
}

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Error(t, repo.Put(ctx, Configuration{}))

	require.NoError(t, repo.Put(ctx, Configuration{ID: "b", Name: "Tienda B"}))
	require.NoError(t, repo.Put(ctx, Configuration{ID: "a", Name: "Tienda A"}))

	got, err := repo.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "Tienda B", got.Name)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
}

type mockDynamo struct {
	putInput  *dynamodb.PutItemInput
	getOutput *dynamodb.GetItemOutput
	getErr    error
	scanPages []*dynamodb.ScanOutput
	scanCalls []*dynamodb.ScanInput
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = in
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getOutput == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return m.getOutput, nil
}

func (m *mockDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.scanCalls = append(m.scanCalls, in)
	return m.scanPages[len(m.scanCalls)-1], nil
}

func TestDynamoRepositoryPutAndGet(t *testing.T) {
	mock := &mockDynamo{}
	repo := NewDynamoRepository(mock, "bot_configs", logging.Default())
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	cfg := Configuration{ID: "bot-1", Name: "Café Luna", AccessToken: "secret", CreatedAt: now, UpdatedAt: now}.WithDefaults()
	require.NoError(t, repo.Put(context.Background(), cfg))
	require.NotNil(t, mock.putInput)
	assert.Equal(t, "bot_configs", *mock.putInput.TableName)

	key, ok := mock.putInput.Item["botId"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "bot-1", key.Value)

	mock.getOutput = &dynamodb.GetItemOutput{Item: mock.putInput.Item}
	got, err := repo.Get(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "Café Luna", got.Name)
	assert.Equal(t, "secret", got.AccessToken)
	assert.True(t, got.CreatedAt.Equal(now))
}

func TestDynamoRepositoryGetMissing(t *testing.T) {
	repo := NewDynamoRepository(&mockDynamo{}, "bot_configs", logging.Default())
	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDynamoRepositoryGetError(t *testing.T) {
	repo := NewDynamoRepository(&mockDynamo{getErr: errors.New("throttled")}, "bot_configs", logging.Default())
	_, err := repo.Get(context.Background(), "bot-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestDynamoRepositoryListPaginates(t *testing.T) {
	item := func(id string) map[string]types.AttributeValue {
		m, err := attributevalue.MarshalMap(Configuration{ID: id, Name: id})
		require.NoError(t, err)
		return m
	}
	mock := &mockDynamo{scanPages: []*dynamodb.ScanOutput{
		{Items: []map[string]types.AttributeValue{item("c")}, LastEvaluatedKey: map[string]types.AttributeValue{"botId": &types.AttributeValueMemberS{Value: "c"}}},
		{Items: []map[string]types.AttributeValue{item("a"), item("b")}},
	}}
	repo := NewDynamoRepository(mock, "bot_configs", logging.Default())

	all, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	require.Len(t, mock.scanCalls, 2)
	assert.NotNil(t, mock.scanCalls[1].ExclusiveStartKey)
}
