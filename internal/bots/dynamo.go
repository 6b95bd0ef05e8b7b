package bots

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoRepository persists configurations in a DynamoDB table keyed by botId.
type DynamoRepository struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ Repository = (*DynamoRepository)(nil)

// NewDynamoRepository builds a repository backed by the provided DynamoDB client.
func NewDynamoRepository(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoRepository {
	if client == nil {
		panic("bots: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("bots: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoRepository{client: client, tableName: tableName, logger: logger}
}

func (r *DynamoRepository) Get(ctx context.Context, botID string) (Configuration, error) {
	if botID == "" {
		return Configuration{}, ErrNotFound
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"botId": &types.AttributeValueMemberS{Value: botID},
		},
	})
	if err != nil {
		return Configuration{}, fmt.Errorf("bots: failed to fetch configuration: %w", err)
	}
	if out.Item == nil {
		return Configuration{}, ErrNotFound
	}
	var cfg Configuration
	if err := attributevalue.UnmarshalMap(out.Item, &cfg); err != nil {
		return Configuration{}, fmt.Errorf("bots: failed to decode configuration: %w", err)
	}
	return cfg, nil
}

func (r *DynamoRepository) Put(ctx context.Context, cfg Configuration) error {
	if cfg.ID == "" {
		return errors.New("bots: id required")
	}
	item, err := attributevalue.MarshalMap(cfg)
	if err != nil {
		return fmt.Errorf("bots: failed to marshal configuration: %w", err)
	}
	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("bots: failed to persist configuration: %w", err)
	}
	return nil
}

func (r *DynamoRepository) List(ctx context.Context) ([]Configuration, error) {
	var (
		out       []Configuration
		startKey  map[string]types.AttributeValue
		pageCount int
	)
	for {
		page, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(r.tableName),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("bots: failed to scan configurations: %w", err)
		}
		var batch []Configuration
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("bots: failed to decode configurations: %w", err)
		}
		out = append(out, batch...)
		pageCount++
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		startKey = page.LastEvaluatedKey
	}
	r.logger.Debug("listed bot configurations", "count", len(out), "pages", pageCount)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
