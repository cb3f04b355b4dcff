package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

type DynamoDBConfig struct {
	Region string
	// Endpoint overrides the AWS endpoint, e.g. http://localhost:8000 for DynamoDB Local.
	Endpoint        string
	Table           string
	AccessKeyID     string
	SecretAccessKey string
}

// DynamoDBStorage keeps each collection as one item keyed by "Key".
type DynamoDBStorage struct {
	client *dynamodb.Client
	table  string
	logger *zap.Logger
}

func NewDynamoDBStorage(ctx context.Context, config DynamoDBConfig, logger *zap.Logger) (*DynamoDBStorage, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: config.Endpoint}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	if config.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID:     config.AccessKeyID,
				SecretAccessKey: config.SecretAccessKey,
			},
		}))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	s := &DynamoDBStorage{
		client: dynamodb.NewFromConfig(cfg),
		table:  config.Table,
		logger: logger,
	}
	if err := s.ensureTableExists(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DynamoDBStorage) ensureTableExists(ctx context.Context) error {
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("Key"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("Key"),
				KeyType:       types.KeyTypeHash,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			return nil
		}
		return fmt.Errorf("failed to create table %q: %w", s.table, err)
	}

	s.logger.Info("DynamoDB table created", zap.String("table", s.table))
	return nil
}

func (s *DynamoDBStorage) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{"Key": &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("error reading key %q: %w", key, err)
	}
	return itemValue(out.Item)
}

func (s *DynamoDBStorage) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      newItem(key, value, time.Now()),
	})
	if err != nil {
		return fmt.Errorf("error writing key %q: %w", key, err)
	}
	return nil
}

func (s *DynamoDBStorage) Close() error {
	return nil
}

func newItem(key string, value []byte, now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"Key":       &types.AttributeValueMemberS{Value: key},
		"Value":     &types.AttributeValueMemberS{Value: string(value)},
		"UpdatedAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
	}
}

func itemValue(item map[string]types.AttributeValue) ([]byte, error) {
	if len(item) == 0 {
		return nil, ErrNotFound
	}
	attr, ok := item["Value"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("%w: item has no string Value attribute", ErrCorrupt)
	}
	return []byte(attr.Value), nil
}
