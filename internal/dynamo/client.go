// Package dynamo stores change log records in a DynamoDB table.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"field-change-log/internal/config"
	"field-change-log/internal/models"
)

// Key layout: pk = "{entity}#{id}", sk = "RECORD#"
const (
	SKRecord = "RECORD#"
)

// DynamoDBClient defines the DynamoDB operations the store uses
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client writes one item per change log record
type Client struct {
	ddb       DynamoDBClient
	tableName string
	logger    *logrus.Logger
	now       func() time.Time
}

// NewClient creates a client from the default AWS credential chain
func NewClient(ctx context.Context, cfg config.DynamoDBConfig, logger *logrus.Logger) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	ddb := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewWithClient(ddb, cfg.Table, logger), nil
}

// NewWithClient creates a client on an existing DynamoDB client
func NewWithClient(ddb DynamoDBClient, tableName string, logger *logrus.Logger) *Client {
	return &Client{
		ddb:       ddb,
		tableName: tableName,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateRecord puts the record under a new id; an existing key is never
// overwritten
func (c *Client) CreateRecord(ctx context.Context, entityName string, record models.LogRecord) (string, error) {
	id := uuid.NewString()

	item := make(map[string]any, len(record)+4)
	for k, v := range record {
		item[k] = v
	}
	item["pk"] = fmt.Sprintf("%s#%s", entityName, id)
	item["sk"] = SKRecord
	item["entity"] = entityName
	item["createdAt"] = c.now().UTC().Format(time.RFC3339)

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return "", fmt.Errorf("failed to marshal item: %w", err)
	}

	_, err = c.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return "", fmt.Errorf("record %s already exists: %w", id, err)
		}
		return "", fmt.Errorf("failed to put %s: %w", entityName, err)
	}

	c.logger.Debugf("Stored %s %s in %s", entityName, id, c.tableName)
	return id, nil
}
