package dynamo

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"field-change-log/internal/models"
)

type mockDynamoDBClient struct {
	putItemFunc func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	input       *dynamodb.PutItemInput
}

func (m *mockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.input = params
	if m.putItemFunc != nil {
		return m.putItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func newTestClient(ddb DynamoDBClient) *Client {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c := NewWithClient(ddb, "field-changes", logger)
	c.now = func() time.Time { return time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC) }
	return c
}

func TestClient_CreateRecord(t *testing.T) {
	t.Run("Should put the record with a conditional key", func(t *testing.T) {
		mock := &mockDynamoDBClient{}
		client := newTestClient(mock)

		id, err := client.CreateRecord(context.Background(), "ams_fieldchangelog", models.LogRecord{
			models.FieldNewValue:       "ID: 1, Name: Open, Type: case",
			models.FieldSourceRecordID: "abc",
		})

		require.NoError(t, err)
		require.NotNil(t, mock.input)
		assert.Equal(t, "field-changes", *mock.input.TableName)
		assert.Equal(t, "attribute_not_exists(pk)", *mock.input.ConditionExpression)

		var item map[string]string
		require.NoError(t, attributevalue.UnmarshalMap(mock.input.Item, &item))
		assert.Equal(t, "ams_fieldchangelog#"+id, item["pk"])
		assert.Equal(t, SKRecord, item["sk"])
		assert.Equal(t, "2026-10-17T09:30:00Z", item["createdAt"])
		assert.Equal(t, "ID: 1, Name: Open, Type: case", item["ams_newvalue"])
		assert.Equal(t, "abc", item["ams_sourcerecordid"])
	})

	t.Run("Should report conditional check failures", func(t *testing.T) {
		client := newTestClient(&mockDynamoDBClient{
			putItemFunc: func(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
				return nil, &ddbtypes.ConditionalCheckFailedException{}
			},
		})

		_, err := client.CreateRecord(context.Background(), "ams_fieldchangelog", models.LogRecord{})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("Should wrap other errors", func(t *testing.T) {
		boom := errors.New("throttled")
		client := newTestClient(&mockDynamoDBClient{
			putItemFunc: func(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
				return nil, boom
			},
		})

		_, err := client.CreateRecord(context.Background(), "ams_fieldchangelog", models.LogRecord{})

		assert.ErrorIs(t, err, boom)
	})
}
