package state

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const checkpointStep = "checkpoint"

type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoLedger handles DynamoDB checkpoint operations. Rows are keyed by
// (botId, step) so several bots can share one table.
type DynamoLedger struct {
	client    dynamoAPI
	tableName string
	botID     string
}

// NewDynamoLedger creates a ledger using the default AWS credential chain
func NewDynamoLedger(ctx context.Context, tableName, botID string) (*DynamoLedger, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &DynamoLedger{
		client:    dynamodb.NewFromConfig(cfg),
		tableName: tableName,
		botID:     botID,
	}, nil
}

// Load retrieves the checkpoint for this bot
func (l *DynamoLedger) Load(ctx context.Context) (*Checkpoint, error) {
	result, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"botId": &types.AttributeValueMemberS{Value: l.botID},
			"step":  &types.AttributeValueMemberS{Value: checkpointStep},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var cp Checkpoint
	if err := attributevalue.UnmarshalMap(result.Item, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	return &cp, nil
}

// Save overwrites the checkpoint for this bot
func (l *DynamoLedger) Save(ctx context.Context, cp *Checkpoint) error {
	cp.BotID = l.botID
	cp.UpdatedAt = time.Now().UTC()

	item, err := attributevalue.MarshalMap(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	item["step"] = &types.AttributeValueMemberS{Value: checkpointStep}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return nil
}
