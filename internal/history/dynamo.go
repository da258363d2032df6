package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB key layout. All entries of one history share a partition key
// (HISTORY#{name}); the sort key is ID#{id}.
const (
	pkPrefix = "HISTORY#"
	skPrefix = "ID#"

	// maxBatchWrite is the DynamoDB BatchWriteItem limit per call.
	maxBatchWrite = 25

	// maxUnprocessedRetries bounds resubmission of UnprocessedItems.
	maxUnprocessedRetries = 3
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoBackend.
type DynamoAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoBackend stores a history as items of a single-table DynamoDB design.
// Each item write is atomic; a Save touching many items is not.
type DynamoBackend struct {
	client    DynamoAPI
	tableName string
	name      string
}

// Compile-time interface check.
var _ Backend = (*DynamoBackend)(nil)

// NewDynamoBackend creates a backend for the history called name in tableName.
func NewDynamoBackend(client DynamoAPI, tableName, name string) *DynamoBackend {
	return &DynamoBackend{client: client, tableName: tableName, name: name}
}

// dynamoRecord is the attribute layout of one history item.
type dynamoRecord struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	ID     string `dynamodbav:"id"`
	SentAt string `dynamodbav:"sentAt,omitempty"`
}

func (b *DynamoBackend) pk() string {
	return pkPrefix + b.name
}

// Load queries every item in the history partition.
func (b *DynamoBackend) Load(ctx context.Context) ([]Entry, error) {
	items, err := b.query(ctx, nil)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		var rec dynamoRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal history item: %w", err)
		}
		e := Entry{ID: rec.ID}
		if e.ID == "" {
			e.ID = strings.TrimPrefix(rec.SK, skPrefix)
		}
		if rec.SentAt != "" {
			at, err := time.Parse(time.RFC3339Nano, rec.SentAt)
			if err != nil {
				return nil, fmt.Errorf("item %s: parse sentAt: %w", rec.SK, err)
			}
			e.SentAt = at
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Save puts every entry and deletes items for IDs no longer present.
func (b *DynamoBackend) Save(ctx context.Context, entries []Entry) error {
	existing, err := b.query(ctx, aws.String("PK, SK"))
	if err != nil {
		return err
	}

	keep := make(map[string]bool, len(entries))
	var requests []types.WriteRequest
	for _, e := range entries {
		rec := dynamoRecord{PK: b.pk(), SK: skPrefix + e.ID, ID: e.ID}
		if !e.SentAt.IsZero() {
			rec.SentAt = e.SentAt.UTC().Format(time.RFC3339Nano)
		}
		item, err := attributevalue.MarshalMap(rec)
		if err != nil {
			return fmt.Errorf("marshal history item %s: %w", e.ID, err)
		}
		keep[rec.SK] = true
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}

	for _, key := range existing {
		sk, ok := key["SK"].(*types.AttributeValueMemberS)
		if !ok || keep[sk.Value] {
			continue
		}
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{
				"PK": key["PK"],
				"SK": key["SK"],
			}},
		})
	}

	return b.batchWrite(ctx, requests)
}

// query returns all items in the history partition, following pagination.
func (b *DynamoBackend) query(ctx context.Context, projection *string) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              &b.tableName,
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: b.pk()},
		},
		ProjectionExpression: projection,
	}

	var all []map[string]types.AttributeValue
	for {
		result, err := b.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s: %w", b.pk(), err)
		}
		all = append(all, result.Items...)

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return all, nil
}

// batchWrite sends requests in chunks of maxBatchWrite, resubmitting
// UnprocessedItems a bounded number of times.
func (b *DynamoBackend) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	for i := 0; i < len(requests); i += maxBatchWrite {
		end := min(i+maxBatchWrite, len(requests))

		pending := map[string][]types.WriteRequest{b.tableName: requests[i:end]}
		for attempt := 0; len(pending[b.tableName]) > 0; attempt++ {
			if attempt > maxUnprocessedRetries {
				return fmt.Errorf("BatchWriteItem: %d items still unprocessed", len(pending[b.tableName]))
			}
			out, err := b.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("BatchWriteItem (%d items): %w", len(pending[b.tableName]), err)
			}
			pending = out.UnprocessedItems
			if pending == nil {
				break
			}
		}
	}
	return nil
}
