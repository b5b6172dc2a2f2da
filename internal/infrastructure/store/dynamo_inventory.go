package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/example/curio-shop/internal/domain/inventory"
)

// DynamoInventoryStore implements inventory.Store on DynamoDB. The
// compare-and-set contract maps to a conditional UpdateItem: the
// ConditionExpression carries the expected status (and token), and a
// ConditionalCheckFailedException means the write lost the race.
//
// Table layout: partition key "id"; GSI "item_key-index" on item_key for
// external-key lookup; GSI "status-index" on (status, reserved_until) for
// the expiry sweep. reserved_until is stored as epoch milliseconds (a
// number attribute) so the range condition sorts chronologically;
// RFC3339Nano strings do not, because the format trims trailing zeros
// ("…00.5Z" orders before "…00Z").
type DynamoInventoryStore struct {
	client    *dynamodb.Client
	tableName string
}

type dynamoItem struct {
	ID            string   `dynamodbav:"id"`
	ItemKey       string   `dynamodbav:"item_key"`
	Name          string   `dynamodbav:"name"`
	Description   string   `dynamodbav:"description"`
	Price         int      `dynamodbav:"price"`
	Category      string   `dynamodbav:"category"`
	Images        []string `dynamodbav:"images,omitempty"`
	Status        string   `dynamodbav:"status"`
	HolderID      string   `dynamodbav:"holder_id,omitempty"`
	Token         string   `dynamodbav:"reservation_token,omitempty"`
	ReservedUntil int64    `dynamodbav:"reserved_until,omitempty"`
	CreatedAt     string   `dynamodbav:"created_at"`
	UpdatedAt     string   `dynamodbav:"updated_at"`
}

func NewDynamoInventoryStore(client *dynamodb.Client, tableName string) *DynamoInventoryStore {
	return &DynamoInventoryStore{client: client, tableName: tableName}
}

// FindItem resolves either the external item key or the internal id. The id
// lookup is a GetItem; the key lookup goes through the item_key GSI.
func (s *DynamoInventoryStore) FindItem(ctx context.Context, key string) (*inventory.Record, bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get item: %w", err)
	}
	if result.Item != nil {
		rec, err := unmarshalItem(result.Item)
		if err != nil {
			return nil, false, err
		}
		return rec, true, nil
	}

	query, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String("item_key-index"),
		KeyConditionExpression: aws.String("item_key = :key"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":key": &types.AttributeValueMemberS{Value: key},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to query item key: %w", err)
	}
	if len(query.Items) == 0 {
		return nil, false, nil
	}
	rec, err := unmarshalItem(query.Items[0])
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *DynamoInventoryStore) InsertItem(ctx context.Context, rec *inventory.Record) error {
	av, err := attributevalue.MarshalMap(marshalItem(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return inventory.ErrItemExists
	}
	return err
}

func (s *DynamoInventoryStore) ListItems(ctx context.Context, category string) ([]inventory.Record, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(s.tableName)}
	if category != "" {
		input.FilterExpression = aws.String("category = :cat")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":cat": &types.AttributeValueMemberS{Value: category},
		}
	}
	result, err := s.client.Scan(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to scan items: %w", err)
	}
	return unmarshalItems(result.Items)
}

// CompareAndSetState applies update only if the item still carries the
// expected status and, when expected, the token.
func (s *DynamoInventoryStore) CompareAndSetState(ctx context.Context, id string, expect inventory.Expectation, update inventory.Update) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	updateExpr := "SET #status = :status, updated_at = :now"
	condExpr := "#status = :expect_status"
	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{
		":status":        &types.AttributeValueMemberS{Value: string(update.Status)},
		":now":           &types.AttributeValueMemberS{Value: now},
		":expect_status": &types.AttributeValueMemberS{Value: string(expect.Status)},
	}
	if expect.Token != "" {
		condExpr += " AND reservation_token = :expect_token"
		values[":expect_token"] = &types.AttributeValueMemberS{Value: expect.Token}
	}
	if update.Token != "" {
		updateExpr += ", holder_id = :holder, reservation_token = :token, reserved_until = :until"
		values[":holder"] = &types.AttributeValueMemberS{Value: update.HolderID}
		values[":token"] = &types.AttributeValueMemberS{Value: update.Token}
		values[":until"] = &types.AttributeValueMemberN{Value: encodeDeadline(*update.Deadline)}
	} else {
		updateExpr += " REMOVE holder_id, reservation_token, reserved_until"
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:          aws.String(updateExpr),
		ConditionExpression:       aws.String(condExpr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update item: %w", err)
	}
	return true, nil
}

func (s *DynamoInventoryStore) ListExpiredReservations(ctx context.Context, now time.Time) ([]inventory.Record, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String("status-index"),
		KeyConditionExpression: aws.String("#status = :status AND reserved_until <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(inventory.StatusReserved)},
			":now":    &types.AttributeValueMemberN{Value: encodeDeadline(now)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query expired reservations: %w", err)
	}
	return unmarshalItems(result.Items)
}

func marshalItem(rec *inventory.Record) dynamoItem {
	item := dynamoItem{
		ID:          rec.ID,
		ItemKey:     rec.ItemKey,
		Name:        rec.Name,
		Description: rec.Description,
		Price:       rec.Price,
		Category:    rec.Category,
		Images:      rec.Images,
		Status:      string(rec.Status),
		HolderID:    rec.HolderID,
		Token:       rec.Token,
		CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:   rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if rec.Deadline != nil {
		item.ReservedUntil = rec.Deadline.UnixMilli()
	}
	return item
}

// encodeDeadline renders a reserved_until value for a DynamoDB number
// attribute.
func encodeDeadline(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func unmarshalItems(items []map[string]types.AttributeValue) ([]inventory.Record, error) {
	records := make([]inventory.Record, 0, len(items))
	for _, item := range items {
		rec, err := unmarshalItem(item)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func unmarshalItem(item map[string]types.AttributeValue) (*inventory.Record, error) {
	var di dynamoItem
	if err := attributevalue.UnmarshalMap(item, &di); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, di.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, di.UpdatedAt)
	rec := &inventory.Record{
		ID:          di.ID,
		ItemKey:     di.ItemKey,
		Name:        di.Name,
		Description: di.Description,
		Price:       di.Price,
		Category:    di.Category,
		Images:      di.Images,
		Status:      inventory.Status(di.Status),
		HolderID:    di.HolderID,
		Token:       di.Token,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
	if di.ReservedUntil != 0 {
		deadline := time.UnixMilli(di.ReservedUntil).UTC()
		rec.Deadline = &deadline
	}
	return rec, nil
}
