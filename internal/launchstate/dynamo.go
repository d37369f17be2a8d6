package launchstate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps launch state in a DynamoDB table partitioned on "key".
// Take is DeleteItem with ReturnValues=ALL_OLD, so the read and the removal are
// a single conditional write on the item. Expiry of abandoned states is left to
// the table's TTL setting on the "ttl" attribute.
type DynamoStore struct {
	Client DynamoAPI
	Table  string

	// Now overrides the clock (tests).
	Now func() time.Time
}

func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{Client: client, Table: table}
}

func (s *DynamoStore) Put(ctx context.Context, st LaunchState, ttl time.Duration) error {
	st, err := prepare(st, ttl, nowOr(s.Now))
	if err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(st)
	if err != nil {
		return fmt.Errorf("launchstate: encode: %w", err)
	}
	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.Table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{
			"#k": "key",
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("launchstate: put: %w", err)
	}
	return nil
}

func (s *DynamoStore) Take(ctx context.Context, state string) (LaunchState, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		return LaunchState{}, ErrNotFound
	}
	out, err := s.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.Table),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: state},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return LaunchState{}, fmt.Errorf("launchstate: take: %w", err)
	}
	if len(out.Attributes) == 0 {
		return LaunchState{}, ErrNotFound
	}
	var st LaunchState
	if err := attributevalue.UnmarshalMap(out.Attributes, &st); err != nil {
		return LaunchState{}, fmt.Errorf("launchstate: decode: %w", err)
	}
	st.CreatedAt, st.ExpiresAt = st.CreatedAt.UTC(), st.ExpiresAt.UTC()
	// TTL deletion in DynamoDB is lazy; an expired item may still be returned.
	if st.Expired(nowOr(s.Now)) {
		return LaunchState{}, ErrNotFound
	}
	return st, nil
}
