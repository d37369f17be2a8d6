package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore keeps deployments in a DynamoDB table partitioned on "deployment_id".
type DynamoStore struct {
	Client DynamoAPI
	Table  string
}

func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{Client: client, Table: table}
}

func (s *DynamoStore) key(deploymentID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"deployment_id": &types.AttributeValueMemberS{Value: deploymentID},
	}
}

func (s *DynamoStore) Lookup(ctx context.Context, deploymentID string) (DeploymentConfig, error) {
	out, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.Table),
		Key:            s.key(deploymentID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return DeploymentConfig{}, fmt.Errorf("registry: lookup %q: %w", deploymentID, err)
	}
	if len(out.Item) == 0 {
		return DeploymentConfig{}, ErrNotFound
	}
	var d DeploymentConfig
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return DeploymentConfig{}, fmt.Errorf("registry: decode %q: %w", deploymentID, err)
	}
	return d, nil
}

func (s *DynamoStore) Upsert(ctx context.Context, d DeploymentConfig) error {
	if err := d.Validate(); err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(d)
	if err != nil {
		return fmt.Errorf("registry: encode %q: %w", d.DeploymentID, err)
	}
	if _, err := s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.Table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("registry: upsert %q: %w", d.DeploymentID, err)
	}
	return nil
}

func (s *DynamoStore) List(ctx context.Context) ([]DeploymentConfig, error) {
	var (
		out   []DeploymentConfig
		start map[string]types.AttributeValue
	)
	for {
		page, err := s.Client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.Table),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("registry: list: %w", err)
		}
		var items []DeploymentConfig
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("registry: list: %w", err)
		}
		out = append(out, items...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		start = page.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeploymentID < out[j].DeploymentID })
	return out, nil
}

func (s *DynamoStore) Delete(ctx context.Context, deploymentID string) error {
	_, err := s.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.Table),
		Key:                 s.key(deploymentID),
		ConditionExpression: aws.String("attribute_exists(deployment_id)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("registry: delete %q: %w", deploymentID, err)
	}
	return nil
}
