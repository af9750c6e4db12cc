package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	dynamoColumnName      = "table_name"
	dynamoColumnVersion   = "version"
	dynamoColumnMetadata  = "metadata"
	dynamoColumnUpdatedAt = "updated_at"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type dynamoItem struct {
	Name      string    `dynamodbav:"table_name"`
	Version   int64     `dynamodbav:"version"`
	Metadata  string    `dynamodbav:"metadata"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

func dynamoKey(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoColumnName: &types.AttributeValueMemberS{Value: name},
	}
}

// DynamoStore keeps one item per table in a DynamoDB table. Swap is an
// UpdateItem conditioned on the version attribute.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

// NewDynamoStore returns a store over tableName, creating the DynamoDB table
// when it does not exist yet.
func NewDynamoStore(ctx context.Context, client DynamoAPI, tableName string) (*DynamoStore, error) {
	s := &DynamoStore{client: client, tableName: tableName}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DynamoStore) ensureTable(ctx context.Context) error {
	res, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err == nil {
		if res.Table != nil && res.Table.TableStatus != types.TableStatusActive {
			return fmt.Errorf("DynamoDB table %s is %s", s.tableName, res.Table.TableStatus)
		}
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("describing DynamoDB table %s: %w", s.tableName, err)
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.tableName),
		AttributeDefinitions: []types.AttributeDefinition{{
			AttributeName: aws.String(dynamoColumnName),
			AttributeType: types.ScalarAttributeTypeS,
		}},
		KeySchema: []types.KeySchemaElement{{
			AttributeName: aws.String(dynamoColumnName),
			KeyType:       types.KeyTypeHash,
		}},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("creating DynamoDB table %s: %w", s.tableName, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	}, 30*time.Second); err != nil {
		return fmt.Errorf("waiting for DynamoDB table %s: %w", s.tableName, err)
	}
	return nil
}

func (s *DynamoStore) Load(ctx context.Context, name string) ([]byte, int64, error) {
	res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            dynamoKey(name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("getting %s: %w", name, err)
	}
	if res.Item == nil {
		return nil, 0, fmt.Errorf("%s: %w", name, ErrNoSuchTable)
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(res.Item, &item); err != nil {
		return nil, 0, fmt.Errorf("unmarshaling %s: %w", name, err)
	}
	return []byte(item.Metadata), item.Version, nil
}

func (s *DynamoStore) Create(ctx context.Context, name string, doc []byte) error {
	item, err := attributevalue.MarshalMap(dynamoItem{
		Name:      name,
		Version:   1,
		Metadata:  string(doc),
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}

	expr, err := expression.NewBuilder().WithCondition(
		expression.AttributeNotExists(expression.Name(dynamoColumnName)),
	).Build()
	if err != nil {
		return fmt.Errorf("building expression: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.tableName),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%s: %w", name, ErrTableExists)
		}
		return fmt.Errorf("putting %s: %w", name, err)
	}
	return nil
}

func (s *DynamoStore) Swap(ctx context.Context, name string, expected int64, doc []byte) error {
	expr, err := expression.NewBuilder().WithCondition(
		expression.And(
			expression.AttributeExists(expression.Name(dynamoColumnName)),
			expression.Equal(expression.Name(dynamoColumnVersion), expression.Value(expected)),
		),
	).WithUpdate(
		expression.Set(expression.Name(dynamoColumnMetadata), expression.Value(string(doc))).
			Set(expression.Name(dynamoColumnVersion), expression.Value(expected+1)).
			Set(expression.Name(dynamoColumnUpdatedAt), expression.Value(time.Now())),
	).Build()
	if err != nil {
		return fmt.Errorf("building expression: %w", err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       dynamoKey(name),
		ConditionExpression:       expr.Condition(),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	// The old item tells a missing table from a moved version.
	input.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	_, err = s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return fmt.Errorf("%s: %w", name, ErrNoSuchTable)
			}
			return fmt.Errorf("%s is not at version %d: %w", name, expected, ErrVersionMismatch)
		}
		return fmt.Errorf("updating %s: %w", name, err)
	}
	return nil
}

func (s *DynamoStore) List(ctx context.Context) ([]string, error) {
	expr, err := expression.NewBuilder().WithProjection(
		expression.NamesList(expression.Name(dynamoColumnName)),
	).Build()
	if err != nil {
		return nil, fmt.Errorf("building expression: %w", err)
	}

	var names []string
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(s.tableName),
		ProjectionExpression:     expr.Projection(),
		ExpressionAttributeNames: expr.Names(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning tables: %w", err)
		}
		var items []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshaling tables: %w", err)
		}
		for _, item := range items {
			names = append(names, item.Name)
		}
	}
	return names, nil
}
