package catalog

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDynamo struct {
	mock.Mock
}

func (m *mockDynamo) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.DescribeTableOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.CreateTableOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.ScanOutput)
	return out, args.Error(1)
}

func activeTable() *dynamodb.DescribeTableOutput {
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableStatus: types.TableStatusActive}}
}

func newMockedDynamoStore(t *testing.T) (*DynamoStore, *mockDynamo) {
	t.Helper()
	m := &mockDynamo{}
	m.On("DescribeTable", mock.Anything, mock.Anything).Return(activeTable(), nil).Once()
	s, err := NewDynamoStore(context.Background(), m, "iceberg_tables")
	require.NoError(t, err)
	return s, m
}

func TestDynamoStoreLoad(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, m := newMockedDynamoStore(t)

	m.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		name := in.Key[dynamoColumnName].(*types.AttributeValueMemberS).Value
		return name == "db.events" && aws.ToBool(in.ConsistentRead)
	})).Return(&dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		dynamoColumnName:     &types.AttributeValueMemberS{Value: "db.events"},
		dynamoColumnVersion:  &types.AttributeValueMemberN{Value: "3"},
		dynamoColumnMetadata: &types.AttributeValueMemberS{Value: `{"v":3}`},
	}}, nil).Once()
	m.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil).Once()

	doc, version, err := s.Load(ctx, "db.events")
	req.NoError(err)
	req.Equal(int64(3), version)
	req.Equal(`{"v":3}`, string(doc))

	_, _, err = s.Load(ctx, "db.missing")
	req.ErrorIs(err, ErrNoSuchTable)
	m.AssertExpectations(t)
}

func TestDynamoStoreCreateConflict(t *testing.T) {
	s, m := newMockedDynamoStore(t)
	m.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return in.ConditionExpression != nil
	})).Return(nil, &types.ConditionalCheckFailedException{}).Once()

	err := s.Create(context.Background(), "db.events", []byte(`{}`))
	require.ErrorIs(t, err, ErrTableExists)
}

func TestDynamoStoreSwap(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, m := newMockedDynamoStore(t)

	m.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		for _, v := range in.ExpressionAttributeValues {
			if n, ok := v.(*types.AttributeValueMemberN); ok && n.Value == "4" {
				return true
			}
		}
		return false
	})).Return(&dynamodb.UpdateItemOutput{}, nil).Once()
	m.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return in.Key[dynamoColumnName].(*types.AttributeValueMemberS).Value == "db.events" &&
			in.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld
	})).Return(nil, &types.ConditionalCheckFailedException{Item: map[string]types.AttributeValue{
		dynamoColumnName:    &types.AttributeValueMemberS{Value: "db.events"},
		dynamoColumnVersion: &types.AttributeValueMemberN{Value: "4"},
	}}).Once()
	m.On("UpdateItem", mock.Anything, mock.Anything).
		Return(nil, &types.ConditionalCheckFailedException{}).Once()

	req.NoError(s.Swap(ctx, "db.events", 3, []byte(`{}`)))

	err := s.Swap(ctx, "db.events", 1, []byte(`{}`))
	req.ErrorIs(err, ErrVersionMismatch)
	req.NotErrorIs(err, ErrNoSuchTable)

	err = s.Swap(ctx, "db.missing", 1, []byte(`{}`))
	req.ErrorIs(err, ErrNoSuchTable)
	req.NotErrorIs(err, ErrVersionMismatch)
	m.AssertExpectations(t)
}

func TestDynamoStoreList(t *testing.T) {
	s, m := newMockedDynamoStore(t)
	item := func(name string) map[string]types.AttributeValue {
		return map[string]types.AttributeValue{dynamoColumnName: &types.AttributeValueMemberS{Value: name}}
	}
	m.On("Scan", mock.Anything, mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		return in.ExclusiveStartKey == nil
	})).Return(&dynamodb.ScanOutput{
		Items:            []map[string]types.AttributeValue{item("a")},
		LastEvaluatedKey: item("a"),
	}, nil).Once()
	m.On("Scan", mock.Anything, mock.Anything).Return(&dynamodb.ScanOutput{
		Items: []map[string]types.AttributeValue{item("b")},
	}, nil).Once()

	names, err := s.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, names)
}

func TestNewDynamoStoreCreatesMissingTable(t *testing.T) {
	m := &mockDynamo{}
	m.On("DescribeTable", mock.Anything, mock.Anything).
		Return(nil, &types.ResourceNotFoundException{}).Once()
	m.On("CreateTable", mock.Anything, mock.MatchedBy(func(in *dynamodb.CreateTableInput) bool {
		return aws.ToString(in.TableName) == "iceberg_tables"
	})).Return(&dynamodb.CreateTableOutput{}, nil).Once()
	m.On("DescribeTable", mock.Anything, mock.Anything).Return(activeTable(), nil)

	_, err := NewDynamoStore(context.Background(), m, "iceberg_tables")
	require.NoError(t, err)
	m.AssertExpectations(t)
}
