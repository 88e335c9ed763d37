package records

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamoDB stubs the DynamoDB API with per-call functions
type fakeDynamoDB struct {
	getItem       func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	putItem       func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	deleteItem    func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	scan          func(*dynamodb.ScanInput) (*dynamodb.ScanOutput, error)
	describeTable func(*dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error)
	createTable   func(*dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error)
}

func (f *fakeDynamoDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return f.getItem(in)
}

func (f *fakeDynamoDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return f.putItem(in)
}

func (f *fakeDynamoDB) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return f.deleteItem(in)
}

func (f *fakeDynamoDB) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return f.scan(in)
}

func (f *fakeDynamoDB) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return f.describeTable(in)
}

func (f *fakeDynamoDB) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	return f.createTable(in)
}

func newTestDynamoDBStore(t *testing.T, client *fakeDynamoDB) *DynamoDBStore {
	t.Helper()
	store, err := NewDynamoDBStore(client, DynamoDBConfig{Table: "records"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestDynamoDBGetDecodesLegacyAttributes(t *testing.T) {
	client := &fakeDynamoDB{
		getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			if !aws.ToBool(in.ConsistentRead) {
				t.Error("expected a consistent read")
			}
			key := in.Key[partitionKey].(*types.AttributeValueMemberS).Value
			if key != "net1" {
				t.Errorf("expected key net1, got %s", key)
			}
			return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
				"vpc-name":   &types.AttributeValueMemberS{Value: "net1"},
				"vpc_id":     &types.AttributeValueMemberS{Value: "vpc-1"},
				"cidr_block": &types.AttributeValueMemberS{Value: "10.20.0.0/16"},
				"region":     &types.AttributeValueMemberS{Value: "us-east-1"},
				"subnets": &types.AttributeValueMemberL{Value: []types.AttributeValue{
					&types.AttributeValueMemberS{Value: "subnet-a"},
					&types.AttributeValueMemberS{Value: "subnet-b"},
				}},
				"status": &types.AttributeValueMemberS{Value: "ready"},
			}}, nil
		},
	}

	rec, err := newTestDynamoDBStore(t, client).Get(context.Background(), "net1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if rec.NetworkID != "vpc-1" || rec.AddressBlock != "10.20.0.0/16" || len(rec.Subdivisions) != 2 {
		t.Errorf("unexpected record %+v", rec)
	}
	if !rec.Ready() {
		t.Errorf("expected ready record")
	}
}

func TestDynamoDBGetNotFound(t *testing.T) {
	client := &fakeDynamoDB{
		getItem: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{}, nil
		},
	}

	_, err := newTestDynamoDBStore(t, client).Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDynamoDBClaimIsConditional(t *testing.T) {
	var captured *dynamodb.PutItemInput
	client := &fakeDynamoDB{
		putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			captured = in
			return &dynamodb.PutItemOutput{}, nil
		},
	}

	rec := pendingRecord("net1", "token-1", time.Minute)
	previous, err := newTestDynamoDBStore(t, client).Claim(context.Background(), rec)
	if err != nil {
		t.Fatalf("failed to claim: %v", err)
	}
	if previous != nil {
		t.Errorf("expected no previous record, got %+v", previous)
	}

	if captured.ConditionExpression == nil {
		t.Fatal("expected a condition expression on claim")
	}
	if captured.ExpressionAttributeNames["#name"] != partitionKey {
		t.Errorf("expected condition on %s, got %v", partitionKey, captured.ExpressionAttributeNames)
	}
	if captured.ReturnValues != types.ReturnValueAllOld {
		t.Errorf("expected ALL_OLD return values, got %s", captured.ReturnValues)
	}
	token := captured.Item["claim_token"].(*types.AttributeValueMemberS).Value
	if token != "token-1" {
		t.Errorf("expected claim token token-1, got %s", token)
	}
}

func TestDynamoDBClaimConflict(t *testing.T) {
	client := &fakeDynamoDB{
		putItem: func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("held")}
		},
	}

	_, err := newTestDynamoDBStore(t, client).Claim(context.Background(), pendingRecord("net1", "token-1", time.Minute))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestDynamoDBClaimReturnsReplacedRecord(t *testing.T) {
	old := &ResourceRecord{Name: "net1", NetworkID: "vpc-old", Status: StatusOrphaned, ClaimToken: "token-0"}
	attrs, err := attributevalue.MarshalMap(old)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	client := &fakeDynamoDB{
		putItem: func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			return &dynamodb.PutItemOutput{Attributes: attrs}, nil
		},
	}

	previous, err := newTestDynamoDBStore(t, client).Claim(context.Background(), pendingRecord("net1", "token-1", time.Minute))
	if err != nil {
		t.Fatalf("failed to claim: %v", err)
	}
	if previous == nil || previous.NetworkID != "vpc-old" || previous.Status != StatusOrphaned {
		t.Errorf("unexpected previous record %+v", previous)
	}
}

func TestDynamoDBUpdateAndReleaseClaimLost(t *testing.T) {
	conditionFailed := &types.ConditionalCheckFailedException{Message: aws.String("token mismatch")}
	client := &fakeDynamoDB{
		putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			if in.ExpressionAttributeValues[":token"].(*types.AttributeValueMemberS).Value != "token-1" {
				t.Errorf("expected condition on caller token")
			}
			return nil, conditionFailed
		},
		deleteItem: func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
			return nil, conditionFailed
		},
	}
	store := newTestDynamoDBStore(t, client)

	if err := store.Update(context.Background(), pendingRecord("net1", "token-1", time.Minute)); !errors.Is(err, ErrClaimLost) {
		t.Errorf("expected ErrClaimLost from Update, got %v", err)
	}
	if err := store.Release(context.Background(), "net1", "token-1"); !errors.Is(err, ErrClaimLost) {
		t.Errorf("expected ErrClaimLost from Release, got %v", err)
	}
}

func TestDynamoDBScanFollowsLastEvaluatedKey(t *testing.T) {
	client := &fakeDynamoDB{
		scan: func(in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
			if in.ExclusiveStartKey == nil {
				item, _ := attributevalue.MarshalMap(&ResourceRecord{Name: "a", Status: StatusReady})
				return &dynamodb.ScanOutput{
					Items:            []map[string]types.AttributeValue{item},
					LastEvaluatedKey: keyOf("a"),
				}, nil
			}
			if got := in.ExclusiveStartKey[partitionKey].(*types.AttributeValueMemberS).Value; got != "a" {
				t.Errorf("expected start key a, got %s", got)
			}
			item, _ := attributevalue.MarshalMap(&ResourceRecord{Name: "b", Status: StatusReady})
			return &dynamodb.ScanOutput{Items: []map[string]types.AttributeValue{item}}, nil
		},
	}
	store := newTestDynamoDBStore(t, client)

	first, err := store.Scan(context.Background(), ScanOptions{Limit: 1})
	if err != nil {
		t.Fatalf("failed to scan: %v", err)
	}
	if first.NextCursor != "a" || len(first.Records) != 1 {
		t.Fatalf("unexpected first page %+v", first)
	}

	second, err := store.Scan(context.Background(), ScanOptions{Limit: 1, Cursor: first.NextCursor})
	if err != nil {
		t.Fatalf("failed to scan: %v", err)
	}
	if second.NextCursor != "" || second.Records[0].Name != "b" {
		t.Fatalf("unexpected second page %+v", second)
	}
}

func TestDynamoDBMigrateRequiresTable(t *testing.T) {
	client := &fakeDynamoDB{
		describeTable: func(*dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
			return nil, &types.ResourceNotFoundException{Message: aws.String("missing")}
		},
	}

	if err := newTestDynamoDBStore(t, client).Migrate(context.Background()); err == nil {
		t.Fatal("expected error when table is missing and creation is disabled")
	}
}
