package records

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
)

// partitionKey is the attribute name records are keyed by. It matches the
// layout of tables written by earlier deployments.
const partitionKey = "vpc-name"

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoDBStore.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// DynamoDBConfig holds DynamoDB store configuration
type DynamoDBConfig struct {
	Table    string `yaml:"table" env:"TABLE" validate:"required"`
	Region   string `yaml:"region" env:"REGION"`
	Endpoint string `yaml:"endpoint" env:"ENDPOINT" validate:"omitempty,url"`

	// CreateTable lets Migrate create the table when it does not exist.
	CreateTable bool `yaml:"create_table" env:"CREATE_TABLE"`

	// TableWaitTimeout bounds how long Migrate waits for a new table.
	TableWaitTimeout time.Duration `yaml:"table_wait_timeout" env:"TABLE_WAIT_TIMEOUT"`
}

// DynamoDBStore implements the Store interface on a DynamoDB table using
// conditional writes for claims.
type DynamoDBStore struct {
	client DynamoDBAPI
	cfg    DynamoDBConfig
	now    func() time.Time
}

// NewDynamoDBStore creates a store on top of an already constructed client.
func NewDynamoDBStore(client DynamoDBAPI, cfg DynamoDBConfig) (*DynamoDBStore, error) {
	if client == nil {
		return nil, fmt.Errorf("dynamodb client is required")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table is required")
	}
	if cfg.TableWaitTimeout == 0 {
		cfg.TableWaitTimeout = 2 * time.Minute
	}

	return &DynamoDBStore{
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

// Init is a no-op; the client is constructed by the caller.
func (s *DynamoDBStore) Init(_ context.Context) error {
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *DynamoDBStore) Close() error {
	return nil
}

// Migrate verifies the table exists, creating it when configured to.
func (s *DynamoDBStore) Migrate(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.cfg.Table),
	})
	if err == nil {
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe table %s: %w", s.cfg.Table, err)
	}
	if !s.cfg.CreateTable {
		return fmt.Errorf("table %s does not exist: %w", s.cfg.Table, err)
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.cfg.Table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{{
			AttributeName: aws.String(partitionKey),
			AttributeType: types.ScalarAttributeTypeS,
		}},
		KeySchema: []types.KeySchemaElement{{
			AttributeName: aws.String(partitionKey),
			KeyType:       types.KeyTypeHash,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.cfg.Table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.cfg.Table),
	}, s.cfg.TableWaitTimeout); err != nil {
		return fmt.Errorf("failed waiting for table %s: %w", s.cfg.Table, err)
	}

	return nil
}

func keyOf(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		partitionKey: &types.AttributeValueMemberS{Value: name},
	}
}

// Get retrieves a record by name with a strongly consistent read
func (s *DynamoDBStore) Get(ctx context.Context, name string) (*ResourceRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.Table),
		Key:            keyOf(name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	var rec ResourceRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", name, err)
	}
	return &rec, nil
}

// Claim writes a pending record when the key is absent, orphaned, or held by
// an expired pending claim.
func (s *DynamoDBStore) Claim(ctx context.Context, rec *ResourceRecord) (*ResourceRecord, error) {
	now := s.now().UTC()
	if rec.SchemaVersion == 0 {
		rec.SchemaVersion = SchemaVersion
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode claim: %w", err)
	}

	out, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.cfg.Table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#name) OR #status = :orphaned OR (#status = :pending AND #expires < :now)"),
		ExpressionAttributeNames: map[string]string{
			"#name":    partitionKey,
			"#status":  "status",
			"#expires": "claim_expires_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":orphaned": &types.AttributeValueMemberS{Value: string(StatusOrphaned)},
			":pending":  &types.AttributeValueMemberS{Value: string(StatusPending)},
			":now":      &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		var failed *types.ConditionalCheckFailedException
		if errors.As(err, &failed) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, rec.Name)
		}
		return nil, fmt.Errorf("failed to write claim: %w", err)
	}

	if len(out.Attributes) == 0 {
		return nil, nil
	}

	var previous ResourceRecord
	if err := attributevalue.UnmarshalMap(out.Attributes, &previous); err != nil {
		return nil, fmt.Errorf("failed to decode replaced record %s: %w", rec.Name, err)
	}
	return &previous, nil
}

// Update overwrites a record held by the caller's claim token
func (s *DynamoDBStore) Update(ctx context.Context, rec *ResourceRecord) error {
	rec.UpdatedAt = s.now().UTC()

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.cfg.Table),
		Item:                item,
		ConditionExpression: aws.String("#token = :token"),
		ExpressionAttributeNames: map[string]string{
			"#token": "claim_token",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token": &types.AttributeValueMemberS{Value: rec.ClaimToken},
		},
	})
	if err != nil {
		var failed *types.ConditionalCheckFailedException
		if errors.As(err, &failed) {
			return fmt.Errorf("%w: %s", ErrClaimLost, rec.Name)
		}
		return fmt.Errorf("failed to update record: %w", err)
	}

	return nil
}

// Release deletes a record still held by claimToken
func (s *DynamoDBStore) Release(ctx context.Context, name, claimToken string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.cfg.Table),
		Key:                 keyOf(name),
		ConditionExpression: aws.String("#token = :token"),
		ExpressionAttributeNames: map[string]string{
			"#token": "claim_token",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token": &types.AttributeValueMemberS{Value: claimToken},
		},
	})
	if err != nil {
		var failed *types.ConditionalCheckFailedException
		if errors.As(err, &failed) {
			return fmt.Errorf("%w: %s", ErrClaimLost, name)
		}
		return fmt.Errorf("failed to release record: %w", err)
	}

	return nil
}

// Scan returns one page of records. DynamoDB bounds every scan call by item
// count and by 1 MB of data, so callers must follow NextCursor.
func (s *DynamoDBStore) Scan(ctx context.Context, opts ScanOptions) (*ScanPage, error) {
	in := &dynamodb.ScanInput{
		TableName:      aws.String(s.cfg.Table),
		ConsistentRead: aws.Bool(true),
	}
	if opts.Limit > 0 {
		in.Limit = aws.Int32(int32(opts.Limit))
	}
	if opts.Cursor != "" {
		in.ExclusiveStartKey = keyOf(opts.Cursor)
	}

	out, err := s.client.Scan(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}

	page := &ScanPage{Records: make([]*ResourceRecord, 0, len(out.Items))}
	for _, item := range out.Items {
		var rec ResourceRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		page.Records = append(page.Records, &rec)
	}

	if key, ok := out.LastEvaluatedKey[partitionKey].(*types.AttributeValueMemberS); ok {
		page.NextCursor = key.Value
	}

	return page, nil
}

// HealthCheck verifies the table is reachable
func (s *DynamoDBStore) HealthCheck(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.cfg.Table),
	})
	return err
}
