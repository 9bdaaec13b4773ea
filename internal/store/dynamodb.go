package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/handauncle/hubot-relay/internal/model"
)

const (
	attrUserKey   = "UserKey"
	attrEntries   = "Entries"
	attrUpdatedAt = "UpdatedAt"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// DynamoDBConfig configures the DynamoDB backend.
type DynamoDBConfig struct {
	Table  string
	Region string
	// Endpoint points at a local DynamoDB; static dummy credentials are
	// used when it is set.
	Endpoint string
}

// DynamoDB stores one item per user with the conversation as a JSON string.
type DynamoDB struct {
	client DynamoDBAPI
	table  string
}

// NewDynamoDB builds a client from the default AWS configuration chain and
// makes sure the table exists.
func NewDynamoDB(ctx context.Context, cfg DynamoDBConfig) (*DynamoDB, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint}, nil
		})
		opts = append(opts,
			config.WithEndpointResolverWithOptions(resolver),
			config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
				Value: aws.Credentials{AccessKeyID: "dummy", SecretAccessKey: "dummy", SessionToken: "dummy"},
			}),
		)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	d := NewDynamoDBFromClient(dynamodb.NewFromConfig(awsCfg), cfg.Table)
	if err := d.EnsureTable(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// NewDynamoDBFromClient wraps an existing client without touching the table.
func NewDynamoDBFromClient(client DynamoDBAPI, table string) *DynamoDB {
	return &DynamoDB{client: client, table: table}
}

// EnsureTable creates the conversations table when it does not exist.
func (d *DynamoDB) EnsureTable(ctx context.Context) error {
	_, err := d.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(d.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String(attrUserKey),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String(attrUserKey),
				KeyType:       types.KeyTypeHash,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("failed to create table %s: %w", d.table, err)
	}
	return nil
}

// Get implements Store.
func (d *DynamoDB) Get(ctx context.Context, userKey string) (model.Conversation, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			attrUserKey: &types.AttributeValueMemberS{Value: userKey},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation %s: %w", userKey, err)
	}
	if out.Item == nil {
		return model.Conversation{}, nil
	}

	entries, ok := out.Item[attrEntries].(*types.AttributeValueMemberS)
	if !ok {
		return model.Conversation{}, nil
	}
	return Decode([]byte(entries.Value))
}

// Put implements Store.
func (d *DynamoDB) Put(ctx context.Context, userKey string, conv model.Conversation) error {
	data, err := Encode(conv)
	if err != nil {
		return err
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item: map[string]types.AttributeValue{
			attrUserKey:   &types.AttributeValueMemberS{Value: userKey},
			attrEntries:   &types.AttributeValueMemberS{Value: string(data)},
			attrUpdatedAt: &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write conversation %s: %w", userKey, err)
	}
	return nil
}

// Keys implements Store.
func (d *DynamoDB) Keys(ctx context.Context) ([]string, error) {
	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName:            aws.String(d.table),
		ProjectionExpression: aws.String(attrUserKey),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversations: %w", err)
		}
		for _, item := range page.Items {
			if k, ok := item[attrUserKey].(*types.AttributeValueMemberS); ok {
				keys = append(keys, k.Value)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping implements Store.
func (d *DynamoDB) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.table),
	})
	return err
}

// Close implements Store.
func (d *DynamoDB) Close() error { return nil }
