package dynamostore

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"

	"limitpaste/internal/id"
	"limitpaste/internal/storage"
)

const (
	attrID         = "id"
	attrContent    = "content"
	attrCreatedAt  = "created_at"
	attrExpiresAt  = "expires_at"
	attrMaxViews   = "max_views"
	attrViewCount  = "view_count"
	attrPassphrase = "passphrase_hash"
)

// Options selects the table and, for local development, an endpoint override.
type Options struct {
	Table    string
	Endpoint string
	Region   string
}

// Store implements storage.Store on a DynamoDB table keyed by "id".
type Store struct {
	client *dynamodb.Client
	table  string
	ids    *id.Generator
}

// Open loads the default AWS configuration chain and builds a client.
func Open(ctx context.Context, o Options) (*Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if o.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(o.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := dynamodb.NewFromConfig(cfg, func(opts *dynamodb.Options) {
		if o.Endpoint != "" {
			opts.BaseEndpoint = aws.String(o.Endpoint)
		}
	})
	return &Store{client: client, table: o.Table, ids: id.New(0)}, nil
}

// EnsureTable creates the table with on-demand billing if it does not exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err == nil {
		return nil
	}
	var missing *types.ResourceNotFoundException
	if !errors.As(err, &missing) {
		return errors.Wrap(err, "describe table")
	}
	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrID), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrID), KeyType: types.KeyTypeHash},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create table")
	}
	waiter := dynamodb.NewTableExistsWaiter(s.client)
	return errors.Wrap(
		waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, time.Minute),
		"wait for table",
	)
}

// Create puts a new item, refusing to overwrite an existing id.
func (s *Store) Create(ctx context.Context, n storage.NewPaste) (*storage.Paste, error) {
	var out *storage.Paste
	_, err := s.ids.Insert(ctx, func(pid string) (bool, error) {
		paste := n.Build(pid)
		_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(s.table),
			Item:                     encode(paste),
			ConditionExpression:      aws.String("attribute_not_exists(#id)"),
			ExpressionAttributeNames: map[string]string{"#id": attrID},
		})
		if err != nil {
			var taken *types.ConditionalCheckFailedException
			if errors.As(err, &taken) {
				return false, nil
			}
			return false, errors.Wrap(err, "put paste")
		}
		out = paste
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get performs a strongly consistent read.
func (s *Store) Get(ctx context.Context, pid string) (*storage.Paste, error) {
	if !s.ids.Valid(pid) {
		return nil, storage.ErrNotFound
	}
	res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(pid),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "get paste")
	}
	if len(res.Item) == 0 {
		return nil, storage.ErrNotFound
	}
	return decode(res.Item)
}

// ConsumeView increments view_count under a condition expression; DynamoDB
// evaluates the condition and applies the update atomically.
func (s *Store) ConsumeView(ctx context.Context, pid string, now time.Time) (*storage.Paste, error) {
	if !s.ids.Valid(pid) {
		return nil, storage.ErrNotAvailable
	}
	res, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              key(pid),
		UpdateExpression: aws.String("SET #views = #views + :one"),
		ConditionExpression: aws.String(
			"attribute_exists(#id)" +
				" AND (attribute_not_exists(#exp) OR #exp > :now)" +
				" AND (attribute_not_exists(#max) OR #views < #max)"),
		ExpressionAttributeNames: map[string]string{
			"#id":    attrID,
			"#exp":   attrExpiresAt,
			"#max":   attrMaxViews,
			"#views": attrViewCount,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": number(1),
			":now": number(now.UnixMilli()),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var failed *types.ConditionalCheckFailedException
		if errors.As(err, &failed) {
			return nil, storage.ErrNotAvailable
		}
		return nil, errors.Wrap(err, "consume view")
	}
	return decode(res.Attributes)
}

// Ping describes the table.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	return errors.Wrap(err, "describe table")
}

// Close is a no-op; the SDK client holds no long-lived connections to release.
func (s *Store) Close() error { return nil }

func key(pid string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrID: &types.AttributeValueMemberS{Value: pid}}
}

func number(v int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func encode(p *storage.Paste) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrID:        &types.AttributeValueMemberS{Value: p.ID},
		attrContent:   &types.AttributeValueMemberS{Value: p.Content},
		attrCreatedAt: number(p.CreatedAt.UnixMilli()),
		attrViewCount: number(int64(p.ViewCount)),
	}
	if p.HasExpiration() {
		item[attrExpiresAt] = number(p.ExpiresAt.UnixMilli())
	}
	if p.HasViewLimit() {
		item[attrMaxViews] = number(int64(p.MaxViews))
	}
	if p.PassphraseHash != "" {
		item[attrPassphrase] = &types.AttributeValueMemberS{Value: p.PassphraseHash}
	}
	return item
}

func decode(item map[string]types.AttributeValue) (*storage.Paste, error) {
	p := &storage.Paste{
		ID:             stringAttr(item, attrID),
		Content:        stringAttr(item, attrContent),
		PassphraseHash: stringAttr(item, attrPassphrase),
	}
	created, _, err := numberAttr(item, attrCreatedAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = storage.FromMillis(created)
	views, _, err := numberAttr(item, attrViewCount)
	if err != nil {
		return nil, err
	}
	p.ViewCount = int(views)
	if exp, ok, err := numberAttr(item, attrExpiresAt); err != nil {
		return nil, err
	} else if ok {
		p.ExpiresAt = storage.FromMillis(exp)
	}
	if limit, ok, err := numberAttr(item, attrMaxViews); err != nil {
		return nil, err
	} else if ok {
		p.MaxViews = int(limit)
	}
	return p, nil
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func numberAttr(item map[string]types.AttributeValue, name string) (int64, bool, error) {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "decode %s", name)
	}
	return n, true, nil
}
