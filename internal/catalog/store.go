package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/makerloom/stitchpress/internal/config"
)

// dynamoAPI is the slice of the DynamoDB client the store uses. Tests
// substitute a fake; *dynamodb.Client satisfies it.
type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Tables names the DynamoDB tables backing the catalog.
type Tables struct {
	Designs    string
	Albums     string
	Recipients string
	Counters   string
}

// Store reads and writes the catalog tables.
type Store struct {
	db     dynamoAPI
	tables Tables
}

const (
	designIDIndex   = "design_id-index"
	globalPageIndex = "global_page-index"
)

// NewStore builds a store from the storage configuration, using the shared
// credential chain (profile locally, IAM role on ECS).
func NewStore(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	var awsCfg aws.Config
	var err error

	if profile := cfg.GetAWSProfile(); profile != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.AWSRegion),
			awsconfig.WithSharedConfigProfile(profile),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.AWSRegion),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return NewStoreWithClient(dynamodb.NewFromConfig(awsCfg), Tables{
		Designs:    cfg.DesignsTable,
		Albums:     cfg.AlbumsTable,
		Recipients: cfg.RecipientsTable,
		Counters:   cfg.CountersTable,
	}), nil
}

// NewStoreWithClient wires a store onto an existing client. Tests use this.
func NewStoreWithClient(db dynamoAPI, tables Tables) *Store {
	return &Store{db: db, tables: tables}
}

// GetAlbum looks up an album by its 4-digit id.
func (s *Store) GetAlbum(ctx context.Context, albumID string) (*AlbumRecord, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Albums),
		Key: map[string]types.AttributeValue{
			"album_id": &types.AttributeValueMemberS{Value: albumID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting album: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, &NotFoundError{Entity: "album", Key: albumID}
	}

	var album AlbumRecord
	if err := attributevalue.UnmarshalMap(out.Item, &album); err != nil {
		return nil, fmt.Errorf("unmarshaling album: %w", err)
	}
	return &album, nil
}

// PutAlbum creates or replaces an album record.
func (s *Store) PutAlbum(ctx context.Context, album *AlbumRecord) error {
	av, err := attributevalue.MarshalMap(album)
	if err != nil {
		return fmt.Errorf("marshaling album: %w", err)
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tables.Albums),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting album: %w", err)
	}
	return nil
}

// PutDesign writes the design record keyed by (album_id, n_page). The put is
// deliberately unconditioned: re-publishing onto an existing page overwrites
// the old record rather than failing the run.
func (s *Store) PutDesign(ctx context.Context, rec *DesignRecord) error {
	rec.GSIPK = gsiAnchor
	if rec.CreatedAt == "" {
		rec.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	av, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshaling design: %w", err)
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tables.Designs),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting design: %w", err)
	}
	return nil
}

// MaxDesignID returns the highest allocated design id. found is false when
// the catalog holds no designs yet.
func (s *Store) MaxDesignID(ctx context.Context) (max int, found bool, err error) {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.Designs),
		IndexName:              aws.String(designIDIndex),
		KeyConditionExpression: aws.String("gsi_pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: gsiAnchor},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, false, fmt.Errorf("querying max design id: %w", err)
	}
	if len(out.Items) == 0 {
		return 0, false, nil
	}

	var top struct {
		DesignID int `dynamodbav:"design_id"`
	}
	if err := attributevalue.UnmarshalMap(out.Items[0], &top); err != nil {
		return 0, false, fmt.Errorf("unmarshaling max design id: %w", err)
	}
	return top.DesignID, true, nil
}

// MaxGlobalPage returns the highest global page number.
func (s *Store) MaxGlobalPage(ctx context.Context) (max int, found bool, err error) {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.Designs),
		IndexName:              aws.String(globalPageIndex),
		KeyConditionExpression: aws.String("gsi_pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: gsiAnchor},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, false, fmt.Errorf("querying max global page: %w", err)
	}
	if len(out.Items) == 0 {
		return 0, false, nil
	}

	var top struct {
		NGlobalPage int `dynamodbav:"n_global_page"`
	}
	if err := attributevalue.UnmarshalMap(out.Items[0], &top); err != nil {
		return 0, false, fmt.Errorf("unmarshaling max global page: %w", err)
	}
	return top.NGlobalPage, true, nil
}

// MaxAlbumPage returns the highest page number inside one album. Pages are
// stored zero-padded so the descending sort-key order is numeric order.
func (s *Store) MaxAlbumPage(ctx context.Context, albumID string) (max int, found bool, err error) {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.Designs),
		KeyConditionExpression: aws.String("album_id = :a"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":a": &types.AttributeValueMemberS{Value: albumID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, false, fmt.Errorf("querying max album page: %w", err)
	}
	if len(out.Items) == 0 {
		return 0, false, nil
	}

	var top struct {
		NPage string `dynamodbav:"n_page"`
	}
	if err := attributevalue.UnmarshalMap(out.Items[0], &top); err != nil {
		return 0, false, fmt.Errorf("unmarshaling max album page: %w", err)
	}
	n, err := strconv.Atoi(top.NPage)
	if err != nil {
		return 0, false, fmt.Errorf("album %s has malformed page number %q: %w", albumID, top.NPage, err)
	}
	return n, true, nil
}

// GetCounter reads a sequence counter. found is false when it has never
// been seeded.
func (s *Store) GetCounter(ctx context.Context, name string) (value int, found bool, err error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Counters),
		Key: map[string]types.AttributeValue{
			"counter_id": &types.AttributeValueMemberS{Value: name},
		},
	})
	if err != nil {
		return 0, false, fmt.Errorf("getting counter %s: %w", name, err)
	}
	if len(out.Item) == 0 {
		return 0, false, nil
	}

	var item struct {
		CurrentValue int `dynamodbav:"current_value"`
	}
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return 0, false, fmt.Errorf("unmarshaling counter %s: %w", name, err)
	}
	return item.CurrentValue, true, nil
}

// SeedCounter initializes a counter if and only if it does not exist yet.
// Losing the conditional write to a concurrent seeder is not an error.
func (s *Store) SeedCounter(ctx context.Context, name string, value int) error {
	_, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tables.Counters),
		Item: map[string]types.AttributeValue{
			"counter_id":    &types.AttributeValueMemberS{Value: name},
			"current_value": &types.AttributeValueMemberN{Value: strconv.Itoa(value)},
		},
		ConditionExpression: aws.String("attribute_not_exists(counter_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("seeding counter %s: %w", name, err)
	}
	return nil
}

// IncrementCounter atomically adds one to a counter and returns the new
// value. This is the allocation step concurrent publishers can safely share.
func (s *Store) IncrementCounter(ctx context.Context, name string) (int, error) {
	out, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tables.Counters),
		Key: map[string]types.AttributeValue{
			"counter_id": &types.AttributeValueMemberS{Value: name},
		},
		UpdateExpression: aws.String("ADD current_value :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("incrementing counter %s: %w", name, err)
	}

	attr, ok := out.Attributes["current_value"]
	if !ok {
		return 0, fmt.Errorf("incrementing counter %s: no value returned", name)
	}
	n, ok := attr.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("incrementing counter %s: unexpected value type %T", name, attr)
	}
	value, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("incrementing counter %s: %w", name, err)
	}
	return value, nil
}

// ScanOptions controls the recipient scan filters.
type ScanOptions struct {
	OnlyVerified   bool
	OnlySubscribed bool
}

var recipientProjection = []string{
	"email", "first_name", "record_key", "correlation_id", "verified", "unsubscribed", "last_sent_at",
}

// recipientFilter builds the server-side filter. Every name placeholder in
// the returned maps is referenced, since DynamoDB rejects unused entries.
func recipientFilter(opts ScanOptions) (filter *string, names map[string]string, values map[string]types.AttributeValue) {
	var parts []string
	names = map[string]string{}
	values = map[string]types.AttributeValue{}
	if opts.OnlyVerified {
		parts = append(parts, "#verified = :true")
		names["#verified"] = "verified"
		values[":true"] = &types.AttributeValueMemberBOOL{Value: true}
	}
	if opts.OnlySubscribed {
		parts = append(parts, "#unsubscribed <> :true")
		names["#unsubscribed"] = "unsubscribed"
		values[":true"] = &types.AttributeValueMemberBOOL{Value: true}
	}
	if len(parts) == 0 {
		return nil, nil, nil
	}
	return aws.String(strings.Join(parts, " AND ")), names, values
}

// projection returns the expression plus the name placeholders it uses,
// merged with any filter names.
func projection(extra map[string]string) (*string, map[string]string) {
	names := make(map[string]string, len(recipientProjection)+len(extra))
	cols := make([]string, len(recipientProjection))
	for i, attr := range recipientProjection {
		cols[i] = "#" + attr
		names["#"+attr] = attr
	}
	for k, v := range extra {
		names[k] = v
	}
	return aws.String(strings.Join(cols, ", ")), names
}

// ScanRecipients walks the whole recipient table with the requested filters,
// following continuation keys until exhausted. Filtering happens server-side;
// only the projected attributes come back.
func (s *Store) ScanRecipients(ctx context.Context, opts ScanOptions) ([]Recipient, error) {
	filter, filterNames, values := recipientFilter(opts)
	proj, names := projection(filterNames)

	var recipients []Recipient
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.db.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.tables.Recipients),
			FilterExpression:          filter,
			ProjectionExpression:      proj,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scanning recipients: %w", err)
		}

		var page []Recipient
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshaling recipients: %w", err)
		}
		recipients = append(recipients, page...)

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return recipients, nil
}

// CountEligible counts recipients matching the filters without pulling the
// rows back. The campaign uses this as its progress target.
func (s *Store) CountEligible(ctx context.Context, opts ScanOptions) (int, error) {
	filter, names, values := recipientFilter(opts)

	total := 0
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.db.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.tables.Recipients),
			FilterExpression:          filter,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			Select:                    types.SelectCount,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return 0, fmt.Errorf("counting recipients: %w", err)
		}
		total += int(out.Count)

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return total, nil
}

// UpdateLastSent stamps the recipient's last_sent_at after a successful send.
func (s *Store) UpdateLastSent(ctx context.Context, email string, at time.Time) error {
	email = strings.ToLower(email)
	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tables.Recipients),
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: email},
		},
		UpdateExpression:    aws.String("SET last_sent_at = :ts"),
		ConditionExpression: aws.String("attribute_exists(email)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ts": &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("updating last_sent_at: %w", err)
	}
	return nil
}

// SetCorrelationID backfills a correlation id on a recipient that has none.
// Records that already carry one, or that vanished, are left alone.
func (s *Store) SetCorrelationID(ctx context.Context, email, cid string) error {
	email = strings.ToLower(email)
	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tables.Recipients),
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: email},
		},
		UpdateExpression:    aws.String("SET correlation_id = :cid"),
		ConditionExpression: aws.String("attribute_exists(email) AND attribute_not_exists(correlation_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: cid},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("setting correlation id: %w", err)
	}
	return nil
}

// MarkUnsubscribed flips the recipient's unsubscribed flag. Unknown
// addresses return NotFoundError rather than creating ghost records.
func (s *Store) MarkUnsubscribed(ctx context.Context, email string) error {
	email = strings.ToLower(email)
	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tables.Recipients),
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: email},
		},
		UpdateExpression:    aws.String("SET unsubscribed = :true, unsubscribed_at = :ts"),
		ConditionExpression: aws.String("attribute_exists(email)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true": &types.AttributeValueMemberBOOL{Value: true},
			":ts":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return &NotFoundError{Entity: "recipient", Key: email}
		}
		return fmt.Errorf("marking unsubscribed: %w", err)
	}
	return nil
}
