// Package dynamodb implements call link storage on DynamoDB. All coordination
// between concurrent writers happens through single-item conditional writes;
// the store never takes client-side locks and never retries a failed
// condition.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	apperrors "github.com/akonradi/Signal-Calling-Service/internal/platform/errors"
	"github.com/akonradi/Signal-Calling-Service/internal/services/frontend/domain/calllink"
	"github.com/akonradi/Signal-Calling-Service/internal/services/frontend/storage"
)

// regionIndex is the global secondary index keyed by backend region.
const regionIndex = "region-index"

// Client is the slice of the DynamoDB API the store uses. *dynamodb.Client
// satisfies it; tests substitute fakes.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Config holds the immutable settings for a DynamoDB store, constructed once
// at process start.
type Config struct {
	// Region is the AWS region of the table.
	Region string
	// Table is the table holding call link and call records.
	Table string
	// Endpoint optionally overrides the service endpoint for local testing;
	// when set, dummy static credentials are used.
	Endpoint string
}

// Store is a DynamoDB-backed storage implementation.
type Store struct {
	client Client
	table  string
	clock  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for creation timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// Open builds a DynamoDB client from the environment's credential chain and
// returns a store over cfg.Table.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("storage table is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(4),
	}
	if cfg.Endpoint != "" {
		log.Printf("using endpoint for DynamoDB testing: %s", cfg.Endpoint)
		loadOpts = append(loadOpts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("DUMMY_KEY", "DUMMY_PASSWORD", "")),
		)
	} else {
		log.Printf("using region for DynamoDB access: %s", cfg.Region)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Table, opts...), nil
}

// NewWithClient returns a store over an existing client. Used by tests.
func NewWithClient(client Client, table string, opts ...Option) *Store {
	s := &Store{client: client, table: table, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(roomID calllink.RoomID, recordType string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrRoomID:     &types.AttributeValueMemberS{Value: string(roomID)},
		attrRecordType: &types.AttributeValueMemberS{Value: recordType},
	}
}

func unexpected(message string, cause error) error {
	return apperrors.Wrap(apperrors.CodeStorageUnexpected, message, cause)
}

// GetCallLink fetches the current state for a call link.
func (s *Store) GetCallLink(ctx context.Context, roomID calllink.RoomID) (calllink.State, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(roomID, recordTypeCallLink),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return calllink.State{}, unexpected("get call link from storage", err)
	}
	if len(out.Item) == 0 {
		return calllink.State{}, storage.ErrRoomNotFound
	}
	state, err := stateFromAttributes(out.Item)
	if err != nil {
		return calllink.State{}, unexpected("convert item to call link state", err)
	}
	return state, nil
}

// UpdateCallLink updates some or all of a call link's attributes with one
// conditional write. See storage.Storage for the two-mode contract.
func (s *Store) UpdateCallLink(ctx context.Context, roomID calllink.RoomID, update calllink.Update, zkparamsForCreation []byte) (calllink.State, error) {
	item := upsertWithUpdates(attrRoomID, attrRecordType, updateAttributes(update))

	var condition string
	mustExist := zkparamsForCreation == nil
	if mustExist {
		condition = "adminPasskey = :adminPasskey"
	} else {
		fresh := calllink.NewState(roomID, update.AdminPasskey, zkparamsForCreation, s.clock())
		defaults, err := attributevalue.MarshalMap(newCallLinkItem(fresh))
		if err != nil {
			return calllink.State{}, unexpected("convert call link state to item", err)
		}
		item.defaults = defaults
		// Absence of either attribute satisfies the condition, so creating a
		// missing room succeeds and an identical retry degenerates into a
		// plain update.
		condition = "(adminPasskey = :adminPasskey OR attribute_not_exists(adminPasskey))" +
			" AND (zkparams = :zkparams OR attribute_not_exists(zkparams))"
	}

	expression, err := item.updateExpression()
	if err != nil {
		return calllink.State{}, unexpected("build upsert expression", err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(roomID, recordTypeCallLink),
		UpdateExpression:          aws.String(expression),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  item.expressionAttributeNames(),
		ExpressionAttributeValues: item.expressionAttributeValues(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if !errors.As(err, &conditionFailed) {
			return calllink.State{}, unexpected("update call link in storage", err)
		}
		if !mustExist {
			// The only way the creation condition fails is a room that exists
			// with a different admin passkey or zkparams.
			return calllink.State{}, storage.ErrAdminPasskeyMismatch
		}
		// The store reports the same failure whether the item is missing or
		// the passkey mismatched. Disambiguate with a read. Another writer
		// may create or delete the room between the failed write and this
		// read, so the classification can occasionally be wrong; this is an
		// accepted limitation of the single-item conditional write backend.
		_, getErr := s.GetCallLink(ctx, roomID)
		switch {
		case getErr == nil:
			return calllink.State{}, storage.ErrAdminPasskeyMismatch
		case errors.Is(getErr, storage.ErrRoomNotFound):
			return calllink.State{}, storage.ErrRoomNotFound
		default:
			return calllink.State{}, unexpected("check for existing room after failed update", getErr)
		}
	}

	state, err := stateFromAttributes(out.Attributes)
	if err != nil {
		return calllink.State{}, unexpected("convert item to call link state", err)
	}
	return state, nil
}

// GetCallLinkAndRecord fetches both the call link state and the call record
// for a room with one consistent partition query.
func (s *Store) GetCallLinkAndRecord(ctx context.Context, roomID calllink.RoomID) (*calllink.State, *calllink.CallRecord, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("#roomId = :value"),
		ExpressionAttributeNames: map[string]string{
			"#roomId": attrRoomID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":value": &types.AttributeValueMemberS{Value: string(roomID)},
		},
		ConsistentRead: aws.Bool(true),
		Select:         types.SelectAllAttributes,
	})
	if err != nil {
		return nil, nil, unexpected("query for call link and record from storage", err)
	}

	var linkState *calllink.State
	var callRecord *calllink.CallRecord
	for _, item := range out.Items {
		recordType, ok := item[attrRecordType].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		switch recordType.Value {
		case recordTypeCallLink:
			state, err := stateFromAttributes(item)
			if err != nil {
				return nil, nil, unexpected("convert item to call link state", err)
			}
			linkState = &state
		case recordTypeActiveCall:
			record, err := callRecordFromAttributes(item)
			if err != nil {
				return nil, nil, unexpected("convert item to call record", err)
			}
			callRecord = &record
		default:
			// Future record kinds may share the partition.
			log.Printf("unexpected record type: %s", recordType.Value)
		}
	}
	return linkState, callRecord, nil
}

// GetCallRecord fetches the call record for a room.
func (s *Store) GetCallRecord(ctx context.Context, roomID calllink.RoomID) (calllink.CallRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(roomID, recordTypeActiveCall),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return calllink.CallRecord{}, unexpected("get call record from storage", err)
	}
	if len(out.Item) == 0 {
		return calllink.CallRecord{}, storage.ErrRoomNotFound
	}
	record, err := callRecordFromAttributes(out.Item)
	if err != nil {
		return calllink.CallRecord{}, unexpected("convert item to call record", err)
	}
	return record, nil
}

// GetOrAddCallRecord adds the given call, or returns the call already stored
// for the room. A defaults-only upsert makes the add race-free: the loser of
// a concurrent add reads back the winner's record.
func (s *Store) GetOrAddCallRecord(ctx context.Context, call calllink.CallRecord) (calllink.CallRecord, error) {
	attributes, err := attributevalue.MarshalMap(newCallRecordItem(call))
	if err != nil {
		return calllink.CallRecord{}, unexpected("convert call record to item", err)
	}
	item := upsertWithDefaults(attrRoomID, attrRecordType, attributes)
	expression, err := item.updateExpression()
	if err != nil {
		return calllink.CallRecord{}, unexpected("build upsert expression", err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(call.RoomID, recordTypeActiveCall),
		UpdateExpression:          aws.String(expression),
		ExpressionAttributeNames:  item.expressionAttributeNames(),
		ExpressionAttributeValues: item.expressionAttributeValues(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return calllink.CallRecord{}, unexpected("update item in storage for get or add call record", err)
	}
	record, err := callRecordFromAttributes(out.Attributes)
	if err != nil {
		return calllink.CallRecord{}, unexpected("convert item to call record", err)
	}
	return record, nil
}

// RemoveCallRecord deletes the room's call record if the stored era matches.
// A non-matching era means the previous call was already removed and a new
// one created, which is not an error.
func (s *Store) RemoveCallRecord(ctx context.Context, roomID calllink.RoomID, eraID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(roomID, recordTypeActiveCall),
		ConditionExpression: aws.String("eraId = :value"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":value": &types.AttributeValueMemberS{Value: eraID},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return nil
		}
		return unexpected("remove call record from storage", err)
	}
	return nil
}

// GetCallRecordsForRegion lists every call hosted in the given backend
// region via the region index.
func (s *Store) GetCallRecordsForRegion(ctx context.Context, region string) ([]calllink.CallRecord, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(regionIndex),
		KeyConditionExpression: aws.String("#region = :value and recordType = :recordType"),
		ExpressionAttributeNames: map[string]string{
			"#region": "region",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":value":      &types.AttributeValueMemberS{Value: region},
			":recordType": &types.AttributeValueMemberS{Value: recordTypeActiveCall},
		},
		ConsistentRead: aws.Bool(false),
		Select:         types.SelectAllAttributes,
	})
	if err != nil {
		return nil, unexpected("query for calls in a region", err)
	}

	records := make([]calllink.CallRecord, 0, len(out.Items))
	for _, item := range out.Items {
		record, err := callRecordFromAttributes(item)
		if err != nil {
			return nil, unexpected("convert item to call record", err)
		}
		records = append(records, record)
	}
	return records, nil
}

var _ storage.Storage = (*Store)(nil)
