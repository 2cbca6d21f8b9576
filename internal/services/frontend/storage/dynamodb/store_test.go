package dynamodb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	apperrors "github.com/akonradi/Signal-Calling-Service/internal/platform/errors"
	"github.com/akonradi/Signal-Calling-Service/internal/services/frontend/domain/calllink"
	"github.com/akonradi/Signal-Calling-Service/internal/services/frontend/storage"
)

type fakeClient struct {
	getItem    func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	updateItem func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	deleteItem func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	query      func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
}

func (f *fakeClient) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.getItem == nil {
		panic("unexpected GetItem call")
	}
	return f.getItem(params)
}

func (f *fakeClient) UpdateItem(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if f.updateItem == nil {
		panic("unexpected UpdateItem call")
	}
	return f.updateItem(params)
}

func (f *fakeClient) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if f.deleteItem == nil {
		panic("unexpected DeleteItem call")
	}
	return f.deleteItem(params)
}

func (f *fakeClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if f.query == nil {
		panic("unexpected Query call")
	}
	return f.query(params)
}

var testClock = func() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func testStateItem(t *testing.T, state calllink.State) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(newCallLinkItem(state))
	if err != nil {
		t.Fatalf("marshal call link state: %v", err)
	}
	return item
}

func testRecordItem(t *testing.T, record calllink.CallRecord) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(newCallRecordItem(record))
	if err != nil {
		t.Fatalf("marshal call record: %v", err)
	}
	return item
}

func TestUpdateCallLinkCreationModeBuildsConditionalUpsert(t *testing.T) {
	var captured *dynamodb.UpdateItemInput
	fresh := calllink.NewState("abc123", []byte("s1"), []byte("params"), testClock())
	client := &fakeClient{
		updateItem: func(params *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			captured = params
			return &dynamodb.UpdateItemOutput{Attributes: testStateItem(t, fresh)}, nil
		},
	}
	store := NewWithClient(client, "Rooms", WithClock(testClock))

	state, err := store.UpdateCallLink(context.Background(), "abc123", calllink.Update{AdminPasskey: []byte("s1")}, []byte("params"))
	if err != nil {
		t.Fatalf("update call link: %v", err)
	}
	if !state.Equal(fresh) {
		t.Fatalf("expected the stored new image back, got %+v", state)
	}

	wantCondition := "(adminPasskey = :adminPasskey OR attribute_not_exists(adminPasskey))" +
		" AND (zkparams = :zkparams OR attribute_not_exists(zkparams))"
	if got := aws.ToString(captured.ConditionExpression); got != wantCondition {
		t.Fatalf("expected creation condition %q, got %q", wantCondition, got)
	}
	expression := aws.ToString(captured.UpdateExpression)
	if !strings.Contains(expression, "#adminPasskey = :adminPasskey") {
		t.Fatalf("expected passkey to always win, got %q", expression)
	}
	if !strings.Contains(expression, "#expiration = if_not_exists(#expiration, :expiration)") {
		t.Fatalf("expected expiration to be default-only, got %q", expression)
	}
	if strings.Contains(expression, "roomId") || strings.Contains(expression, "recordType") {
		t.Fatalf("expected key attributes to be excluded, got %q", expression)
	}
	if _, ok := captured.ExpressionAttributeValues[":zkparams"]; !ok {
		t.Fatalf("expected the creation condition's zkparams value to be bound")
	}
	if aws.ToString(captured.TableName) != "Rooms" {
		t.Fatalf("expected table Rooms, got %q", aws.ToString(captured.TableName))
	}
}

func TestUpdateCallLinkCreationModeUpdateFieldsWin(t *testing.T) {
	var captured *dynamodb.UpdateItemInput
	restrictions := calllink.RestrictionsAdminApproval
	fresh := calllink.NewState("abc123", []byte("s1"), []byte("params"), testClock())
	fresh.Restrictions = restrictions
	client := &fakeClient{
		updateItem: func(params *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			captured = params
			return &dynamodb.UpdateItemOutput{Attributes: testStateItem(t, fresh)}, nil
		},
	}
	store := NewWithClient(client, "Rooms", WithClock(testClock))

	update := calllink.Update{AdminPasskey: []byte("s1"), Restrictions: &restrictions}
	if _, err := store.UpdateCallLink(context.Background(), "abc123", update, []byte("params")); err != nil {
		t.Fatalf("update call link: %v", err)
	}

	expression := aws.ToString(captured.UpdateExpression)
	if !strings.Contains(expression, "#restrictions = :restrictions") {
		t.Fatalf("expected provided restrictions to override the default, got %q", expression)
	}
	if strings.Contains(expression, "if_not_exists(#restrictions") {
		t.Fatalf("expected restrictions not to be default-only, got %q", expression)
	}
	value, ok := captured.ExpressionAttributeValues[":restrictions"].(*types.AttributeValueMemberS)
	if !ok || value.Value != string(restrictions) {
		t.Fatalf("expected restrictions value to bind the update's value, got %v", captured.ExpressionAttributeValues[":restrictions"])
	}
}

func TestUpdateCallLinkCreationConflictIsPasskeyMismatch(t *testing.T) {
	client := &fakeClient{
		updateItem: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, conditionFailed()
		},
		// No disambiguating read happens in creation mode: absence alone
		// satisfies the condition, so the room must exist with different
		// credentials.
	}
	store := NewWithClient(client, "Rooms", WithClock(testClock))

	_, err := store.UpdateCallLink(context.Background(), "abc123", calllink.Update{AdminPasskey: []byte("s2")}, []byte("params"))
	if !errors.Is(err, storage.ErrAdminPasskeyMismatch) {
		t.Fatalf("expected admin passkey mismatch, got %v", err)
	}
}

func TestUpdateCallLinkUpdateModeDisambiguatesFailure(t *testing.T) {
	existing := calllink.NewState("abc123", []byte("s1"), []byte("params"), testClock())

	cases := []struct {
		name    string
		getItem func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
		want    error
	}{
		{
			name: "room exists",
			getItem: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
				return &dynamodb.GetItemOutput{Item: testStateItem(t, existing)}, nil
			},
			want: storage.ErrAdminPasskeyMismatch,
		},
		{
			name: "room missing",
			getItem: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
				return &dynamodb.GetItemOutput{}, nil
			},
			want: storage.ErrRoomNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{
				updateItem: func(params *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
					if got := aws.ToString(params.ConditionExpression); got != "adminPasskey = :adminPasskey" {
						t.Fatalf("expected exact-match condition, got %q", got)
					}
					return nil, conditionFailed()
				},
				getItem: tc.getItem,
			}
			store := NewWithClient(client, "Rooms", WithClock(testClock))

			_, err := store.UpdateCallLink(context.Background(), "abc123", calllink.Update{AdminPasskey: []byte("wrong")}, nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestUpdateCallLinkUpdateModeReadFailureIsUnexpected(t *testing.T) {
	client := &fakeClient{
		updateItem: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, conditionFailed()
		},
		getItem: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return nil, errors.New("connection reset")
		},
	}
	store := NewWithClient(client, "Rooms", WithClock(testClock))

	_, err := store.UpdateCallLink(context.Background(), "abc123", calllink.Update{AdminPasskey: []byte("s1")}, nil)
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) || domainErr.Code != apperrors.CodeStorageUnexpected {
		t.Fatalf("expected an unexpected-storage error, got %v", err)
	}
}

func TestUpdateCallLinkStoreFaultIsNotDomainError(t *testing.T) {
	client := &fakeClient{
		updateItem: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	store := NewWithClient(client, "Rooms", WithClock(testClock))

	_, err := store.UpdateCallLink(context.Background(), "abc123", calllink.Update{AdminPasskey: []byte("s1")}, nil)
	if errors.Is(err, storage.ErrRoomNotFound) || errors.Is(err, storage.ErrAdminPasskeyMismatch) {
		t.Fatalf("expected store faults not to be downgraded to domain errors, got %v", err)
	}
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) || domainErr.Code != apperrors.CodeStorageUnexpected {
		t.Fatalf("expected an unexpected-storage error, got %v", err)
	}
}

func TestGetCallLinkAndRecordDemultiplexesPartition(t *testing.T) {
	state := calllink.NewState("abc123", []byte("s1"), []byte("params"), testClock())
	record := calllink.CallRecord{
		RoomID:        "abc123",
		EraID:         "era-1",
		BackendIP:     "10.0.0.1",
		BackendRegion: "us-west-2",
		Creator:       "user-1",
	}
	client := &fakeClient{
		query: func(params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			if !aws.ToBool(params.ConsistentRead) {
				t.Fatalf("expected a strongly consistent partition read")
			}
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
				testStateItem(t, state),
				testRecordItem(t, record),
				{
					attrRoomID:     &types.AttributeValueMemberS{Value: "abc123"},
					attrRecordType: &types.AttributeValueMemberS{Value: "FutureKind"},
				},
			}}, nil
		},
	}
	store := NewWithClient(client, "Rooms", WithClock(testClock))

	gotState, gotRecord, err := store.GetCallLinkAndRecord(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("get call link and record: %v", err)
	}
	if gotState == nil || !gotState.Equal(state) {
		t.Fatalf("expected call link state slot to be filled, got %+v", gotState)
	}
	if gotRecord == nil || *gotRecord != record {
		t.Fatalf("expected call record slot to be filled, got %+v", gotRecord)
	}
}

func TestGetCallLinkAndRecordSingleSlot(t *testing.T) {
	state := calllink.NewState("abc123", []byte("s1"), []byte("params"), testClock())
	client := &fakeClient{
		query: func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
				testStateItem(t, state),
			}}, nil
		},
	}
	store := NewWithClient(client, "Rooms", WithClock(testClock))

	gotState, gotRecord, err := store.GetCallLinkAndRecord(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("get call link and record: %v", err)
	}
	if gotState == nil {
		t.Fatalf("expected the call link slot to be filled")
	}
	if gotRecord != nil {
		t.Fatalf("expected the call record slot to stay empty, got %+v", gotRecord)
	}
}

func TestGetCallLinkAndRecordCorruptRecordIsFatal(t *testing.T) {
	client := &fakeClient{
		query: func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
				{
					attrRoomID:     &types.AttributeValueMemberS{Value: "abc123"},
					attrRecordType: &types.AttributeValueMemberS{Value: recordTypeCallLink},
					// Expiration must be a number; a corrupt record must not
					// be silently treated as absent.
					"expiration": &types.AttributeValueMemberS{Value: "not-a-number"},
				},
			}}, nil
		},
	}
	store := NewWithClient(client, "Rooms", WithClock(testClock))

	_, _, err := store.GetCallLinkAndRecord(context.Background(), "abc123")
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) || domainErr.Code != apperrors.CodeStorageUnexpected {
		t.Fatalf("expected a fatal unexpected-storage error for a corrupt record, got %v", err)
	}
}

func TestGetCallLinkMissing(t *testing.T) {
	client := &fakeClient{
		getItem: func(params *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			if !aws.ToBool(params.ConsistentRead) {
				t.Fatalf("expected a strongly consistent read")
			}
			return &dynamodb.GetItemOutput{}, nil
		},
	}
	store := NewWithClient(client, "Rooms", WithClock(testClock))

	_, err := store.GetCallLink(context.Background(), "missing")
	if !errors.Is(err, storage.ErrRoomNotFound) {
		t.Fatalf("expected room-not-found, got %v", err)
	}
}

func TestGetOrAddCallRecordUsesDefaultsOnlyUpsert(t *testing.T) {
	existing := calllink.CallRecord{
		RoomID:        "abc123",
		EraID:         "era-existing",
		BackendIP:     "10.0.0.1",
		BackendRegion: "us-west-2",
		Creator:       "user-1",
	}
	var captured *dynamodb.UpdateItemInput
	client := &fakeClient{
		updateItem: func(params *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			captured = params
			return &dynamodb.UpdateItemOutput{Attributes: testRecordItem(t, existing)}, nil
		},
	}
	store := NewWithClient(client, "Rooms", WithClock(testClock))

	attempted := existing
	attempted.EraID = "era-new"
	got, err := store.GetOrAddCallRecord(context.Background(), attempted)
	if err != nil {
		t.Fatalf("get or add call record: %v", err)
	}
	if got != existing {
		t.Fatalf("expected the stored record back, got %+v", got)
	}

	expression := aws.ToString(captured.UpdateExpression)
	if strings.Contains(expression, "= :eraId,") || strings.HasSuffix(expression, "= :eraId") {
		t.Fatalf("expected every assignment to be default-only, got %q", expression)
	}
	if !strings.Contains(expression, "#eraId = if_not_exists(#eraId, :eraId)") {
		t.Fatalf("expected era to be set only when absent, got %q", expression)
	}
}

func TestRemoveCallRecordTreatsEraMismatchAsDone(t *testing.T) {
	client := &fakeClient{
		deleteItem: func(params *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
			if got := aws.ToString(params.ConditionExpression); got != "eraId = :value" {
				t.Fatalf("expected era condition, got %q", got)
			}
			return nil, conditionFailed()
		},
	}
	store := NewWithClient(client, "Rooms", WithClock(testClock))

	if err := store.RemoveCallRecord(context.Background(), "abc123", "era-stale"); err != nil {
		t.Fatalf("expected a replaced call to be treated as removed, got %v", err)
	}
}

func TestGetCallRecordsForRegionQueriesIndex(t *testing.T) {
	record := calllink.CallRecord{
		RoomID:        "abc123",
		EraID:         "era-1",
		BackendIP:     "10.0.0.1",
		BackendRegion: "us-west-2",
		Creator:       "user-1",
	}
	client := &fakeClient{
		query: func(params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			if aws.ToString(params.IndexName) != regionIndex {
				t.Fatalf("expected region index, got %q", aws.ToString(params.IndexName))
			}
			if aws.ToBool(params.ConsistentRead) {
				t.Fatalf("expected an eventually consistent index read")
			}
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
				testRecordItem(t, record),
			}}, nil
		},
	}
	store := NewWithClient(client, "Rooms", WithClock(testClock))

	records, err := store.GetCallRecordsForRegion(context.Background(), "us-west-2")
	if err != nil {
		t.Fatalf("get call records for region: %v", err)
	}
	if len(records) != 1 || records[0] != record {
		t.Fatalf("expected the region's call record, got %+v", records)
	}
}
