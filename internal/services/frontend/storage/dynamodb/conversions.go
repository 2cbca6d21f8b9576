package dynamodb

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/akonradi/Signal-Calling-Service/internal/services/frontend/domain/calllink"
)

const (
	attrRoomID     = "roomId"
	attrRecordType = "recordType"

	recordTypeCallLink   = "CallLinkState"
	recordTypeActiveCall = "ActiveCall"
)

// callLinkItem is the stored shape of a calllink.State row. Byte-valued
// fields are raw byte strings; the expiration is integer seconds since epoch.
type callLinkItem struct {
	RoomID        string `dynamodbav:"roomId"`
	RecordType    string `dynamodbav:"recordType"`
	AdminPasskey  []byte `dynamodbav:"adminPasskey"`
	ZKParams      []byte `dynamodbav:"zkparams"`
	Restrictions  string `dynamodbav:"restrictions"`
	EncryptedName []byte `dynamodbav:"encryptedName"`
	Revoked       bool   `dynamodbav:"revoked"`
	Expiration    int64  `dynamodbav:"expiration"`
}

func newCallLinkItem(state calllink.State) callLinkItem {
	return callLinkItem{
		RoomID:        string(state.RoomID),
		RecordType:    recordTypeCallLink,
		AdminPasskey:  state.AdminPasskey,
		ZKParams:      state.ZKParams,
		Restrictions:  string(state.Restrictions),
		EncryptedName: state.EncryptedName,
		Revoked:       state.Revoked,
		Expiration:    state.Expiration.Unix(),
	}
}

func (i callLinkItem) toState() calllink.State {
	return calllink.State{
		RoomID:        calllink.RoomID(i.RoomID),
		AdminPasskey:  i.AdminPasskey,
		ZKParams:      i.ZKParams,
		Restrictions:  calllink.Restrictions(i.Restrictions),
		EncryptedName: i.EncryptedName,
		Revoked:       i.Revoked,
		Expiration:    time.Unix(i.Expiration, 0).UTC(),
	}
}

// callRecordItem is the stored shape of a calllink.CallRecord row. The
// backend region attribute is named plainly so the region GSI can key on it.
type callRecordItem struct {
	RoomID        string `dynamodbav:"roomId"`
	RecordType    string `dynamodbav:"recordType"`
	EraID         string `dynamodbav:"eraId"`
	BackendIP     string `dynamodbav:"backendIp"`
	BackendRegion string `dynamodbav:"region"`
	Creator       string `dynamodbav:"creator"`
}

func newCallRecordItem(call calllink.CallRecord) callRecordItem {
	return callRecordItem{
		RoomID:        string(call.RoomID),
		RecordType:    recordTypeActiveCall,
		EraID:         call.EraID,
		BackendIP:     call.BackendIP,
		BackendRegion: call.BackendRegion,
		Creator:       string(call.Creator),
	}
}

func (i callRecordItem) toCallRecord() calllink.CallRecord {
	return calllink.CallRecord{
		RoomID:        calllink.RoomID(i.RoomID),
		EraID:         i.EraID,
		BackendIP:     i.BackendIP,
		BackendRegion: i.BackendRegion,
		Creator:       calllink.UserID(i.Creator),
	}
}

// updateAttributes flattens a partial update into the attribute bag written
// unconditionally. Absent optional fields stay absent so the stored values
// survive the write.
func updateAttributes(update calllink.Update) map[string]types.AttributeValue {
	attrs := map[string]types.AttributeValue{
		attrRecordType: &types.AttributeValueMemberS{Value: recordTypeCallLink},
		"adminPasskey": &types.AttributeValueMemberB{Value: update.AdminPasskey},
	}
	if update.Restrictions != nil {
		attrs["restrictions"] = &types.AttributeValueMemberS{Value: string(*update.Restrictions)}
	}
	if update.EncryptedName != nil {
		attrs["encryptedName"] = &types.AttributeValueMemberB{Value: *update.EncryptedName}
	}
	if update.Revoked != nil {
		attrs["revoked"] = &types.AttributeValueMemberBOOL{Value: *update.Revoked}
	}
	return attrs
}

func stateFromAttributes(attributes map[string]types.AttributeValue) (calllink.State, error) {
	var item callLinkItem
	if err := attributevalue.UnmarshalMap(attributes, &item); err != nil {
		return calllink.State{}, err
	}
	return item.toState(), nil
}

func callRecordFromAttributes(attributes map[string]types.AttributeValue) (calllink.CallRecord, error) {
	var item callRecordItem
	if err := attributevalue.UnmarshalMap(attributes, &item); err != nil {
		return calllink.CallRecord{}, err
	}
	return item.toCallRecord(), nil
}
