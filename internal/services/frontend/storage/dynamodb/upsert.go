package dynamodb

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// upsertItem generates "upsert"-like update expressions from two attribute
// bags. Attributes in updates always overwrite; attributes in defaults are
// written only when the stored item does not already have them:
//
//	SET #foo = :foo, #bar = if_not_exists(#bar, :bar)
//
// Note that if there *is* an existing record, but it does *not* have all of
// the default attributes, the missing ones are added to the existing record.
// This differs from a conditional expression, which would leave an existing
// record untouched.
type upsertItem struct {
	partitionKey string
	sortKey      string
	updates      map[string]types.AttributeValue
	defaults     map[string]types.AttributeValue
}

func upsertWithUpdates(partitionKey, sortKey string, attributes map[string]types.AttributeValue) upsertItem {
	return upsertItem{partitionKey: partitionKey, sortKey: sortKey, updates: attributes}
}

func upsertWithDefaults(partitionKey, sortKey string, attributes map[string]types.AttributeValue) upsertItem {
	return upsertItem{partitionKey: partitionKey, sortKey: sortKey, defaults: attributes}
}

func (u upsertItem) isPrimaryKey(name string) bool {
	return name == u.partitionKey || name == u.sortKey
}

// updateExpression builds the SET expression over both bags. Primary key
// attributes are excluded; they are supplied to the store separately. An
// upsert with nothing left to write is rejected before reaching the store.
func (u upsertItem) updateExpression() (string, error) {
	var assignments []string
	for name := range u.updates {
		if u.isPrimaryKey(name) {
			continue
		}
		assignments = append(assignments, fmt.Sprintf("#%s = :%s", name, name))
	}
	for name := range u.defaults {
		if u.isPrimaryKey(name) {
			continue
		}
		if _, overridden := u.updates[name]; overridden {
			continue
		}
		assignments = append(assignments, fmt.Sprintf("#%s = if_not_exists(#%s, :%s)", name, name, name))
	}
	if len(assignments) == 0 {
		return "", errors.New("no attributes besides primary keys, nothing to upsert")
	}
	// Sorted so the expression never depends on map iteration order.
	sort.Strings(assignments)
	return "SET " + strings.Join(assignments, ","), nil
}

func (u upsertItem) expressionAttributeNames() map[string]string {
	names := make(map[string]string)
	for name := range u.updates {
		if !u.isPrimaryKey(name) {
			names["#"+name] = name
		}
	}
	for name := range u.defaults {
		if !u.isPrimaryKey(name) {
			names["#"+name] = name
		}
	}
	return names
}

// expressionAttributeValues binds each placeholder to its attribute value.
// When an attribute appears in both bags, the update bag's value wins.
func (u upsertItem) expressionAttributeValues() map[string]types.AttributeValue {
	values := make(map[string]types.AttributeValue)
	for name, value := range u.defaults {
		if !u.isPrimaryKey(name) {
			values[":"+name] = value
		}
	}
	for name, value := range u.updates {
		if !u.isPrimaryKey(name) {
			values[":"+name] = value
		}
	}
	return values
}
