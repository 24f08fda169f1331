package dynamo

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"

	"github.com/jacentio/docferry/store"
)

// Attributes owned by the driver.
const (
	attrPK   = "_pk"
	attrID   = store.IDField
	attrSelf = "_self"
	attrRID  = "_rid"
	attrETag = "_etag"
	attrTS   = "_ts"
)

// TableName returns the table backing a collection.
func TableName(database, collection string) string {
	return database + "." + collection
}

// selfLink builds the location handle of a document.
func selfLink(database, collection, pk, id string) string {
	return fmt.Sprintf("dbs/%s/colls/%s/docs/%s/%s", database, collection, url.PathEscape(pk), url.PathEscape(id))
}

// parseSelfLink returns the table and key a self link points at.
func parseSelfLink(link string) (string, map[string]types.AttributeValue, error) {
	parts := strings.Split(link, "/")
	if len(parts) != 7 || parts[0] != "dbs" || parts[2] != "colls" || parts[4] != "docs" {
		return "", nil, errors.Errorf("malformed self link %q", link)
	}
	pk, err := url.PathUnescape(parts[5])
	if err != nil {
		return "", nil, errors.Wrapf(err, "self link %q", link)
	}
	id, err := url.PathUnescape(parts[6])
	if err != nil {
		return "", nil, errors.Wrapf(err, "self link %q", link)
	}
	return TableName(parts[1], parts[3]), keyOf(pk, id), nil
}

func keyOf(pk, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: pk},
		attrID: &types.AttributeValueMemberS{Value: id},
	}
}

// toJSONMap renders v in its JSON shape, the canonical document form shared
// with staging files.
func toJSONMap(v interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// marshalValue converts a query parameter to an attribute value through its
// JSON shape.
func marshalValue(v interface{}) (types.AttributeValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var norm interface{}
	if err := json.Unmarshal(b, &norm); err != nil {
		return nil, err
	}
	return attributevalue.Marshal(norm)
}

// encodeItem converts a JSON-shaped document to an item.
func encodeItem(m map[string]interface{}) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(m)
}

// decodeItem converts an item back to a JSON document, dropping the
// driver-internal partition attribute.
func decodeItem(item map[string]types.AttributeValue) (store.RawJSON, error) {
	var m map[string]interface{}
	if err := attributevalue.UnmarshalMap(item, &m); err != nil {
		return nil, errors.Wrap(err, "unmarshal item")
	}
	delete(m, attrPK)
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return store.RawJSON(b), nil
}
