// Package stream provides DynamoDB Streams handlers that replicate a source
// collection into a target repository.
package stream

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jacentio/docferry/store"
)

// Attributes stamped by the source store. The target assigns its own.
var storeOwned = []string{"_pk", "_self", "_rid", "_etag", "_ts"}

// Handler applies DynamoDB stream records of a source collection to a target
// repository.
type Handler[T store.Document] struct {
	target *store.Repository[T]
	logger logrus.FieldLogger
}

// NewHandler creates a new stream handler writing to target.
func NewHandler[T store.Document](target *store.Repository[T], logger logrus.FieldLogger) *Handler[T] {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler[T]{
		target: target,
		logger: logger,
	}
}

// HandleReplication processes a batch of stream records in order.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler[T]) HandleReplication(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.WithFields(logrus.Fields{
				"eventID":   record.EventID,
				"eventName": record.EventName,
				"error":     err,
			}).Error("failed to process record")
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

func (h *Handler[T]) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	switch events.DynamoDBOperationType(record.EventName) {
	case events.DynamoDBOperationTypeInsert, events.DynamoDBOperationTypeModify:
		return h.apply(ctx, record.Change.NewImage)
	case events.DynamoDBOperationTypeRemove:
		return h.remove(ctx, record.Change.OldImage, record.Change.Keys)
	}
	return nil
}

// apply upserts the new image into the target.
func (h *Handler[T]) apply(ctx context.Context, image map[string]events.DynamoDBAttributeValue) error {
	doc, err := decodeImage[T](image)
	if err != nil {
		return err
	}
	if _, err := h.target.Upsert(ctx, doc); err != nil {
		return errors.Wrapf(err, "replicate %s", doc.Identity())
	}
	h.logger.WithFields(logrus.Fields{
		"kind": h.target.Schema().Kind(),
		"id":   doc.Identity(),
	}).Debug("replicated document")
	return nil
}

// remove deletes the target copy of the old image. The old image must carry
// the partition-key fields, so the stream view has to include OLD_IMAGE.
func (h *Handler[T]) remove(ctx context.Context, image, keys map[string]events.DynamoDBAttributeValue) error {
	id := getStringAttr(image, store.IDField)
	if id == "" {
		id = getStringAttr(keys, store.IDField)
	}
	if id == "" {
		return errors.Wrap(store.ErrConfiguration, "remove record carries no id")
	}

	fields := h.target.Schema().PartitionKeys()
	values := make([]string, 0, len(fields))
	for _, f := range fields {
		v := getStringAttr(image, f)
		if v == "" {
			return errors.Wrapf(store.ErrConfiguration, "remove %s: old image lacks partition key %s", id, f)
		}
		values = append(values, v)
	}

	existing, found, err := h.target.GetByID(ctx, id, values...)
	if err != nil {
		return err
	}
	if !found {
		h.logger.WithField("id", id).Debug("document already absent from target")
		return nil
	}
	if _, err := h.target.Remove(ctx, existing); err != nil {
		return errors.Wrapf(err, "remove %s", id)
	}
	return nil
}

// decodeImage converts a stream image to T through its JSON shape, without
// the store-owned attributes.
func decodeImage[T any](image map[string]events.DynamoDBAttributeValue) (T, error) {
	var doc T
	m, err := imageToJSON(image)
	if err != nil {
		return doc, err
	}
	for _, k := range storeOwned {
		delete(m, k)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return doc, errors.Wrap(err, "encode image")
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, errors.Wrap(err, "decode image")
	}
	return doc, nil
}

// imageToJSON converts a stream image to a JSON-shaped map.
func imageToJSON(image map[string]events.DynamoDBAttributeValue) (map[string]interface{}, error) {
	m := make(map[string]interface{}, len(image))
	for k, v := range image {
		x, err := attrValue(v)
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %s", k)
		}
		m[k] = x
	}
	return m, nil
}

// attrValue converts one stream attribute to its JSON form. Numbers keep
// their decimal text.
func attrValue(v events.DynamoDBAttributeValue) (interface{}, error) {
	switch v.DataType() {
	case events.DataTypeString:
		return v.String(), nil
	case events.DataTypeNumber:
		return json.Number(v.Number()), nil
	case events.DataTypeBoolean:
		return v.Boolean(), nil
	case events.DataTypeNull:
		return nil, nil
	case events.DataTypeBinary:
		return v.Binary(), nil
	case events.DataTypeStringSet:
		return v.StringSet(), nil
	case events.DataTypeNumberSet:
		out := make([]json.Number, 0, len(v.NumberSet()))
		for _, n := range v.NumberSet() {
			out = append(out, json.Number(n))
		}
		return out, nil
	case events.DataTypeBinarySet:
		return v.BinarySet(), nil
	case events.DataTypeList:
		out := make([]interface{}, 0, len(v.List()))
		for _, item := range v.List() {
			x, err := attrValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, x)
		}
		return out, nil
	case events.DataTypeMap:
		return imageToJSON(v.Map())
	}
	return nil, errors.Errorf("unsupported attribute type %v", v.DataType())
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}
