// Package shard computes partition keys and write buckets for partitioned
// DynamoDB collections.
package shard

import (
	"hash/fnv"
	"strings"
)

// Unpartitioned is the partition key of every document in a collection that
// declares no partition-key fields.
const Unpartitioned = "_"

// separator joins composite partition-key values. It can't appear in a
// value without being escaped.
const separator = "#"

// PartitionKey joins partition-key values, in declared order, into the
// single hash-key attribute stored with each document.
// With no values, all documents share the Unpartitioned key.
func PartitionKey(values []string) string {
	if len(values) == 0 {
		return Unpartitioned
	}
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = strings.ReplaceAll(strings.ReplaceAll(v, `\`, `\\`), separator, `\`+separator)
	}
	return strings.Join(escaped, separator)
}

// Bucket spreads partition keys over numBuckets write buckets.
// With numBuckets<=1, every key goes to bucket 0.
func Bucket(partitionKey string, numBuckets int) int {
	if numBuckets <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(partitionKey))
	return int(h.Sum32() % uint32(numBuckets))
}
