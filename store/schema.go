package store

// Schema describes a document type: its kind tag and the ordered list of
// partition-key field names. A Schema is built once per type and never mutated.
type Schema struct {
	kind          string
	partitionKeys []string
}

// NewSchema creates a Schema for kind with the given partition-key field names.
func NewSchema(kind string, partitionKeys ...string) Schema {
	keys := make([]string, len(partitionKeys))
	copy(keys, partitionKeys)
	return Schema{kind: kind, partitionKeys: keys}
}

// Kind returns the document-kind tag.
func (s Schema) Kind() string { return s.kind }

// PartitionKeys returns a copy of the declared partition-key field names.
func (s Schema) PartitionKeys() []string {
	keys := make([]string, len(s.partitionKeys))
	copy(keys, s.partitionKeys)
	return keys
}

// Partitioned reports whether the type declares any partition key.
func (s Schema) Partitioned() bool { return len(s.partitionKeys) > 0 }

// Validate checks that the declared names are usable field names.
func (s Schema) Validate() error {
	if s.kind == "" {
		return configErrorf("schema has no kind")
	}
	seen := make(map[string]bool, len(s.partitionKeys))
	for _, key := range s.partitionKeys {
		if !isFieldName(key) {
			return configErrorf("schema %s: invalid partition key %q", s.kind, key)
		}
		if key == IDField || seen[key] {
			return configErrorf("schema %s: partition key %q declared twice", s.kind, key)
		}
		seen[key] = true
	}
	return nil
}

// Check reports an ErrConfiguration when doc doesn't resolve a non-empty
// value for every declared partition key.
func (s Schema) Check(doc Document) error {
	_, err := s.partitionValues(doc)
	return err
}

// partitionValues reads the partition-key values of doc and checks them
// against the declared keys.
func (s Schema) partitionValues(doc Document) ([]string, error) {
	values := doc.PartitionKeyValues()
	if len(values) != len(s.partitionKeys) {
		missing := ""
		if len(values) < len(s.partitionKeys) {
			missing = s.partitionKeys[len(values)]
		}
		return nil, configErrorf("schema %s: unable to resolve partition key %q (declared %d, got %d)",
			s.kind, missing, len(s.partitionKeys), len(values))
	}
	for i, v := range values {
		if v == "" {
			return nil, configErrorf("schema %s: value for partition key %q cannot be empty", s.kind, s.partitionKeys[i])
		}
	}
	return values, nil
}
