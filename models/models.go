// Package models defines the document types moved by docferry and their
// schemas.
package models

import (
	"github.com/google/uuid"

	"github.com/jacentio/docferry/store"
)

// Kind tags. They name the staging directory of each type and are the
// values accepted by the control file's model field.
const (
	KindApplicabilityScope = "ApplicabilityScope"
	KindControl            = "Control"
	KindNodeMapping        = "NodeMapping"
)

// BaseDocument carries the fields shared by every model.
type BaseDocument struct {
	store.Resource
	DocumentType string `json:"documentType,omitempty"`
}

// ApplicabilityScope scopes a control to the resources matched by Filter.
// Its fields keep their exported names on the wire.
type ApplicabilityScope struct {
	BaseDocument
	Scope     string                 `json:"Scope"`
	ControlID string                 `json:"ControlId"`
	Filter    map[string]interface{} `json:"Filter"`
}

// Control is a typed control with a free-form configuration.
type Control struct {
	BaseDocument
	Type          string                 `json:"type"`
	Configuration map[string]interface{} `json:"configuration"`
}

// NodeMapping maps an artifact to a node. Times are epoch values.
type NodeMapping struct {
	BaseDocument
	ArtifactType string    `json:"artifactType"`
	ArtifactID   string    `json:"artifactId"`
	NodeID       string    `json:"nodeId"`
	CreatedWhen  int64     `json:"createdWhen"`
	CreatedBy    uuid.UUID `json:"createdBy"`
	ModifiedWhen int64     `json:"modifiedWhen"`
	ModifiedBy   uuid.UUID `json:"modifiedBy"`
}

// None of the models is partitioned.
var (
	ApplicabilityScopeSchema = store.NewSchema(KindApplicabilityScope)
	ControlSchema            = store.NewSchema(KindControl)
	NodeMappingSchema        = store.NewSchema(KindNodeMapping)
)

// Register adds the schemas of all models to reg.
func Register(reg *store.Registry) error {
	for _, s := range []store.Schema{ApplicabilityScopeSchema, ControlSchema, NodeMappingSchema} {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the schemas of all models.
func NewRegistry() *store.Registry {
	reg := store.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}
