// Package schemadef models the shape of a lab's knowledge graph: node and
// relationship types, property constraints, and vector indexes. It is pure
// logic — validation, version diffing, and migration planning — with no
// store dependencies.
package schemadef

import (
	"encoding/json"
	"fmt"
)

type PropertyType string

const (
	PropString   PropertyType = "string"
	PropInt      PropertyType = "int"
	PropFloat    PropertyType = "float"
	PropBool     PropertyType = "bool"
	PropDatetime PropertyType = "datetime"
	PropVector   PropertyType = "vector"
)

type Property struct {
	Name     string       `json:"name"`
	Type     PropertyType `json:"type"`
	Required bool         `json:"required,omitempty"`
}

type NodeType struct {
	Name       string     `json:"name"`
	Properties []Property `json:"properties,omitempty"`
}

type RelationshipType struct {
	Name       string     `json:"name"`
	StartNode  string     `json:"start_node"`
	EndNode    string     `json:"end_node"`
	Properties []Property `json:"properties,omitempty"`
}

type ConstraintKind string

const (
	ConstraintUnique ConstraintKind = "unique"
	ConstraintExists ConstraintKind = "exists"
)

type Constraint struct {
	Name     string         `json:"name"`
	Kind     ConstraintKind `json:"kind"`
	NodeType string         `json:"node_type"`
	Property string         `json:"property"`
}

type VectorIndex struct {
	Name       string `json:"name"`
	NodeType   string `json:"node_type"`
	Property   string `json:"property"`
	Dimension  int    `json:"dimension"`
	Similarity string `json:"similarity,omitempty"` // cosine (default) or euclidean
}

// Definition is the immutable body of one schema version.
type Definition struct {
	NodeTypes         []NodeType         `json:"node_types"`
	RelationshipTypes []RelationshipType `json:"relationship_types,omitempty"`
	Constraints       []Constraint       `json:"constraints,omitempty"`
	VectorIndexes     []VectorIndex      `json:"vector_indexes,omitempty"`
}

// Parse decodes a stored definition body.
func Parse(raw []byte) (*Definition, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty schema definition")
	}
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("decode schema definition: %w", err)
	}
	return &def, nil
}

func (d *Definition) nodeType(name string) *NodeType {
	for i := range d.NodeTypes {
		if d.NodeTypes[i].Name == name {
			return &d.NodeTypes[i]
		}
	}
	return nil
}

func (d *Definition) relationshipType(name string) *RelationshipType {
	for i := range d.RelationshipTypes {
		if d.RelationshipTypes[i].Name == name {
			return &d.RelationshipTypes[i]
		}
	}
	return nil
}

func (n *NodeType) property(name string) *Property {
	for i := range n.Properties {
		if n.Properties[i].Name == name {
			return &n.Properties[i]
		}
	}
	return nil
}
