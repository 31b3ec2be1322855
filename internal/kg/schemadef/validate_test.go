package schemadef

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func paperSchema() *Definition {
	return &Definition{
		NodeTypes: []NodeType{
			{Name: "Paper", Properties: []Property{
				{Name: "arxiv_id", Type: PropString, Required: true},
				{Name: "title", Type: PropString},
				{Name: "embedding", Type: PropVector},
			}},
			{Name: "Author", Properties: []Property{
				{Name: "name", Type: PropString, Required: true},
			}},
		},
		RelationshipTypes: []RelationshipType{
			{Name: "AUTHORED_BY", StartNode: "Paper", EndNode: "Author"},
		},
		Constraints: []Constraint{
			{Name: "paper_arxiv_unique", Kind: ConstraintUnique, NodeType: "Paper", Property: "arxiv_id"},
		},
		VectorIndexes: []VectorIndex{
			{Name: "paper_embedding_idx", NodeType: "Paper", Property: "embedding", Dimension: 1536},
		},
	}
}

func TestValidateCleanDefinition(t *testing.T) {
	def := &Definition{
		NodeTypes: []NodeType{{Name: "Paper", Properties: []Property{{Name: "title", Type: PropString}}}},
	}
	require.Empty(t, def.Validate())
}

func TestValidateFullDefinition(t *testing.T) {
	require.Empty(t, paperSchema().Validate())
}

func TestValidateDanglingRelationship(t *testing.T) {
	def := paperSchema()
	def.RelationshipTypes = append(def.RelationshipTypes, RelationshipType{
		Name: "CITES", StartNode: "Paper", EndNode: "Citation",
	})
	vs := def.Validate()
	require.Len(t, vs, 1)
	require.Equal(t, "relationship_types.CITES", vs[0].Field)
	require.Contains(t, vs[0].Msg, `"Citation"`)
}

// Renaming a property out from under a constraint must produce exactly one
// violation, and that violation must name the constraint.
func TestValidateConstraintOnRenamedProperty(t *testing.T) {
	def := paperSchema()
	def.NodeTypes[0].Properties[0].Name = "arxiv_identifier"
	vs := def.Validate()
	require.Len(t, vs, 1)
	require.Equal(t, "constraints.paper_arxiv_unique", vs[0].Field)
	require.Contains(t, vs[0].Msg, `"arxiv_id"`)
}

func TestValidateCollectsAllViolations(t *testing.T) {
	def := &Definition{
		NodeTypes: []NodeType{
			{Name: "Paper"},
			{Name: "Paper"},
		},
		Constraints: []Constraint{
			{Name: "bad", Kind: ConstraintUnique, NodeType: "Missing", Property: "x"},
		},
		VectorIndexes: []VectorIndex{
			{Name: "idx", NodeType: "Paper", Property: "vec", Dimension: 0},
		},
	}
	vs := def.Validate()
	// duplicate node type, constraint on missing node type, zero dimension,
	// index property not declared
	require.Len(t, vs, 4)
}

func TestParseRejectsEmptyAndMalformed(t *testing.T) {
	_, err := Parse(nil)
	require.Error(t, err)
	_, err = Parse([]byte("{not json"))
	require.Error(t, err)

	def, err := Parse([]byte(`{"node_types":[{"name":"Paper"}]}`))
	require.NoError(t, err)
	require.Len(t, def.NodeTypes, 1)
}
