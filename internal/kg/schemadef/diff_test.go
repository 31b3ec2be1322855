package schemadef

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiffAdditiveOnlyIsSafe(t *testing.T) {
	v1 := paperSchema()
	v2 := paperSchema()
	v2.NodeTypes = append(v2.NodeTypes, NodeType{Name: "Topic"})
	v2.RelationshipTypes = append(v2.RelationshipTypes, RelationshipType{
		Name: "ABOUT", StartNode: "Paper", EndNode: "Topic",
	})

	changes := Diff(v1, v2)
	require.Len(t, changes, 2)
	require.False(t, HasUnsafe(changes))
}

// Renaming a property is a remove + add; the removal must be flagged unsafe.
func TestDiffPropertyRenameIsUnsafe(t *testing.T) {
	v1 := paperSchema()
	v2 := paperSchema()
	v2.NodeTypes[0].Properties[0].Name = "arxiv_identifier"

	changes := Diff(v1, v2)
	require.True(t, HasUnsafe(changes))

	var removed *Change
	for i := range changes {
		if changes[i].Kind == ChangeRemoveProperty {
			removed = &changes[i]
		}
	}
	require.NotNil(t, removed)
	require.Equal(t, "Paper.arxiv_id", removed.Target)
	require.True(t, removed.Unsafe)
}

func TestDiffPropertyTypeChange(t *testing.T) {
	v1 := paperSchema()
	v2 := paperSchema()
	v2.NodeTypes[0].Properties[1].Type = PropInt

	changes := Diff(v1, v2)
	require.Len(t, changes, 1)
	require.Equal(t, ChangeAlterProperty, changes[0].Kind)
	require.Equal(t, "Paper.title", changes[0].Target)
	require.True(t, changes[0].Unsafe)
}

func TestDiffVectorIndexRebuild(t *testing.T) {
	v1 := paperSchema()
	v2 := paperSchema()
	v2.VectorIndexes[0].Dimension = 768

	changes := Diff(v1, v2)
	require.Len(t, changes, 1)
	require.Equal(t, ChangeRebuildVectorIndex, changes[0].Kind)
	require.True(t, changes[0].Unsafe)
}

func TestBuildPlanDropsBeforeCreates(t *testing.T) {
	v1 := paperSchema()
	v2 := paperSchema()
	v2.VectorIndexes[0].Dimension = 768
	v2.Constraints = append(v2.Constraints, Constraint{
		Name: "author_name_exists", Kind: ConstraintExists, NodeType: "Author", Property: "name",
	})

	ops := BuildPlan(v2, Diff(v1, v2))
	require.Len(t, ops, 3)
	require.Equal(t, OpDropVectorIndex, ops[0].Kind)
	require.Equal(t, OpCreateConstraint, ops[1].Kind)
	require.Equal(t, OpCreateVectorIndex, ops[2].Kind)
	require.Contains(t, ops[2].Cypher, "`vector.dimensions`: 768")
}

func TestBuildPlanEmptyDiff(t *testing.T) {
	v1 := paperSchema()
	require.Empty(t, BuildPlan(v1, Diff(v1, v1)))
}
