package schemadef

import "fmt"

type OpKind string

const (
	OpCreateConstraint  OpKind = "create_constraint"
	OpDropConstraint    OpKind = "drop_constraint"
	OpCreateVectorIndex OpKind = "create_vector_index"
	OpDropVectorIndex   OpKind = "drop_vector_index"
	OpRemoveLabel       OpKind = "remove_label"
	OpRemoveProperty    OpKind = "remove_property"
)

// Operation is one graph-store action of a migration plan. Cypher is the
// statement the commit executes; destructive ops carry Unsafe from the diff
// change they came from.
type Operation struct {
	Kind   OpKind `json:"kind"`
	Target string `json:"target"`
	Cypher string `json:"cypher"`
	Unsafe bool   `json:"unsafe"`
}

// BuildPlan turns a target definition plus the diff against the currently
// applied definition into the ordered operation list a commit performs.
// Drops run before creates so a rebuilt index never collides with itself.
func BuildPlan(target *Definition, changes []Change) []Operation {
	var drops, creates []Operation

	for _, ch := range changes {
		switch ch.Kind {
		case ChangeRemoveConstraint, ChangeAlterConstraint:
			drops = append(drops, Operation{
				Kind:   OpDropConstraint,
				Target: ch.Target,
				Cypher: fmt.Sprintf("DROP CONSTRAINT %s IF EXISTS", ch.Target),
				Unsafe: true,
			})
		case ChangeRemoveVectorIndex, ChangeRebuildVectorIndex:
			drops = append(drops, Operation{
				Kind:   OpDropVectorIndex,
				Target: ch.Target,
				Cypher: fmt.Sprintf("DROP INDEX %s IF EXISTS", ch.Target),
				Unsafe: true,
			})
		case ChangeRemoveNodeType:
			drops = append(drops, Operation{
				Kind:   OpRemoveLabel,
				Target: ch.Target,
				Cypher: fmt.Sprintf("MATCH (n:`%s`) REMOVE n:`%s`", ch.Target, ch.Target),
				Unsafe: true,
			})
		case ChangeRemoveProperty:
			node, prop := splitTarget(ch.Target)
			drops = append(drops, Operation{
				Kind:   OpRemoveProperty,
				Target: ch.Target,
				Cypher: fmt.Sprintf("MATCH (n:`%s`) REMOVE n.`%s`", node, prop),
				Unsafe: true,
			})
		}
	}

	for _, ch := range changes {
		switch ch.Kind {
		case ChangeAddConstraint, ChangeAlterConstraint:
			if c := findConstraint(target, ch.Target); c != nil {
				creates = append(creates, Operation{
					Kind:   OpCreateConstraint,
					Target: c.Name,
					Cypher: constraintCypher(*c),
					Unsafe: ch.Unsafe,
				})
			}
		case ChangeAddVectorIndex, ChangeRebuildVectorIndex:
			if vi := findVectorIndex(target, ch.Target); vi != nil {
				creates = append(creates, Operation{
					Kind:   OpCreateVectorIndex,
					Target: vi.Name,
					Cypher: vectorIndexCypher(*vi),
				})
			}
		}
	}

	return append(drops, creates...)
}

func constraintCypher(c Constraint) string {
	switch c.Kind {
	case ConstraintUnique:
		return fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:`%s`) REQUIRE n.`%s` IS UNIQUE", c.Name, c.NodeType, c.Property)
	default:
		return fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:`%s`) REQUIRE n.`%s` IS NOT NULL", c.Name, c.NodeType, c.Property)
	}
}

func vectorIndexCypher(vi VectorIndex) string {
	sim := vi.Similarity
	if sim == "" {
		sim = "cosine"
	}
	return fmt.Sprintf(
		"CREATE VECTOR INDEX %s IF NOT EXISTS FOR (n:`%s`) ON (n.`%s`) OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: '%s'}}",
		vi.Name, vi.NodeType, vi.Property, vi.Dimension, sim,
	)
}

func findConstraint(d *Definition, name string) *Constraint {
	for i := range d.Constraints {
		if d.Constraints[i].Name == name {
			return &d.Constraints[i]
		}
	}
	return nil
}

func findVectorIndex(d *Definition, name string) *VectorIndex {
	for i := range d.VectorIndexes {
		if d.VectorIndexes[i].Name == name {
			return &d.VectorIndexes[i]
		}
	}
	return nil
}

func splitTarget(t string) (node, prop string) {
	for i := 0; i < len(t); i++ {
		if t[i] == '.' {
			return t[:i], t[i+1:]
		}
	}
	return t, ""
}
