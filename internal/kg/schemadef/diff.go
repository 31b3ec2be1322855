package schemadef

import "fmt"

type ChangeKind string

const (
	ChangeAddNodeType         ChangeKind = "add_node_type"
	ChangeRemoveNodeType      ChangeKind = "remove_node_type"
	ChangeAddRelationship     ChangeKind = "add_relationship"
	ChangeRemoveRelationship  ChangeKind = "remove_relationship"
	ChangeAlterRelationship   ChangeKind = "alter_relationship"
	ChangeAddProperty         ChangeKind = "add_property"
	ChangeRemoveProperty      ChangeKind = "remove_property"
	ChangeAlterProperty       ChangeKind = "alter_property"
	ChangeAddConstraint       ChangeKind = "add_constraint"
	ChangeRemoveConstraint    ChangeKind = "remove_constraint"
	ChangeAlterConstraint     ChangeKind = "alter_constraint"
	ChangeAddVectorIndex      ChangeKind = "add_vector_index"
	ChangeRemoveVectorIndex   ChangeKind = "remove_vector_index"
	ChangeRebuildVectorIndex  ChangeKind = "rebuild_vector_index"
)

// Change is one step of a version-to-version diff. Unsafe changes remove or
// narrow structure that existing data may rely on.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	Target string     `json:"target"`
	Detail string     `json:"detail,omitempty"`
	Unsafe bool       `json:"unsafe"`
}

// Diff computes the ordered change list that turns old into new. Order is
// stable: node types, properties, relationships, constraints, vector
// indexes, additions before removals within each group.
func Diff(old, new *Definition) []Change {
	var out []Change

	for _, nt := range new.NodeTypes {
		if old.nodeType(nt.Name) == nil {
			out = append(out, Change{Kind: ChangeAddNodeType, Target: nt.Name})
		}
	}
	for _, nt := range old.NodeTypes {
		if new.nodeType(nt.Name) == nil {
			out = append(out, Change{Kind: ChangeRemoveNodeType, Target: nt.Name, Unsafe: true})
		}
	}

	for _, nt := range new.NodeTypes {
		prev := old.nodeType(nt.Name)
		if prev == nil {
			continue
		}
		out = append(out, diffProperties(nt.Name, prev, &nt)...)
	}

	for _, rt := range new.RelationshipTypes {
		prev := old.relationshipType(rt.Name)
		if prev == nil {
			out = append(out, Change{Kind: ChangeAddRelationship, Target: rt.Name})
			continue
		}
		if prev.StartNode != rt.StartNode || prev.EndNode != rt.EndNode {
			out = append(out, Change{
				Kind:   ChangeAlterRelationship,
				Target: rt.Name,
				Detail: fmt.Sprintf("endpoints (%s)->(%s) changed to (%s)->(%s)", prev.StartNode, prev.EndNode, rt.StartNode, rt.EndNode),
				Unsafe: true,
			})
		}
	}
	for _, rt := range old.RelationshipTypes {
		if new.relationshipType(rt.Name) == nil {
			out = append(out, Change{Kind: ChangeRemoveRelationship, Target: rt.Name, Unsafe: true})
		}
	}

	out = append(out, diffConstraints(old, new)...)
	out = append(out, diffVectorIndexes(old, new)...)
	return out
}

func diffProperties(nodeName string, prev, next *NodeType) []Change {
	var out []Change
	for _, p := range next.Properties {
		pp := prev.property(p.Name)
		target := nodeName + "." + p.Name
		if pp == nil {
			out = append(out, Change{Kind: ChangeAddProperty, Target: target})
			continue
		}
		if pp.Type != p.Type {
			out = append(out, Change{
				Kind:   ChangeAlterProperty,
				Target: target,
				Detail: fmt.Sprintf("type %s changed to %s", pp.Type, p.Type),
				Unsafe: true,
			})
		} else if !pp.Required && p.Required {
			// Tightening an optional property narrows what existing nodes
			// may satisfy.
			out = append(out, Change{
				Kind:   ChangeAlterProperty,
				Target: target,
				Detail: "property became required",
				Unsafe: true,
			})
		}
	}
	for _, p := range prev.Properties {
		if next.property(p.Name) == nil {
			out = append(out, Change{Kind: ChangeRemoveProperty, Target: nodeName + "." + p.Name, Unsafe: true})
		}
	}
	return out
}

func diffConstraints(old, new *Definition) []Change {
	var out []Change
	oldByName := map[string]Constraint{}
	for _, c := range old.Constraints {
		oldByName[c.Name] = c
	}
	newByName := map[string]Constraint{}
	for _, c := range new.Constraints {
		newByName[c.Name] = c
	}
	for _, c := range new.Constraints {
		prev, ok := oldByName[c.Name]
		if !ok {
			// New uniqueness over existing data can fail on duplicates.
			out = append(out, Change{Kind: ChangeAddConstraint, Target: c.Name, Unsafe: c.Kind == ConstraintUnique})
			continue
		}
		if prev.Kind != c.Kind || prev.NodeType != c.NodeType || prev.Property != c.Property {
			out = append(out, Change{
				Kind:   ChangeAlterConstraint,
				Target: c.Name,
				Detail: fmt.Sprintf("%s(%s.%s) changed to %s(%s.%s)", prev.Kind, prev.NodeType, prev.Property, c.Kind, c.NodeType, c.Property),
				Unsafe: true,
			})
		}
	}
	for _, c := range old.Constraints {
		if _, ok := newByName[c.Name]; !ok {
			out = append(out, Change{Kind: ChangeRemoveConstraint, Target: c.Name, Unsafe: true})
		}
	}
	return out
}

func diffVectorIndexes(old, new *Definition) []Change {
	var out []Change
	oldByName := map[string]VectorIndex{}
	for _, vi := range old.VectorIndexes {
		oldByName[vi.Name] = vi
	}
	newByName := map[string]VectorIndex{}
	for _, vi := range new.VectorIndexes {
		newByName[vi.Name] = vi
	}
	for _, vi := range new.VectorIndexes {
		prev, ok := oldByName[vi.Name]
		if !ok {
			out = append(out, Change{Kind: ChangeAddVectorIndex, Target: vi.Name})
			continue
		}
		if prev != vi {
			out = append(out, Change{
				Kind:   ChangeRebuildVectorIndex,
				Target: vi.Name,
				Detail: "index definition changed; drop and recreate",
				Unsafe: true,
			})
		}
	}
	for _, vi := range old.VectorIndexes {
		if _, ok := newByName[vi.Name]; !ok {
			out = append(out, Change{Kind: ChangeRemoveVectorIndex, Target: vi.Name, Unsafe: true})
		}
	}
	return out
}

// HasUnsafe reports whether any change in the list is destructive.
func HasUnsafe(changes []Change) bool {
	for _, c := range changes {
		if c.Unsafe {
			return true
		}
	}
	return false
}
