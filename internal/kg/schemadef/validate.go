package schemadef

import "fmt"

// Violation is one structural problem found in a definition.
type Violation struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

func (v Violation) String() string { return v.Field + ": " + v.Msg }

// Validate runs every structural check and returns the complete violation
// list, so a caller can fix all issues in one round trip.
func (d *Definition) Validate() []Violation {
	var out []Violation

	if len(d.NodeTypes) == 0 {
		out = append(out, Violation{Field: "node_types", Msg: "at least one node type is required"})
	}

	seenNodes := map[string]bool{}
	for _, nt := range d.NodeTypes {
		if nt.Name == "" {
			out = append(out, Violation{Field: "node_types", Msg: "node type with empty name"})
			continue
		}
		if seenNodes[nt.Name] {
			out = append(out, Violation{Field: "node_types." + nt.Name, Msg: "duplicate node type name"})
		}
		seenNodes[nt.Name] = true
		seenProps := map[string]bool{}
		for _, p := range nt.Properties {
			if seenProps[p.Name] {
				out = append(out, Violation{
					Field: fmt.Sprintf("node_types.%s.%s", nt.Name, p.Name),
					Msg:   "duplicate property name",
				})
			}
			seenProps[p.Name] = true
		}
	}

	seenRels := map[string]bool{}
	for _, rt := range d.RelationshipTypes {
		if seenRels[rt.Name] {
			out = append(out, Violation{Field: "relationship_types." + rt.Name, Msg: "duplicate relationship type name"})
		}
		seenRels[rt.Name] = true
		if !seenNodes[rt.StartNode] {
			out = append(out, Violation{
				Field: "relationship_types." + rt.Name,
				Msg:   fmt.Sprintf("start node type %q is not declared", rt.StartNode),
			})
		}
		if !seenNodes[rt.EndNode] {
			out = append(out, Violation{
				Field: "relationship_types." + rt.Name,
				Msg:   fmt.Sprintf("end node type %q is not declared", rt.EndNode),
			})
		}
	}

	seenConstraints := map[string]bool{}
	for _, c := range d.Constraints {
		if seenConstraints[c.Name] {
			out = append(out, Violation{Field: "constraints." + c.Name, Msg: "duplicate constraint name"})
		}
		seenConstraints[c.Name] = true
		if c.Kind != ConstraintUnique && c.Kind != ConstraintExists {
			out = append(out, Violation{
				Field: "constraints." + c.Name,
				Msg:   fmt.Sprintf("unknown constraint kind %q", c.Kind),
			})
		}
		nt := d.nodeType(c.NodeType)
		if nt == nil {
			out = append(out, Violation{
				Field: "constraints." + c.Name,
				Msg:   fmt.Sprintf("node type %q is not declared", c.NodeType),
			})
			continue
		}
		if nt.property(c.Property) == nil {
			out = append(out, Violation{
				Field: "constraints." + c.Name,
				Msg:   fmt.Sprintf("property %q is not declared on node type %q", c.Property, c.NodeType),
			})
		}
	}

	seenIndexes := map[string]bool{}
	for _, vi := range d.VectorIndexes {
		if seenIndexes[vi.Name] {
			out = append(out, Violation{Field: "vector_indexes." + vi.Name, Msg: "duplicate vector index name"})
		}
		seenIndexes[vi.Name] = true
		if vi.Dimension <= 0 {
			out = append(out, Violation{
				Field: "vector_indexes." + vi.Name,
				Msg:   fmt.Sprintf("dimension must be a positive integer, got %d", vi.Dimension),
			})
		}
		nt := d.nodeType(vi.NodeType)
		if nt == nil {
			out = append(out, Violation{
				Field: "vector_indexes." + vi.Name,
				Msg:   fmt.Sprintf("node type %q is not declared", vi.NodeType),
			})
			continue
		}
		if nt.property(vi.Property) == nil {
			out = append(out, Violation{
				Field: "vector_indexes." + vi.Name,
				Msg:   fmt.Sprintf("property %q is not declared on node type %q", vi.Property, vi.NodeType),
			})
		}
	}

	return out
}
