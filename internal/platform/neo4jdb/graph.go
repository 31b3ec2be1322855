package neo4jdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/labgraph/labgraph-backend/internal/kg/schemadef"
)

// EntityNode is one node to merge into the graph, keyed by its schema's
// unique property.
type EntityNode struct {
	Label      string
	KeyProp    string
	KeyValue   any
	Properties map[string]any
}

// EntityRel merges one relationship between two keyed nodes.
type EntityRel struct {
	Type         string
	StartLabel   string
	StartKeyProp string
	StartKey     any
	EndLabel     string
	EndKeyProp   string
	EndKey       any
	Properties   map[string]any
}

// ApplyOperations runs the DDL of a migration plan in order. Schema commands
// run in autocommit sessions; Neo4j rejects them inside transaction
// functions.
func (c *Client) ApplyOperations(ctx context.Context, ops []schemadef.Operation) error {
	sess := c.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)
	for _, op := range ops {
		if strings.TrimSpace(op.Cypher) == "" {
			continue
		}
		if _, err := sess.Run(ctx, op.Cypher, nil); err != nil {
			return fmt.Errorf("neo4jdb: apply %s %s: %w", op.Kind, op.Target, err)
		}
		c.log.Info("Applied migration operation", "kind", op.Kind, "target", op.Target)
	}
	return nil
}

// Fingerprint hashes the structural state of the graph database: labels,
// relationship types, constraints and indexes, each sorted. Two databases
// with the same structure produce the same fingerprint regardless of data
// volume, so a dry-run plan can detect drift before commit.
func (c *Client) Fingerprint(ctx context.Context) (string, error) {
	sess := c.session(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	collect := func(query, col string) ([]string, error) {
		res, err := sess.Run(ctx, query, nil)
		if err != nil {
			return nil, err
		}
		var out []string
		for res.Next(ctx) {
			v, ok := res.Record().Get(col)
			if !ok || v == nil {
				continue
			}
			out = append(out, fmt.Sprint(v))
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		sort.Strings(out)
		return out, nil
	}

	labels, err := collect("CALL db.labels() YIELD label RETURN label", "label")
	if err != nil {
		return "", fmt.Errorf("neo4jdb: fingerprint labels: %w", err)
	}
	relTypes, err := collect("CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType", "relationshipType")
	if err != nil {
		return "", fmt.Errorf("neo4jdb: fingerprint relationship types: %w", err)
	}

	descriptors := func(query string) ([]string, error) {
		res, err := sess.Run(ctx, query, nil)
		if err != nil {
			return nil, err
		}
		var out []string
		for res.Next(ctx) {
			rec := res.Record()
			name, _ := rec.Get("name")
			typ, _ := rec.Get("type")
			lbls, _ := rec.Get("labelsOrTypes")
			props, _ := rec.Get("properties")
			out = append(out, fmt.Sprintf("%v|%v|%v|%v", name, typ, lbls, props))
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		sort.Strings(out)
		return out, nil
	}

	constraints, err := descriptors("SHOW CONSTRAINTS YIELD name, type, labelsOrTypes, properties RETURN name, type, labelsOrTypes, properties")
	if err != nil {
		return "", fmt.Errorf("neo4jdb: fingerprint constraints: %w", err)
	}
	indexes, err := descriptors("SHOW INDEXES YIELD name, type, labelsOrTypes, properties RETURN name, type, labelsOrTypes, properties")
	if err != nil {
		return "", fmt.Errorf("neo4jdb: fingerprint indexes: %w", err)
	}

	canon, err := json.Marshal(map[string][]string{
		"labels":      labels,
		"rel_types":   relTypes,
		"constraints": constraints,
		"indexes":     indexes,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Counts returns total nodes and relationships, used for migration plan
// estimates and export summaries.
func (c *Client) Counts(ctx context.Context) (int64, int64, error) {
	sess := c.session(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	out, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, "MATCH (n) RETURN count(n) AS nodes", nil)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		nodes, _ := rec.Get("nodes")

		res, err = tx.Run(ctx, "MATCH ()-[r]->() RETURN count(r) AS rels", nil)
		if err != nil {
			return nil, err
		}
		rec, err = res.Single(ctx)
		if err != nil {
			return nil, err
		}
		rels, _ := rec.Get("rels")
		return []int64{nodes.(int64), rels.(int64)}, nil
	})
	if err != nil {
		return 0, 0, err
	}
	pair := out.([]int64)
	return pair[0], pair[1], nil
}

// UpsertEntities merges nodes first, then relationships, inside one write
// transaction. MERGE on the key property makes the whole batch idempotent.
func (c *Client) UpsertEntities(ctx context.Context, nodes []EntityNode, rels []EntityRel) error {
	sess := c.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, n := range nodes {
			q := fmt.Sprintf(
				"MERGE (x:`%s` {`%s`: $key}) SET x += $props",
				n.Label, n.KeyProp,
			)
			if _, err := tx.Run(ctx, q, map[string]any{"key": n.KeyValue, "props": n.Properties}); err != nil {
				return nil, fmt.Errorf("merge node %s: %w", n.Label, err)
			}
		}
		for _, r := range rels {
			q := fmt.Sprintf(
				"MATCH (a:`%s` {`%s`: $startKey}), (b:`%s` {`%s`: $endKey}) MERGE (a)-[rel:`%s`]->(b) SET rel += $props",
				r.StartLabel, r.StartKeyProp, r.EndLabel, r.EndKeyProp, r.Type,
			)
			params := map[string]any{"startKey": r.StartKey, "endKey": r.EndKey, "props": r.Properties}
			if r.Properties == nil {
				params["props"] = map[string]any{}
			}
			if _, err := tx.Run(ctx, q, params); err != nil {
				return nil, fmt.Errorf("merge relationship %s: %w", r.Type, err)
			}
		}
		return nil, nil
	})
	return err
}

// DropVectorIndex and CreateVectorIndex back the index_rebuild job, which
// recreates every vector index of the active schema from scratch.
func (c *Client) DropVectorIndex(ctx context.Context, name string) error {
	sess := c.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, fmt.Sprintf("DROP INDEX `%s` IF EXISTS", name), nil)
	return err
}

func (c *Client) CreateVectorIndex(ctx context.Context, idx schemadef.VectorIndex) error {
	sess := c.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)
	q := fmt.Sprintf(
		"CREATE VECTOR INDEX `%s` IF NOT EXISTS FOR (n:`%s`) ON (n.`%s`) "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: '%s'}}",
		idx.Name, idx.NodeType, idx.Property, idx.Dimension, idx.Similarity,
	)
	_, err := sess.Run(ctx, q, nil)
	return err
}

// ExportedGraph is the full dump the data_export job serializes.
type ExportedGraph struct {
	Nodes         []map[string]any `json:"nodes"`
	Relationships []map[string]any `json:"relationships"`
}

// Export reads every node and relationship in batches. Intended for
// research-scale graphs; the caller decides where the dump goes.
func (c *Client) Export(ctx context.Context, batchSize int) (*ExportedGraph, error) {
	if batchSize < 1 {
		batchSize = 1000
	}
	sess := c.session(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	out := &ExportedGraph{}
	for skip := 0; ; skip += batchSize {
		res, err := sess.Run(ctx,
			"MATCH (n) RETURN labels(n) AS labels, properties(n) AS props, elementId(n) AS id "+
				"ORDER BY id SKIP $skip LIMIT $limit",
			map[string]any{"skip": skip, "limit": batchSize})
		if err != nil {
			return nil, err
		}
		n := 0
		for res.Next(ctx) {
			rec := res.Record()
			labels, _ := rec.Get("labels")
			props, _ := rec.Get("props")
			id, _ := rec.Get("id")
			out.Nodes = append(out.Nodes, map[string]any{"id": id, "labels": labels, "properties": props})
			n++
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		if n < batchSize {
			break
		}
	}
	for skip := 0; ; skip += batchSize {
		res, err := sess.Run(ctx,
			"MATCH (a)-[r]->(b) RETURN type(r) AS type, properties(r) AS props, "+
				"elementId(a) AS start, elementId(b) AS end, elementId(r) AS id "+
				"ORDER BY id SKIP $skip LIMIT $limit",
			map[string]any{"skip": skip, "limit": batchSize})
		if err != nil {
			return nil, err
		}
		n := 0
		for res.Next(ctx) {
			rec := res.Record()
			typ, _ := rec.Get("type")
			props, _ := rec.Get("props")
			start, _ := rec.Get("start")
			end, _ := rec.Get("end")
			id, _ := rec.Get("id")
			out.Relationships = append(out.Relationships, map[string]any{
				"id": id, "type": typ, "properties": props, "start": start, "end": end,
			})
			n++
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		if n < batchSize {
			break
		}
	}
	return out, nil
}
