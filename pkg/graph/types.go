// Package graph provides the in-memory knowledge graph model for ipfskg.
//
// A Graph owns typed entities and directed, typed relationships between
// them, plus secondary indexes kept consistent on every mutation:
//   - entities by type and by scalar property value
//   - relationships by type, by source, by target and by (source, target)
//
// Mutations validate before touching any index, so a failed call leaves the
// graph unchanged. Removing an entity removes every relationship that
// touches it.
//
// Iteration order is insertion order everywhere, which keeps traversal and
// every algorithm built on it deterministic.
//
// Example Usage:
//
//	g := graph.New()
//	ada := &graph.Entity{Type: "person", Name: "Ada Lovelace", Confidence: 1}
//	engine := &graph.Entity{Type: "machine", Name: "Analytical Engine", Confidence: 1}
//	_ = g.AddEntity(ada)
//	_ = g.AddEntity(engine)
//
//	_ = g.AddRelationship(&graph.Relationship{
//		Type:       "worked_on",
//		SourceID:   ada.ID,
//		TargetID:   engine.ID,
//		Confidence: 0.9,
//	})
//
//	reachable, _ := g.Traverse(ada.ID, graph.TraverseOptions{MaxDepth: 2})
package graph

import (
	"fmt"
	"maps"

	"github.com/endomorphosis/ipfskg/pkg/convert"
	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
)

// Errors returned by graph operations.
var (
	ErrEntityNotFound       = fmt.Errorf("entity %w", kgerrors.ErrNotFound)
	ErrRelationshipNotFound = fmt.Errorf("relationship %w", kgerrors.ErrNotFound)
	ErrNoPath               = fmt.Errorf("path %w", kgerrors.ErrNotFound)
	ErrMissingEndpoint      = fmt.Errorf("%w: relationship endpoint does not exist", kgerrors.ErrValidation)
	ErrAlreadyExists        = fmt.Errorf("%w: id already exists", kgerrors.ErrValidation)
	ErrInvalidConfidence    = fmt.Errorf("%w: confidence must be within [0, 1]", kgerrors.ErrValidation)
	ErrMissingType          = fmt.Errorf("%w: type is required", kgerrors.ErrValidation)
	ErrInvalidDirection     = fmt.Errorf("%w: unknown direction", kgerrors.ErrValidation)
)

// EntityID uniquely identifies an entity within a graph.
type EntityID string

// RelationshipID uniquely identifies a relationship within a graph.
type RelationshipID string

// Properties holds arbitrary key-value data. Values are JSON-compatible:
// strings, numbers, booleans, nil, []any and map[string]any.
type Properties map[string]any

// Entity is a typed node of the knowledge graph.
//
// Fields:
//   - ID: unique identifier; generated when empty on insertion
//   - Type: entity type such as "person" or "organization" (required)
//   - Name: human-readable name
//   - Properties: replaced as a whole, never edited in place
//   - Confidence: extraction confidence in [0, 1]
//   - SourceText: optional provenance text
type Entity struct {
	ID         EntityID   `json:"id"`
	Type       string     `json:"type"`
	Name       string     `json:"name"`
	Properties Properties `json:"properties,omitempty"`
	Confidence float64    `json:"confidence"`
	SourceText string     `json:"source_text,omitempty"`
}

// Relationship is a directed, typed edge between two entities.
//
// Symmetry is never implicit: a mutual relation is two relationships.
type Relationship struct {
	ID         RelationshipID `json:"id"`
	Type       string         `json:"type"`
	SourceID   EntityID       `json:"source_id"`
	TargetID   EntityID       `json:"target_id"`
	Properties Properties     `json:"properties,omitempty"`
	Confidence float64        `json:"confidence"`
	SourceText string         `json:"source_text,omitempty"`
}

// Direction selects which relationships a traversal follows.
type Direction string

const (
	Outgoing Direction = "out"
	Incoming Direction = "in"
	Both     Direction = "both"
)

// ParseDirection validates a direction name. Empty means Outgoing.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Outgoing, Incoming, Both:
		return d, nil
	case "":
		return Outgoing, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// EntityPredicate decides whether a traversal may visit an entity.
type EntityPredicate func(*Entity) bool

// PropertiesPredicate decides whether a traversal may follow a relationship,
// given its properties.
type PropertiesPredicate func(Properties) bool

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Properties = e.Properties.Clone()
	return &c
}

// Clone returns a deep copy of the relationship.
func (r *Relationship) Clone() *Relationship {
	if r == nil {
		return nil
	}
	c := *r
	c.Properties = r.Properties.Clone()
	return &c
}

// Clone deep-copies nested maps and slices.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = cloneValue(x)
		}
		return m
	case Properties:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, x := range t {
			s[i] = cloneValue(x)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

// Float returns a numeric property as float64.
func (p Properties) Float(key string) (float64, bool) {
	return convert.ToFloat64(p[key])
}

// Strings returns a list-of-strings property.
func (p Properties) Strings(key string) ([]string, bool) {
	return convert.ToStringSlice(p[key])
}

// Merge returns a copy of p with other's keys added; existing keys in p win
// unless overwrite is set.
func (p Properties) Merge(other Properties, overwrite bool) Properties {
	out := p.Clone()
	if out == nil {
		out = make(Properties, len(other))
	}
	for k, v := range other {
		if _, exists := out[k]; exists && !overwrite {
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Stats summarises graph contents.
type Stats struct {
	EntityCount       int            `json:"entity_count"`
	RelationshipCount int            `json:"relationship_count"`
	EntityTypes       map[string]int `json:"entity_types"`
	RelationshipTypes map[string]int `json:"relationship_types"`
}

// Clone copies the stats maps.
func (s Stats) Clone() Stats {
	s.EntityTypes = maps.Clone(s.EntityTypes)
	s.RelationshipTypes = maps.Clone(s.RelationshipTypes)
	return s
}

// Validate checks the fields every entity must carry. It does not look at
// any graph.
func (e *Entity) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil entity", ErrMissingType)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: entity %q", ErrMissingType, e.ID)
	}
	if !validConfidence(e.Confidence) {
		return fmt.Errorf("%w: entity %q has %v", ErrInvalidConfidence, e.ID, e.Confidence)
	}
	return nil
}

// Validate checks the fields every relationship must carry. Endpoints are
// checked by AddRelationship.
func (r *Relationship) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil relationship", ErrMissingType)
	}
	if r.Type == "" {
		return fmt.Errorf("%w: relationship %q", ErrMissingType, r.ID)
	}
	if !validConfidence(r.Confidence) {
		return fmt.Errorf("%w: relationship %q has %v", ErrInvalidConfidence, r.ID, r.Confidence)
	}
	return nil
}

func validConfidence(c float64) bool {
	return c >= 0 && c <= 1
}
