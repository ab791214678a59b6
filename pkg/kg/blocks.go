package kg

import (
	"encoding/json"
	"fmt"

	"github.com/endomorphosis/ipfskg/pkg/graph"
	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
)

// Block type tags.
const (
	typeEntity       = "entity"
	typeRelationship = "relationship"
	typeRoot         = "knowledge_graph"
	typeChunkedField = "chunked_field"
)

type entityBlock struct {
	Type       string           `json:"type"`
	ID         graph.EntityID   `json:"id"`
	EntityType string           `json:"entity_type"`
	Name       string           `json:"name"`
	Properties graph.Properties `json:"properties"`
	Confidence float64          `json:"confidence"`
	SourceText string           `json:"source_text"`
	Embedding  []float32        `json:"embedding,omitempty"`
}

type relationshipBlock struct {
	Type             string               `json:"type"`
	ID               graph.RelationshipID `json:"id"`
	RelationshipType string               `json:"relationship_type"`
	SourceID         graph.EntityID       `json:"source_id"`
	TargetID         graph.EntityID       `json:"target_id"`
	Properties       graph.Properties     `json:"properties"`
	Confidence       float64              `json:"confidence"`
	SourceText       string               `json:"source_text"`
}

func newEntityBlock(e *graph.Entity, embedding []float32) entityBlock {
	return entityBlock{
		Type:       typeEntity,
		ID:         e.ID,
		EntityType: e.Type,
		Name:       e.Name,
		Properties: e.Properties,
		Confidence: e.Confidence,
		SourceText: e.SourceText,
		Embedding:  embedding,
	}
}

func (b entityBlock) entity() (*graph.Entity, error) {
	if b.Type != typeEntity {
		return nil, fmt.Errorf("%w: expected entity block, got %q", kgerrors.ErrCorruptBlock, b.Type)
	}
	props, err := normalizeProperties(b.Properties)
	if err != nil {
		return nil, fmt.Errorf("%w: entity %s: %v", kgerrors.ErrCorruptBlock, b.ID, err)
	}
	return &graph.Entity{
		ID:         b.ID,
		Type:       b.EntityType,
		Name:       b.Name,
		Properties: props,
		Confidence: b.Confidence,
		SourceText: b.SourceText,
	}, nil
}

func newRelationshipBlock(r *graph.Relationship) relationshipBlock {
	return relationshipBlock{
		Type:             typeRelationship,
		ID:               r.ID,
		RelationshipType: r.Type,
		SourceID:         r.SourceID,
		TargetID:         r.TargetID,
		Properties:       r.Properties,
		Confidence:       r.Confidence,
		SourceText:       r.SourceText,
	}
}

func (b relationshipBlock) relationship() (*graph.Relationship, error) {
	if b.Type != typeRelationship {
		return nil, fmt.Errorf("%w: expected relationship block, got %q", kgerrors.ErrCorruptBlock, b.Type)
	}
	props, err := normalizeProperties(b.Properties)
	if err != nil {
		return nil, fmt.Errorf("%w: relationship %s: %v", kgerrors.ErrCorruptBlock, b.ID, err)
	}
	return &graph.Relationship{
		ID:         b.ID,
		Type:       b.RelationshipType,
		SourceID:   b.SourceID,
		TargetID:   b.TargetID,
		Properties: props,
		Confidence: b.Confidence,
		SourceText: b.SourceText,
	}, nil
}

// normalizeProperties passes p through JSON so values held in memory are
// exactly what a reload produces: numbers become float64, nested maps
// become map[string]any. The result is never nil.
func normalizeProperties(p graph.Properties) (graph.Properties, error) {
	if len(p) == 0 {
		return graph.Properties{}, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: properties are not JSON-encodable: %v", kgerrors.ErrValidation, err)
	}
	out := graph.Properties{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: properties: %v", kgerrors.ErrValidation, err)
	}
	return out, nil
}
