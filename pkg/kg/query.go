package kg

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/endomorphosis/ipfskg/pkg/algo"
	"github.com/endomorphosis/ipfskg/pkg/cache"
	"github.com/endomorphosis/ipfskg/pkg/graph"
	"github.com/endomorphosis/ipfskg/pkg/graphrag"
	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
	"github.com/endomorphosis/ipfskg/pkg/linkpredict"
	"github.com/endomorphosis/ipfskg/pkg/vectorindex"
)

// MergePolicy decides what happens to the properties of merged duplicates.
type MergePolicy string

const (
	// MergeKeep leaves the canonical entity's properties untouched.
	MergeKeep MergePolicy = "keep"
	// MergeReplace lets duplicate properties overwrite canonical ones.
	MergeReplace MergePolicy = "replace"
	// MergeUnion adds duplicate properties the canonical entity lacks.
	MergeUnion MergePolicy = "merge"
)

var ErrUnknownMergePolicy = fmt.Errorf("%w: unknown merge policy", kgerrors.ErrValidation)

// ParseMergePolicy validates a policy name. Empty means MergeUnion.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch p := MergePolicy(strings.ToLower(s)); p {
	case MergeKeep, MergeReplace, MergeUnion:
		return p, nil
	case "":
		return MergeUnion, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMergePolicy, s)
}

// MergeReport summarises a MergeResolution call.
type MergeReport struct {
	// Removed lists the duplicates folded into their canonical entity.
	Removed []graph.EntityID
	// Redirected counts relationships re-created on the canonical entity.
	Redirected int
	// Dropped counts relationships that became self-loops or already
	// existed on the canonical entity.
	Dropped int
}

// Batch runs fn with per-write root recomputation suspended and commits once
// afterwards (unless DeferCommit is set). Inside fn, a write whose root would
// exceed capacity is not rolled back; the error surfaces from the commit.
func (k *KnowledgeGraph) Batch(ctx context.Context, fn func() error) error {
	k.mu.Lock()
	k.batching++
	k.mu.Unlock()

	err := fn()

	k.mu.Lock()
	defer k.mu.Unlock()
	k.batching--
	if k.batching > 0 || k.deferred {
		return err
	}
	if cerr := k.commitLocked(ctx); err == nil {
		err = cerr
	}
	return err
}

// Search runs a hybrid vector and graph search. A text-only query is
// embedded when an Embedder is configured; the text is also used for
// full-text seeds.
func (k *KnowledgeGraph) Search(ctx context.Context, q graphrag.Query, opts graphrag.Options) ([]graphrag.Result, error) {
	if len(q.Vector) == 0 && q.Text != "" && k.embedder != nil {
		vec, err := k.embedder.Embed(ctx, q.Text)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		q.Vector = vec
	}
	if opts.Logger == nil {
		opts.Logger = k.logger
	}

	k.mu.RLock()
	defer k.mu.RUnlock()

	var key uint64
	if k.results != nil {
		key = searchKey(k.gen, q, opts)
		if res, ok := k.results.Get(key); ok {
			return slices.Clone(res), nil
		}
	}
	res, err := graphrag.Search(ctx, graphrag.Sources{
		Graph:   k.g,
		Vectors: k.vectors,
		VectorOf: func(id graph.EntityID) (vectorindex.ID, bool) {
			v, ok := k.vectorOf[id]
			return v, ok
		},
		Text: k.text,
	}, q, opts)
	if err != nil {
		return nil, err
	}
	if k.results != nil {
		k.results.Put(key, slices.Clone(res))
	}
	return res, nil
}

func searchKey(gen uint64, q graphrag.Query, opts graphrag.Options) uint64 {
	return cache.NewKey().
		Uint64(gen).
		Float32s(q.Vector).
		String(q.Text).
		String(q.EntityType).
		Int(opts.TopK).
		Float64(opts.MinSimilarity).
		Int(opts.MaxDepth).
		Float64(opts.SemanticWeight).
		Float64(opts.StructuralWeight).
		Float64(opts.Decay).
		Int(opts.MaxResults).
		String(opts.EdgeType).
		String(string(opts.Direction)).
		Sum()
}

// PageRank ranks entities. When opts.QueryVector is set and no embeddings
// are given, the stored embeddings are used.
func (k *KnowledgeGraph) PageRank(ctx context.Context, opts algo.PageRankOptions) (*algo.PageRankResult, error) {
	if len(opts.QueryVector) > 0 && opts.Embeddings == nil {
		opts.Embeddings = k.Embeddings()
	}
	return algo.PageRank(ctx, k.g, opts)
}

// DegreeCentrality ranks entities by normalised degree in direction dir.
func (k *KnowledgeGraph) DegreeCentrality(dir graph.Direction) []algo.ScoredEntity {
	return algo.DegreeCentrality(k.g, dir)
}

// Communities partitions the graph with label propagation.
func (k *KnowledgeGraph) Communities(ctx context.Context, opts algo.CommunityOptions) (*algo.CommunityResult, error) {
	return algo.Communities(ctx, k.g, opts)
}

// Resolve finds duplicate entities among ids, or among all entities when ids
// is empty, using stored embeddings.
func (k *KnowledgeGraph) Resolve(ctx context.Context, ids []graph.EntityID, opts algo.ResolutionOptions) (*algo.Resolution, error) {
	if len(ids) == 0 {
		ids = k.g.EntityIDs()
	}
	embeddings := k.Embeddings()
	candidates := make([]algo.Candidate, 0, len(ids))
	for _, id := range ids {
		e, err := k.g.Entity(id)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, algo.Candidate{Entity: e, Embedding: embeddings[id]})
	}
	return algo.ResolveEntities(ctx, candidates, opts)
}

// Predict proposes missing relationships with every heuristic combined.
func (k *KnowledgeGraph) Predict(ctx context.Context, opts linkpredict.Options) ([]linkpredict.Prediction, error) {
	return linkpredict.Combined(ctx, k.g, k.Embeddings(), opts)
}

// ApplyPrediction adds the predicted relationship through the normal add
// path. The relationship is marked with the prediction method and
// explanation.
func (k *KnowledgeGraph) ApplyPrediction(ctx context.Context, p linkpredict.Prediction) (*graph.Relationship, error) {
	for _, r := range k.g.RelationshipsBetween(p.SourceID, p.TargetID) {
		if r.Type == p.Type {
			return nil, fmt.Errorf("%w: %s -%s-> %s", graph.ErrAlreadyExists, p.SourceID, p.Type, p.TargetID)
		}
	}
	props := graph.Properties{
		"predicted":   true,
		"method":      string(p.Method),
		"explanation": p.Explanation,
	}
	if len(p.Evidence) > 0 {
		evidence := make([]any, len(p.Evidence))
		for i, id := range p.Evidence {
			evidence[i] = string(id)
		}
		props["evidence"] = evidence
	}
	return k.AddRelationship(ctx, RelationshipInput{
		Type:       p.Type,
		SourceID:   p.SourceID,
		TargetID:   p.TargetID,
		Properties: props,
		Confidence: p.Confidence,
		SourceText: p.Explanation,
	})
}

// MergeResolution folds every duplicate of a resolution into its canonical
// entity: relationships are re-created on the canonical entity, properties
// are combined per policy and the duplicate is removed. Everything goes
// through the normal add and remove path and the root is committed once.
func (k *KnowledgeGraph) MergeResolution(ctx context.Context, res *algo.Resolution, policy MergePolicy) (*MergeReport, error) {
	policy, err := ParseMergePolicy(string(policy))
	if err != nil {
		return nil, err
	}
	report := &MergeReport{}
	err = k.Batch(ctx, func() error {
		for _, canonical := range res.Merged() {
			if err := k.mergeClass(ctx, canonical, res.Classes[canonical][1:], policy, report); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	k.logger.Info("resolution merged", "removed", len(report.Removed),
		"redirected", report.Redirected, "dropped", report.Dropped, "policy", policy)
	return report, nil
}

func (k *KnowledgeGraph) mergeClass(ctx context.Context, canonical graph.EntityID, dups []graph.EntityID, policy MergePolicy, report *MergeReport) error {
	target, err := k.g.Entity(canonical)
	if err != nil {
		return err
	}
	props := target.Properties
	for _, dup := range dups {
		if dup == canonical || !k.g.HasEntity(dup) {
			continue
		}
		d, err := k.g.Entity(dup)
		if err != nil {
			return err
		}
		switch policy {
		case MergeReplace:
			props = props.Merge(d.Properties, true)
		case MergeUnion:
			props = props.Merge(d.Properties, false)
		}

		rels := append(k.g.OutgoingRelationships(dup), k.g.IncomingRelationships(dup)...)
		for _, r := range rels {
			src, dst := r.SourceID, r.TargetID
			if src == dup {
				src = canonical
			}
			if dst == dup {
				dst = canonical
			}
			if src == dst || k.hasTyped(src, dst, r.Type) {
				report.Dropped++
				continue
			}
			if _, err := k.AddRelationship(ctx, RelationshipInput{
				Type:       r.Type,
				SourceID:   src,
				TargetID:   dst,
				Properties: r.Properties,
				Confidence: r.Confidence,
				SourceText: r.SourceText,
			}); err != nil {
				return fmt.Errorf("redirect %s: %w", r.ID, err)
			}
			report.Redirected++
		}
		if _, err := k.RemoveEntity(ctx, dup); err != nil {
			return err
		}
		report.Removed = append(report.Removed, dup)
	}
	if policy == MergeKeep {
		return nil
	}
	return k.ReplaceEntityProperties(ctx, canonical, props)
}

func (k *KnowledgeGraph) hasTyped(src, dst graph.EntityID, relType string) bool {
	for _, r := range k.g.RelationshipsBetween(src, dst) {
		if r.Type == relType {
			return true
		}
	}
	return false
}
