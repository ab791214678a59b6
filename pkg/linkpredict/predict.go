package linkpredict

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/endomorphosis/ipfskg/pkg/graph"
	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
	"github.com/endomorphosis/ipfskg/pkg/math/vector"
)

// MaxConfidence bounds every predicted confidence.
const MaxConfidence = 0.95

// ErrUnknownScorer is returned for a Scorer name not in Scorers.
var ErrUnknownScorer = fmt.Errorf("%w: unknown topological scorer", kgerrors.ErrValidation)

// RelatedTo is the type given to common-neighbour predictions.
const RelatedTo = "related_to"

// Method names the heuristic behind a prediction.
type Method string

const (
	MethodTransitive     Method = "transitive"
	MethodSymmetric      Method = "symmetric"
	MethodCommonNeighbor Method = "common_neighbor"
	MethodSemantic       Method = "semantic_analogy"
	MethodCombined       Method = "combined"
)

// Prediction is a proposed relationship.
type Prediction struct {
	SourceID    graph.EntityID         `json:"source_id"`
	TargetID    graph.EntityID         `json:"target_id"`
	Type        string                 `json:"type"`
	Confidence  float64                `json:"confidence"`
	Method      Method                 `json:"method"`
	Explanation string                 `json:"explanation"`
	Evidence    []graph.RelationshipID `json:"evidence,omitempty"`
}

// Key identifies the candidate edge of a prediction.
type Key struct {
	SourceID graph.EntityID
	TargetID graph.EntityID
	Type     string
}

// Key returns the candidate edge.
func (p Prediction) Key() Key {
	return Key{p.SourceID, p.TargetID, p.Type}
}

// Options configures the typed predictors. Zero values take the defaults.
type Options struct {
	// Scorer is the topological scorer behind common-neighbour predictions,
	// one of the Algorithm names. Default AlgorithmJaccard.
	Scorer string
	// NeighborThreshold is the minimum normalised score for common-neighbour
	// predictions. Default 0.3.
	NeighborThreshold float64
	// AnalogyThreshold is the minimum cosine between a candidate offset and
	// a relationship type's mean offset. Default 0.8.
	AnalogyThreshold float64
	// MinAnalogyExamples is how many embedded examples a relationship type
	// needs before it is used for analogies. Default 2.
	MinAnalogyExamples int
	// ReciprocityThreshold is the fraction of reciprocated relationships a
	// type needs to count as symmetric. Default 0.5.
	ReciprocityThreshold float64
	// MinConfidence drops weaker predictions.
	MinConfidence float64
	// RelationshipTypes restricts transitive, symmetric and semantic
	// predictions to these types. Empty allows all.
	RelationshipTypes []string
	// Limit truncates the output. Zero keeps everything.
	Limit int
}

func (o Options) withDefaults() Options {
	if o.Scorer == "" {
		o.Scorer = AlgorithmJaccard
	}
	if o.NeighborThreshold <= 0 {
		o.NeighborThreshold = 0.3
	}
	if o.AnalogyThreshold <= 0 {
		o.AnalogyThreshold = 0.8
	}
	if o.MinAnalogyExamples <= 0 {
		o.MinAnalogyExamples = 2
	}
	if o.ReciprocityThreshold <= 0 {
		o.ReciprocityThreshold = 0.5
	}
	return o
}

func (o Options) allowsType(t string) bool {
	if len(o.RelationshipTypes) == 0 {
		return true
	}
	for _, allowed := range o.RelationshipTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	return math.Min(c, MaxConfidence)
}

func hasTyped(g *graph.Graph, source, target graph.EntityID, relType string) bool {
	for _, r := range g.RelationshipsBetween(source, target) {
		if r.Type == relType {
			return true
		}
	}
	return false
}

// collector keeps the best prediction per key in first-seen order.
type collector struct {
	order []Key
	best  map[Key]*Prediction
}

func newCollector() *collector {
	return &collector{best: make(map[Key]*Prediction)}
}

func (c *collector) offer(p Prediction) {
	k := p.Key()
	cur, ok := c.best[k]
	if !ok {
		c.order = append(c.order, k)
		c.best[k] = &p
		return
	}
	if p.Confidence > cur.Confidence {
		*cur = p
	}
}

func (c *collector) list() []Prediction {
	out := make([]Prediction, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, *c.best[k])
	}
	return out
}

// Transitive proposes A -t1-> C for every two-hop chain A -t1-> B -t2-> C
// where A ≠ C and A -t1-> C does not exist yet.
//
// Confidence is 0.8·√(c1·c2) for the strongest chain, raised by 5% for each
// further supporting chain, capped at MaxConfidence.
func Transitive(ctx context.Context, g *graph.Graph, opts Options) ([]Prediction, error) {
	opts = opts.withDefaults()
	type support struct {
		best     float64
		count    int
		evidence []graph.RelationshipID
		via      graph.EntityID
		secondTy string
	}
	found := make(map[Key]*support)
	var order []Key

	for _, r1 := range g.Relationships() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !opts.allowsType(r1.Type) {
			continue
		}
		for _, r2 := range g.OutgoingRelationships(r1.TargetID) {
			a, c := r1.SourceID, r2.TargetID
			if a == c || hasTyped(g, a, c, r1.Type) {
				continue
			}
			k := Key{a, c, r1.Type}
			s, ok := found[k]
			if !ok {
				s = &support{}
				found[k] = s
				order = append(order, k)
			}
			s.count++
			strength := math.Sqrt(r1.Confidence * r2.Confidence)
			if strength > s.best || s.count == 1 {
				s.best = strength
				s.evidence = []graph.RelationshipID{r1.ID, r2.ID}
				s.via = r1.TargetID
				s.secondTy = r2.Type
			}
		}
	}

	out := make([]Prediction, 0, len(order))
	for _, k := range order {
		s := found[k]
		conf := clampConfidence(0.8 * s.best * (1 + 0.05*float64(s.count-1)))
		if conf < opts.MinConfidence {
			continue
		}
		out = append(out, Prediction{
			SourceID:   k.SourceID,
			TargetID:   k.TargetID,
			Type:       k.Type,
			Confidence: conf,
			Method:     MethodTransitive,
			Explanation: fmt.Sprintf("transitive: %s -%s-> %s -%s-> %s (%d supporting paths)",
				k.SourceID, k.Type, s.via, s.secondTy, k.TargetID, s.count),
			Evidence: s.evidence,
		})
	}
	return finish(out, opts.Limit), nil
}

// Symmetric proposes the missing reverse of relationships whose type is
// mostly reciprocal: at least two relationships of the type exist and the
// share with a same-typed reverse reaches ReciprocityThreshold. Confidence is
// 0.9 × reciprocity.
func Symmetric(ctx context.Context, g *graph.Graph, opts Options) ([]Prediction, error) {
	opts = opts.withDefaults()
	c := newCollector()
	for _, relType := range g.RelationshipTypes() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !opts.allowsType(relType) {
			continue
		}
		rels := g.RelationshipsByType(relType)
		if len(rels) < 2 {
			continue
		}
		reciprocated := 0
		var missing []*graph.Relationship
		for _, r := range rels {
			if hasTyped(g, r.TargetID, r.SourceID, relType) {
				reciprocated++
			} else {
				missing = append(missing, r)
			}
		}
		reciprocity := float64(reciprocated) / float64(len(rels))
		if reciprocity < opts.ReciprocityThreshold {
			continue
		}
		conf := clampConfidence(0.9 * reciprocity)
		if conf < opts.MinConfidence {
			continue
		}
		for _, r := range missing {
			c.offer(Prediction{
				SourceID:   r.TargetID,
				TargetID:   r.SourceID,
				Type:       relType,
				Confidence: conf,
				Method:     MethodSymmetric,
				Explanation: fmt.Sprintf("symmetric: %.0f%% of %q relationships are reciprocated",
					reciprocity*100, relType),
				Evidence: []graph.RelationshipID{r.ID},
			})
		}
	}
	return finish(c.list(), opts.Limit), nil
}

// CommonNeighbor proposes related_to between entities whose undirected
// neighbourhoods score at least NeighborThreshold under opts.Scorer. Each
// pair is reported once, from the earlier-inserted entity.
func CommonNeighbor(ctx context.Context, g *graph.Graph, opts Options) ([]Prediction, error) {
	opts = opts.withDefaults()
	score, ok := Scorers[opts.Scorer]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScorer, opts.Scorer)
	}
	adj := BuildAdjacency(g, true)
	ids := g.EntityIDs()
	rank := make(map[graph.EntityID]int, len(ids))
	for i, id := range ids {
		rank[id] = i
	}

	var out []Prediction
	for _, source := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, s := range score(adj, source, 0) {
			if rank[s.TargetID] < rank[source] || s.Score < opts.NeighborThreshold {
				continue
			}
			if hasTyped(g, source, s.TargetID, RelatedTo) {
				continue
			}
			conf := clampConfidence(s.Score)
			if conf < opts.MinConfidence {
				continue
			}
			out = append(out, Prediction{
				SourceID:    source,
				TargetID:    s.TargetID,
				Type:        RelatedTo,
				Confidence:  conf,
				Method:      MethodCommonNeighbor,
				Explanation: fmt.Sprintf("common neighbours: %s %.2f", s.Algorithm, s.Score),
			})
		}
	}
	return finish(out, opts.Limit), nil
}

// Semantic proposes relationships by analogy. For each relationship type the
// mean embedding offset target-source over its embedded examples is
// computed; any pair of entities typed like the type's endpoints whose own
// offset has cosine similarity ≥ AnalogyThreshold with that mean is
// proposed with confidence 0.9 × similarity.
func Semantic(ctx context.Context, g *graph.Graph, embeddings map[graph.EntityID][]float32, opts Options) ([]Prediction, error) {
	opts = opts.withDefaults()
	if len(embeddings) == 0 {
		return nil, nil
	}
	entities := g.Entities()
	c := newCollector()

	for _, relType := range g.RelationshipTypes() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !opts.allowsType(relType) {
			continue
		}
		var deltas [][]float32
		sourceTypes := map[string]bool{}
		targetTypes := map[string]bool{}
		for _, r := range g.RelationshipsByType(relType) {
			src, okS := embeddings[r.SourceID]
			dst, okD := embeddings[r.TargetID]
			if !okS || !okD || len(src) != len(dst) {
				continue
			}
			deltas = append(deltas, vector.Delta(src, dst))
			if e, err := g.Entity(r.SourceID); err == nil {
				sourceTypes[e.Type] = true
			}
			if e, err := g.Entity(r.TargetID); err == nil {
				targetTypes[e.Type] = true
			}
		}
		if len(deltas) < opts.MinAnalogyExamples {
			continue
		}
		mean := vector.Mean(deltas)
		if vector.Norm(mean) == 0 {
			continue
		}

		for _, s := range entities {
			if !sourceTypes[s.Type] {
				continue
			}
			srcEmb, ok := embeddings[s.ID]
			if !ok || len(srcEmb) != len(mean) {
				continue
			}
			for _, t := range entities {
				if t.ID == s.ID || !targetTypes[t.Type] {
					continue
				}
				dstEmb, ok := embeddings[t.ID]
				if !ok || len(dstEmb) != len(mean) || hasTyped(g, s.ID, t.ID, relType) {
					continue
				}
				sim := vector.CosineSimilarity(vector.Delta(srcEmb, dstEmb), mean)
				if sim < opts.AnalogyThreshold {
					continue
				}
				conf := clampConfidence(sim * 0.9)
				if conf < opts.MinConfidence {
					continue
				}
				c.offer(Prediction{
					SourceID:   s.ID,
					TargetID:   t.ID,
					Type:       relType,
					Confidence: conf,
					Method:     MethodSemantic,
					Explanation: fmt.Sprintf("semantic analogy: offset matches %q (cosine %.2f over %d examples)",
						relType, sim, len(deltas)),
				})
			}
		}
	}
	return finish(c.list(), opts.Limit), nil
}

// Structural runs the transitive, symmetric and common-neighbour predictors
// and keeps the most confident prediction per candidate edge.
func Structural(ctx context.Context, g *graph.Graph, opts Options) ([]Prediction, error) {
	inner := opts
	inner.Limit = 0
	c := newCollector()
	for _, predict := range []func(context.Context, *graph.Graph, Options) ([]Prediction, error){
		Transitive, Symmetric, CommonNeighbor,
	} {
		preds, err := predict(ctx, g, inner)
		if err != nil {
			return nil, err
		}
		for _, p := range preds {
			c.offer(p)
		}
	}
	return finish(c.list(), opts.Limit), nil
}

// Combined merges structural and semantic predictions. When both propose the
// same (source, target, type), the confidences are averaged and the
// explanations joined with "; ".
func Combined(ctx context.Context, g *graph.Graph, embeddings map[graph.EntityID][]float32, opts Options) ([]Prediction, error) {
	inner := opts
	inner.Limit = 0
	inner.MinConfidence = 0
	structural, err := Structural(ctx, g, inner)
	if err != nil {
		return nil, err
	}
	semantic, err := Semantic(ctx, g, embeddings, inner)
	if err != nil {
		return nil, err
	}

	bySemantic := make(map[Key]Prediction, len(semantic))
	for _, p := range semantic {
		bySemantic[p.Key()] = p
	}

	out := make([]Prediction, 0, len(structural)+len(semantic))
	for _, p := range structural {
		if s, ok := bySemantic[p.Key()]; ok {
			delete(bySemantic, p.Key())
			p = Prediction{
				SourceID:    p.SourceID,
				TargetID:    p.TargetID,
				Type:        p.Type,
				Confidence:  clampConfidence((p.Confidence + s.Confidence) / 2),
				Method:      MethodCombined,
				Explanation: strings.Join([]string{p.Explanation, s.Explanation}, "; "),
				Evidence:    p.Evidence,
			}
		}
		out = append(out, p)
	}
	for _, p := range semantic {
		if _, pending := bySemantic[p.Key()]; pending {
			out = append(out, p)
		}
	}

	kept := out[:0]
	for _, p := range out {
		p.Confidence = clampConfidence(p.Confidence)
		if p.Confidence >= opts.MinConfidence {
			kept = append(kept, p)
		}
	}
	return finish(kept, opts.Limit), nil
}

// finish sorts by confidence, highest first, then by key, and truncates.
func finish(preds []Prediction, limit int) []Prediction {
	sort.SliceStable(preds, func(i, j int) bool {
		a, b := preds[i], preds[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		return a.Type < b.Type
	})
	if limit > 0 && len(preds) > limit {
		preds = preds[:limit]
	}
	return preds
}
