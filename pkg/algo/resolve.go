package algo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/endomorphosis/ipfskg/pkg/graph"
	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
	"github.com/endomorphosis/ipfskg/pkg/math/vector"
)

// DefaultResolutionThreshold is the similarity above which two entities are
// considered the same.
const DefaultResolutionThreshold = 0.85

var ErrInvalidThreshold = fmt.Errorf("%w: threshold must be within [0, 1]", kgerrors.ErrValidation)

// Candidate is an entity offered for resolution with its optional embedding.
type Candidate struct {
	Entity    *graph.Entity
	Embedding []float32
}

// ResolutionOptions configures ResolveEntities.
type ResolutionOptions struct {
	// Threshold defaults to DefaultResolutionThreshold.
	Threshold float64

	// VectorWeight and PropertyWeight blend cosine similarity with property
	// similarity. PropertyWeight 0 compares embeddings only. Weights are
	// normalised to sum to one.
	VectorWeight   float64
	PropertyWeight float64

	// PropertyFields weights the fields compared by property similarity.
	// "name" reads Entity.Name; other keys read Entity.Properties. Defaults
	// to {"name": 1}.
	PropertyFields map[string]float64

	// PropertySimilarity replaces the built-in field comparison.
	PropertySimilarity func(a, b *graph.Entity) float64

	// AllowCrossType compares entities of different types. By default only
	// entities of the same type are merged.
	AllowCrossType bool
}

// Match is one pair of candidates at or above the threshold.
type Match struct {
	A, B  graph.EntityID
	Score float64
}

// Resolution maps entities onto equivalence classes.
type Resolution struct {
	// Canonical maps every candidate to the earliest member of its class.
	Canonical map[graph.EntityID]graph.EntityID
	// Classes maps each canonical ID to its members in input order,
	// canonical first.
	Classes map[graph.EntityID][]graph.EntityID
	// Order lists canonical IDs in input order.
	Order   []graph.EntityID
	Matches []Match
}

// Merged returns the canonical IDs of classes with more than one member.
func (r *Resolution) Merged() []graph.EntityID {
	var out []graph.EntityID
	for _, id := range r.Order {
		if len(r.Classes[id]) > 1 {
			out = append(out, id)
		}
	}
	return out
}

// ResolveEntities groups candidates that refer to the same real-world entity.
//
// Every pair is scored; pairs at or above the threshold are unioned, so
// resolution is transitive. The result depends only on the input order and
// options.
//
// A pair with embeddings on both sides scores the cosine similarity, blended
// with property similarity when PropertyWeight is set. A pair lacking an
// embedding on either side scores property similarity alone.
func ResolveEntities(ctx context.Context, candidates []Candidate, opts ResolutionOptions) (*Resolution, error) {
	if opts.Threshold == 0 {
		opts.Threshold = DefaultResolutionThreshold
	}
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, opts.Threshold)
	}
	if opts.PropertyWeight < 0 || opts.VectorWeight < 0 {
		return nil, fmt.Errorf("%w: negative similarity weight", kgerrors.ErrValidation)
	}
	if opts.VectorWeight == 0 {
		opts.VectorWeight = 1 - min(opts.PropertyWeight, 1)
	}
	if len(opts.PropertyFields) == 0 {
		opts.PropertyFields = map[string]float64{"name": 1}
	}
	propSim := opts.PropertySimilarity
	if propSim == nil {
		propSim = func(a, b *graph.Entity) float64 { return fieldSimilarity(a, b, opts.PropertyFields) }
	}

	n := len(candidates)
	uf := NewUnionFind(n)
	res := &Resolution{
		Canonical: make(map[graph.EntityID]graph.EntityID, n),
		Classes:   make(map[graph.EntityID][]graph.EntityID),
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a := candidates[i]
		for j := i + 1; j < n; j++ {
			b := candidates[j]
			if !opts.AllowCrossType && a.Entity.Type != b.Entity.Type {
				continue
			}
			score := pairSimilarity(a, b, opts, propSim)
			if score >= opts.Threshold {
				uf.Union(i, j)
				res.Matches = append(res.Matches, Match{A: a.Entity.ID, B: b.Entity.ID, Score: score})
			}
		}
	}

	for _, members := range uf.Groups() {
		canonical := candidates[members[0]].Entity.ID
		res.Order = append(res.Order, canonical)
		for _, m := range members {
			id := candidates[m].Entity.ID
			res.Canonical[id] = canonical
			res.Classes[canonical] = append(res.Classes[canonical], id)
		}
	}
	return res, nil
}

func pairSimilarity(a, b Candidate, opts ResolutionOptions, propSim func(a, b *graph.Entity) float64) float64 {
	hasVectors := len(a.Embedding) > 0 && len(a.Embedding) == len(b.Embedding)
	if !hasVectors {
		return propSim(a.Entity, b.Entity)
	}
	cos := vector.CosineSimilarity(a.Embedding, b.Embedding)
	if opts.PropertyWeight == 0 {
		return cos
	}
	total := opts.VectorWeight + opts.PropertyWeight
	return (opts.VectorWeight*cos + opts.PropertyWeight*propSim(a.Entity, b.Entity)) / total
}

// fieldSimilarity is the weighted mean of normalised string similarity over
// the configured fields. Fields missing on both sides are skipped.
func fieldSimilarity(a, b *graph.Entity, fields map[string]float64) float64 {
	keys := make([]string, 0, len(fields))
	for field := range fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)

	var sum, weight float64
	for _, field := range keys {
		w := fields[field]
		if w <= 0 {
			continue
		}
		va, okA := fieldValue(a, field)
		vb, okB := fieldValue(b, field)
		if !okA && !okB {
			continue
		}
		sum += w * StringSimilarity(va, vb)
		weight += w
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

func fieldValue(e *graph.Entity, field string) (string, bool) {
	if field == "name" {
		return e.Name, e.Name != ""
	}
	v, ok := e.Properties[field]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// StringSimilarity is 1 - levenshtein(a, b)/max(len(a), len(b)) over the
// case-folded, trimmed runes of a and b. Two empty strings are identical.
func StringSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(a, b))/float64(longest)
}

// Levenshtein returns the edit distance between a and b in runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(ra) == 0 {
		return len(rb)
	}

	// single row, sized by the shorter string
	prev := make([]int, len(ra)+1)
	curr := make([]int, len(ra)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(rb); i++ {
		curr[0] = i
		for j := 1; j <= len(ra); j++ {
			cost := 1
			if rb[i-1] == ra[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(ra)]
}
