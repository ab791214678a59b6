package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/endomorphosis/ipfskg/pkg/algo"
	"github.com/endomorphosis/ipfskg/pkg/graph"
	"github.com/endomorphosis/ipfskg/pkg/graphrag"
	"github.com/endomorphosis/ipfskg/pkg/kg"
	"github.com/endomorphosis/ipfskg/pkg/linkpredict"
)

func newGraphCmd() *cobra.Command {
	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Knowledge graph operations",
		Long: `Knowledge graph operations.

Every command works on the graph named by --root, or on the last root
published into the data directory. Mutating commands publish a new root.`,
	}
	graphCmd.PersistentFlags().String("root", "", "Graph root CID (default: data directory head)")

	graphCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Publish an empty graph",
		RunE:  runGraphInit,
	})
	graphCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show graph root and counts",
		RunE:  runGraphStats,
	})
	graphCmd.AddCommand(&cobra.Command{
		Use:   "get <entity-id>",
		Short: "Print an entity and its relationships as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runGraphGet,
	})

	addEntityCmd := &cobra.Command{
		Use:   "add-entity",
		Short: "Add an entity",
		RunE:  runGraphAddEntity,
	}
	addEntityCmd.Flags().String("id", "", "Entity ID (default: generated)")
	addEntityCmd.Flags().String("type", "", "Entity type")
	addEntityCmd.Flags().String("name", "", "Entity name")
	addEntityCmd.Flags().StringArray("prop", nil, "Property key=value (value parsed as JSON when possible)")
	addEntityCmd.Flags().Float64("confidence", 1, "Confidence in [0,1]")
	addEntityCmd.Flags().String("source-text", "", "Source text")
	addEntityCmd.Flags().String("embedding", "", "Comma-separated embedding")
	graphCmd.AddCommand(addEntityCmd)

	addRelCmd := &cobra.Command{
		Use:   "add-rel",
		Short: "Add a relationship",
		RunE:  runGraphAddRel,
	}
	addRelCmd.Flags().String("id", "", "Relationship ID (default: generated)")
	addRelCmd.Flags().String("type", "", "Relationship type")
	addRelCmd.Flags().String("source", "", "Source entity ID")
	addRelCmd.Flags().String("target", "", "Target entity ID")
	addRelCmd.Flags().StringArray("prop", nil, "Property key=value (value parsed as JSON when possible)")
	addRelCmd.Flags().Float64("confidence", 1, "Confidence in [0,1]")
	addRelCmd.Flags().String("source-text", "", "Source text")
	graphCmd.AddCommand(addRelCmd)

	graphCmd.AddCommand(&cobra.Command{
		Use:   "remove-entity <id>",
		Short: "Remove an entity and its relationships",
		Args:  cobra.ExactArgs(1),
		RunE:  runGraphRemoveEntity,
	})
	graphCmd.AddCommand(&cobra.Command{
		Use:   "remove-rel <id>",
		Short: "Remove a relationship",
		Args:  cobra.ExactArgs(1),
		RunE:  runGraphRemoveRel,
	})
	graphCmd.AddCommand(&cobra.Command{
		Use:   "load <file.json>",
		Short: "Add entities and relationships from a JSON document",
		Long: `Add entities and relationships from a JSON document of the form
{"entities":[{"id","type","name","properties","confidence","source_text","embedding"}],
 "relationships":[{"id","type","source_id","target_id","properties","confidence","source_text"}]}`,
		Args: cobra.ExactArgs(1),
		RunE: runGraphLoad,
	})

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Hybrid vector and graph search",
		RunE:  runGraphSearch,
	}
	searchCmd.Flags().String("text", "", "Query text")
	searchCmd.Flags().String("vector", "", "Comma-separated query vector")
	searchCmd.Flags().String("type", "", "Restrict seeds to an entity type")
	searchCmd.Flags().Int("top-k", 0, "Seeds to expand (default: config)")
	searchCmd.Flags().Int("depth", -1, "Expansion depth (default: config)")
	searchCmd.Flags().Int("limit", 0, "Maximum results (default: config)")
	searchCmd.Flags().String("edge-type", "", "Only follow this relationship type")
	searchCmd.Flags().String("direction", "both", "Traversal direction: out, in, both")
	graphCmd.AddCommand(searchCmd)

	pagerankCmd := &cobra.Command{
		Use:   "pagerank",
		Short: "Rank entities by PageRank",
		RunE:  runGraphPageRank,
	}
	pagerankCmd.Flags().Int("top", 10, "Entities to print")
	pagerankCmd.Flags().Float64("damping", 0, "Damping factor (default 0.85)")
	pagerankCmd.Flags().String("query-vector", "", "Bias towards entities similar to this vector")
	graphCmd.AddCommand(pagerankCmd)

	degreeCmd := &cobra.Command{
		Use:   "degree",
		Short: "Rank entities by degree centrality",
		RunE:  runGraphDegree,
	}
	degreeCmd.Flags().Int("top", 10, "Entities to print")
	degreeCmd.Flags().String("direction", "both", "Relationships to count: out, in, both")
	graphCmd.AddCommand(degreeCmd)

	graphCmd.AddCommand(&cobra.Command{
		Use:   "communities",
		Short: "Detect communities with label propagation",
		RunE:  runGraphCommunities,
	})

	predictCmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict missing relationships",
		RunE:  runGraphPredict,
	}
	predictCmd.Flags().Float64("min-confidence", 0, "Drop weaker predictions")
	predictCmd.Flags().String("scorer", linkpredict.AlgorithmJaccard,
		"Common-neighbour scorer: common_neighbors, jaccard, adamic_adar, preferential_attachment, resource_allocation")
	predictCmd.Flags().Float64("neighbor-threshold", 0, "Minimum common-neighbour score (default 0.3)")
	predictCmd.Flags().Int("limit", 20, "Maximum predictions")
	predictCmd.Flags().Bool("apply", false, "Add the predictions to the graph")
	graphCmd.AddCommand(predictCmd)

	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Find and optionally merge duplicate entities",
		RunE:  runGraphResolve,
	}
	resolveCmd.Flags().Float64("threshold", algo.DefaultResolutionThreshold, "Similarity threshold")
	resolveCmd.Flags().Float64("property-weight", 0, "Weight of name similarity against embeddings")
	resolveCmd.Flags().String("merge", "", "Merge duplicates with policy keep, replace or merge")
	graphCmd.AddCommand(resolveCmd)
	graphCmd.AddCommand(newGraphEvalCmd())

	graphCmd.AddCommand(&cobra.Command{
		Use:   "export <file.car>",
		Short: "Export the graph with every block it references",
		Args:  cobra.ExactArgs(1),
		RunE:  runGraphExport,
	})
	graphCmd.AddCommand(&cobra.Command{
		Use:   "import <file.car>",
		Short: "Import a graph CAR archive and publish its root",
		Args:  cobra.ExactArgs(1),
		RunE:  runGraphImport,
	})
	return graphCmd
}

// parseProps turns key=value pairs into properties. Values that parse as
// JSON keep their JSON type; anything else is a string.
func parseProps(pairs []string) (graph.Properties, error) {
	props := graph.Properties{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid property %q, want key=value", p)
		}
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			val = v
		}
		props[k] = val
	}
	return props, nil
}

func parseVector(s string) ([]float32, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withGraph opens the environment and the selected graph and runs fn.
func withGraph(cmd *cobra.Command, fn func(e *env, g *kg.KnowledgeGraph) error) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	root, _ := cmd.Flags().GetString("root")
	g, err := e.openGraph(cmd.Context(), root)
	if err != nil {
		return err
	}
	defer g.Close()
	return fn(e, g)
}

func runGraphInit(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	opts, err := e.graphOptions()
	if err != nil {
		return err
	}
	g, err := kg.New(e.store, opts)
	if err != nil {
		return err
	}
	defer g.Close()
	_, err = e.publish(cmd.Context(), cmd, g)
	return err
}

func runGraphStats(cmd *cobra.Command, args []string) error {
	return withGraph(cmd, func(e *env, g *kg.KnowledgeGraph) error {
		out := cmd.OutOrStdout()
		if g.RootCID().Defined() {
			fmt.Fprintf(out, "Root:           %s\n", g.RootCID())
		} else {
			fmt.Fprintln(out, "Root:           (unpublished)")
		}
		st := g.Stats()
		fmt.Fprintf(out, "Name:           %s\n", g.Name())
		fmt.Fprintf(out, "Entities:       %d\n", st.EntityCount)
		fmt.Fprintf(out, "Relationships:  %d\n", st.RelationshipCount)
		if v := g.Vectors(); v != nil {
			fmt.Fprintf(out, "Vectors:        %d (dim %d, %s, %s)\n", v.Len(), v.Dimension(), v.Metric(), v.BackendName())
		}
		fmt.Fprintf(out, "Blocks:         %d\n", e.store.Len())
		printCounts(cmd, "Entity types", st.EntityTypes)
		printCounts(cmd, "Relationship types", st.RelationshipTypes)
		return nil
	})
}

func printCounts(cmd *cobra.Command, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-20s %d\n", k, counts[k])
	}
}

func runGraphGet(cmd *cobra.Command, args []string) error {
	return withGraph(cmd, func(e *env, g *kg.KnowledgeGraph) error {
		id := graph.EntityID(args[0])
		ent, err := g.Entity(id)
		if err != nil {
			return err
		}
		c, _ := g.EntityCID(id)
		return printJSON(cmd, map[string]any{
			"cid":      c.String(),
			"entity":   ent,
			"outgoing": g.Graph().OutgoingRelationships(id),
			"incoming": g.Graph().IncomingRelationships(id),
		})
	})
}

func runGraphAddEntity(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	id, _ := f.GetString("id")
	typ, _ := f.GetString("type")
	name, _ := f.GetString("name")
	pairs, _ := f.GetStringArray("prop")
	confidence, _ := f.GetFloat64("confidence")
	sourceText, _ := f.GetString("source-text")
	embStr, _ := f.GetString("embedding")

	props, err := parseProps(pairs)
	if err != nil {
		return err
	}
	emb, err := parseVector(embStr)
	if err != nil {
		return err
	}
	return withGraph(cmd, func(e *env, g *kg.KnowledgeGraph) error {
		ent, err := g.AddEntity(cmd.Context(), kg.EntityInput{
			ID:         graph.EntityID(id),
			Type:       typ,
			Name:       name,
			Properties: props,
			Confidence: confidence,
			SourceText: sourceText,
			Embedding:  emb,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "entity %s\n", ent.ID)
		_, err = e.publish(cmd.Context(), cmd, g)
		return err
	})
}

func runGraphAddRel(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	id, _ := f.GetString("id")
	typ, _ := f.GetString("type")
	source, _ := f.GetString("source")
	target, _ := f.GetString("target")
	pairs, _ := f.GetStringArray("prop")
	confidence, _ := f.GetFloat64("confidence")
	sourceText, _ := f.GetString("source-text")

	props, err := parseProps(pairs)
	if err != nil {
		return err
	}
	return withGraph(cmd, func(e *env, g *kg.KnowledgeGraph) error {
		rel, err := g.AddRelationship(cmd.Context(), kg.RelationshipInput{
			ID:         graph.RelationshipID(id),
			Type:       typ,
			SourceID:   graph.EntityID(source),
			TargetID:   graph.EntityID(target),
			Properties: props,
			Confidence: confidence,
			SourceText: sourceText,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "relationship %s\n", rel.ID)
		_, err = e.publish(cmd.Context(), cmd, g)
		return err
	})
}

func runGraphRemoveEntity(cmd *cobra.Command, args []string) error {
	return withGraph(cmd, func(e *env, g *kg.KnowledgeGraph) error {
		removed, err := g.RemoveEntity(cmd.Context(), graph.EntityID(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s and %d relationships\n", args[0], len(removed))
		_, err = e.publish(cmd.Context(), cmd, g)
		return err
	})
}

func runGraphRemoveRel(cmd *cobra.Command, args []string) error {
	return withGraph(cmd, func(e *env, g *kg.KnowledgeGraph) error {
		if err := g.RemoveRelationship(cmd.Context(), graph.RelationshipID(args[0])); err != nil {
			return err
		}
		_, err := e.publish(cmd.Context(), cmd, g)
		return err
	})
}

type loadEntity struct {
	ID         graph.EntityID   `json:"id"`
	Type       string           `json:"type"`
	Name       string           `json:"name"`
	Properties graph.Properties `json:"properties"`
	Confidence *float64         `json:"confidence"`
	SourceText string           `json:"source_text"`
	Embedding  []float32        `json:"embedding"`
}

type loadRelationship struct {
	ID         graph.RelationshipID `json:"id"`
	Type       string               `json:"type"`
	SourceID   graph.EntityID       `json:"source_id"`
	TargetID   graph.EntityID       `json:"target_id"`
	Properties graph.Properties     `json:"properties"`
	Confidence *float64             `json:"confidence"`
	SourceText string               `json:"source_text"`
}

type loadDocument struct {
	Entities      []loadEntity       `json:"entities"`
	Relationships []loadRelationship `json:"relationships"`
}

// confidenceOr treats a missing confidence as certain.
func confidenceOr(c *float64) float64 {
	if c == nil {
		return 1
	}
	return *c
}

func runGraphLoad(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var doc loadDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}
	return withGraph(cmd, func(e *env, g *kg.KnowledgeGraph) error {
		ctx := cmd.Context()
		err := g.Batch(ctx, func() error {
			for _, in := range doc.Entities {
				if _, err := g.AddEntity(ctx, kg.EntityInput{
					ID:         in.ID,
					Type:       in.Type,
					Name:       in.Name,
					Properties: in.Properties,
					Confidence: confidenceOr(in.Confidence),
					SourceText: in.SourceText,
					Embedding:  in.Embedding,
				}); err != nil {
					return fmt.Errorf("entity %q: %w", in.ID, err)
				}
			}
			for _, in := range doc.Relationships {
				if _, err := g.AddRelationship(ctx, kg.RelationshipInput{
					ID:         in.ID,
					Type:       in.Type,
					SourceID:   in.SourceID,
					TargetID:   in.TargetID,
					Properties: in.Properties,
					Confidence: confidenceOr(in.Confidence),
					SourceText: in.SourceText,
				}); err != nil {
					return fmt.Errorf("relationship %q: %w", in.ID, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %d entities, %d relationships\n",
			len(doc.Entities), len(doc.Relationships))
		_, err = e.publish(ctx, cmd, g)
		return err
	})
}

type searchHit struct {
	ID            graph.EntityID         `json:"id"`
	Type          string                 `json:"type"`
	Name          string                 `json:"name"`
	Score         float64                `json:"score"`
	Similarity    float64                `json:"similarity"`
	Depth         int                    `json:"depth"`
	Seed          graph.EntityID         `json:"seed"`
	SeedSource    string                 `json:"seed_source"`
	Path          []graph.EntityID       `json:"path"`
	Relationships []graph.RelationshipID `json:"relationships,omitempty"`
}

func runGraphSearch(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	text, _ := f.GetString("text")
	vecStr, _ := f.GetString("vector")
	entityType, _ := f.GetString("type")
	topK, _ := f.GetInt("top-k")
	depth, _ := f.GetInt("depth")
	limit, _ := f.GetInt("limit")
	edgeType, _ := f.GetString("edge-type")
	dirStr, _ := f.GetString("direction")

	vec, err := parseVector(vecStr)
	if err != nil {
		return err
	}
	dir, err := graph.ParseDirection(dirStr)
	if err != nil {
		return err
	}
	return withGraph(cmd, func(e *env, g *kg.KnowledgeGraph) error {
		rag := e.cfg.RAG
		opts := graphrag.Options{
			TopK:             rag.TopK,
			MinSimilarity:    rag.MinSimilarity,
			MaxDepth:         rag.MaxDepth,
			SemanticWeight:   rag.SemanticWeight,
			StructuralWeight: rag.StructuralWeight,
			Decay:            rag.Decay,
			MaxResults:       rag.MaxResults,
			EdgeType:         edgeType,
			Direction:        dir,
			Logger:           e.logger,
		}
		if topK > 0 {
			opts.TopK = topK
		}
		if depth >= 0 {
			opts.MaxDepth = depth
		}
		if limit > 0 {
			opts.MaxResults = limit
		}
		results, err := g.Search(cmd.Context(), graphrag.Query{Vector: vec, Text: text, EntityType: entityType}, opts)
		if err != nil {
			return err
		}
		hits := make([]searchHit, len(results))
		for i, r := range results {
			hits[i] = searchHit{
				ID:            r.Entity.ID,
				Type:          r.Entity.Type,
				Name:          r.Entity.Name,
				Score:         r.Score,
				Similarity:    r.Similarity,
				Depth:         r.Depth,
				Seed:          r.SeedID,
				SeedSource:    r.SeedSource,
				Path:          r.Path,
				Relationships: r.Relationships,
			}
		}
		return printJSON(cmd, hits)
	})
}

func runGraphPageRank(cmd *cobra.Command, args []string) error {
	top, _ := cmd.Flags().GetInt("top")
	damping, _ := cmd.Flags().GetFloat64("damping")
	qStr, _ := cmd.Flags().GetString("query-vector")
	q, err := parseVector(qStr)
	if err != nil {
		return err
	}
	return withGraph(cmd, func(e *env, g *kg.KnowledgeGraph) error {
		res, err := g.PageRank(cmd.Context(), algo.PageRankOptions{Damping: damping, QueryVector: q})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "iterations %d, converged %v\n", res.Iterations, res.Converged)
		for i, s := range res.Top(top) {
			name := ""
			if ent, err := g.Entity(s.ID); err == nil {
				name = ent.Name
			}
			fmt.Fprintf(out, "%3d. %.6f  %s  %s\n", i+1, s.Score, s.ID, name)
		}
		return nil
	})
}

func runGraphDegree(cmd *cobra.Command, args []string) error {
	top, _ := cmd.Flags().GetInt("top")
	dirStr, _ := cmd.Flags().GetString("direction")
	dir, err := graph.ParseDirection(dirStr)
	if err != nil {
		return err
	}
	return withGraph(cmd, func(e *env, g *kg.KnowledgeGraph) error {
		out := cmd.OutOrStdout()
		for i, s := range g.DegreeCentrality(dir) {
			if i == top {
				break
			}
			name := ""
			if ent, err := g.Entity(s.ID); err == nil {
				name = ent.Name
			}
			fmt.Fprintf(out, "%3d. %.4f  %s  %s\n", i+1, s.Score, s.ID, name)
		}
		return nil
	})
}

func runGraphCommunities(cmd *cobra.Command, args []string) error {
	return withGraph(cmd, func(e *env, g *kg.KnowledgeGraph) error {
		res, err := g.Communities(cmd.Context(), algo.CommunityOptions{})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d communities, modularity %.4f, iterations %d\n",
			len(res.Communities), res.Modularity, res.Iterations)
		for i, members := range res.Communities {
			ids := make([]string, len(members))
			for j, id := range members {
				ids[j] = string(id)
			}
			fmt.Fprintf(out, "%3d. %s\n", i, strings.Join(ids, ", "))
		}
		return nil
	})
}

func runGraphPredict(cmd *cobra.Command, args []string) error {
	minConf, _ := cmd.Flags().GetFloat64("min-confidence")
	limit, _ := cmd.Flags().GetInt("limit")
	apply, _ := cmd.Flags().GetBool("apply")
	scorer, _ := cmd.Flags().GetString("scorer")
	neighborThreshold, _ := cmd.Flags().GetFloat64("neighbor-threshold")
	return withGraph(cmd, func(e *env, g *kg.KnowledgeGraph) error {
		ctx := cmd.Context()
		preds, err := g.Predict(ctx, linkpredict.Options{
			Scorer:            scorer,
			NeighborThreshold: neighborThreshold,
			MinConfidence:     minConf,
			Limit:             limit,
		})
		if err != nil {
			return err
		}
		if !apply {
			return printJSON(cmd, preds)
		}
		applied := 0
		err = g.Batch(ctx, func() error {
			for _, p := range preds {
				if _, err := g.ApplyPrediction(ctx, p); err != nil {
					return err
				}
				applied++
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d predictions\n", applied)
		_, err = e.publish(ctx, cmd, g)
		return err
	})
}

func runGraphResolve(cmd *cobra.Command, args []string) error {
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	propWeight, _ := cmd.Flags().GetFloat64("property-weight")
	mergeStr, _ := cmd.Flags().GetString("merge")
	return withGraph(cmd, func(e *env, g *kg.KnowledgeGraph) error {
		ctx := cmd.Context()
		opts := algo.ResolutionOptions{Threshold: threshold}
		if propWeight > 0 {
			opts.VectorWeight = 1 - propWeight
			opts.PropertyWeight = propWeight
		}
		res, err := g.Resolve(ctx, nil, opts)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		merged := res.Merged()
		for _, id := range merged {
			members := res.Classes[id]
			ids := make([]string, len(members))
			for i, m := range members {
				ids[i] = string(m)
			}
			fmt.Fprintf(out, "%s: %s\n", id, strings.Join(ids, ", "))
		}
		if mergeStr == "" || len(merged) == 0 {
			fmt.Fprintf(out, "%d duplicate classes\n", len(merged))
			return nil
		}
		policy, err := kg.ParseMergePolicy(mergeStr)
		if err != nil {
			return err
		}
		report, err := g.MergeResolution(ctx, res, policy)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "merged %d entities, redirected %d relationships, dropped %d\n",
			len(report.Removed), report.Redirected, report.Dropped)
		_, err = e.publish(ctx, cmd, g)
		return err
	})
}

func runGraphExport(cmd *cobra.Command, args []string) error {
	return withGraph(cmd, func(e *env, g *kg.KnowledgeGraph) error {
		root, err := g.ExportCAR(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", root, args[0])
		return nil
	})
}

func runGraphImport(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	opts, err := e.graphOptions()
	if err != nil {
		return err
	}
	g, err := kg.FromCAR(cmd.Context(), e.store, args[0], opts)
	if err != nil {
		return err
	}
	defer g.Close()
	st := g.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d entities, %d relationships\n", st.EntityCount, st.RelationshipCount)
	_, err = e.publish(cmd.Context(), cmd, g)
	return err
}
