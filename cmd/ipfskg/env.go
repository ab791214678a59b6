package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"

	"github.com/endomorphosis/ipfskg/pkg/blockstore"
	"github.com/endomorphosis/ipfskg/pkg/config"
	"github.com/endomorphosis/ipfskg/pkg/embed"
	"github.com/endomorphosis/ipfskg/pkg/kg"
	"github.com/endomorphosis/ipfskg/pkg/vectorindex"
)

// headFile records the last published graph root inside the data directory.
const headFile = "HEAD"

// env is the state shared by every command: configuration, logger and an
// open block store.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *blockstore.Store
}

func openEnv(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.BlockStore.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("daemon"); v != "" {
		cfg.BlockStore.DaemonURL = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := config.NewLogger(cfg.Logging)
	store, err := openStore(cfg.BlockStore, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("block store opened", "config", cfg.String())
	return &env{cfg: cfg, logger: logger, store: store}, nil
}

func openStore(bs config.BlockStoreConfig, logger *slog.Logger) (*blockstore.Store, error) {
	hasher, err := blockstore.ParseHash(bs.Hash)
	if err != nil {
		return nil, err
	}
	opts := blockstore.Options{
		Hasher:       hasher,
		MaxBlockSize: bs.MaxBlockSize,
		Workers:      bs.BatchWorkers,
		ChunkSize:    bs.ChunkSize,
		Logger:       logger,
	}
	if bs.DataDir != "" {
		if err := os.MkdirAll(bs.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		backend, err := blockstore.NewBadgerBackend(blockstore.BadgerOptions{
			DataDir:     filepath.Join(bs.DataDir, "blocks"),
			Compression: bs.Compression,
			CacheSize:   bs.CacheSize,
		})
		if err != nil {
			return nil, err
		}
		opts.Backend = backend
	}
	if bs.DaemonURL != "" {
		opts.Daemon = blockstore.NewKuboClient(bs.DaemonURL, hasher, bs.DaemonTimeout)
	}
	return blockstore.Open(opts)
}

func (e *env) Close() error {
	return e.store.Close()
}

// graphOptions maps configuration onto knowledge graph options.
func (e *env) graphOptions() (kg.Options, error) {
	metric, err := vectorindex.ParseMetric(e.cfg.Vector.Metric)
	if err != nil {
		return kg.Options{}, err
	}
	opts := kg.Options{
		Name:             e.cfg.Graph.Name,
		ChunkThreshold:   e.cfg.Graph.ChunkThreshold,
		DeferCommit:      e.cfg.Graph.DeferCommit,
		DisableTextIndex: !e.cfg.Graph.TextIndex,
		SearchCacheSize:  e.cfg.Graph.SearchCache,
		SearchCacheTTL:   e.cfg.Graph.SearchCacheTTL,
		Vector: vectorindex.Options{
			Dimension: e.cfg.Vector.Dimension,
			Metric:    metric,
			Backend:   e.cfg.Vector.Backend,
		},
		Logger: e.logger,
	}
	if ec := e.cfg.Embedding; ec.URL != "" {
		ollama := embed.NewOllama(&embed.Config{
			APIURL:     ec.URL,
			APIPath:    "/api/embeddings",
			Model:      ec.Model,
			Dimensions: e.cfg.Vector.Dimension,
			Timeout:    ec.Timeout,
		})
		opts.Embedder = embed.NewCachedEmbedder(ollama, ec.CacheSize)
	}
	return opts, nil
}

// openGraph loads the graph at root, or at the recorded head when root is
// empty. With neither, an empty graph is returned.
func (e *env) openGraph(ctx context.Context, root string) (*kg.KnowledgeGraph, error) {
	opts, err := e.graphOptions()
	if err != nil {
		return nil, err
	}
	if root == "" {
		if root, err = e.readHead(); err != nil {
			return nil, err
		}
	}
	if root == "" {
		return kg.New(e.store, opts)
	}
	c, err := blockstore.ParseCID(root)
	if err != nil {
		return nil, err
	}
	return kg.FromCID(ctx, e.store, c, opts)
}

// publish commits g and records its root as the new head.
func (e *env) publish(ctx context.Context, cmd *cobra.Command, g *kg.KnowledgeGraph) (cid.Cid, error) {
	root, err := g.Commit(ctx)
	if err != nil {
		return cid.Undef, err
	}
	if err := e.writeHead(root); err != nil {
		return cid.Undef, err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "root %s\n", root)
	return root, nil
}

func (e *env) readHead() (string, error) {
	if e.cfg.BlockStore.DataDir == "" {
		return "", nil
	}
	data, err := os.ReadFile(filepath.Join(e.cfg.BlockStore.DataDir, headFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading head: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (e *env) writeHead(root cid.Cid) error {
	if e.cfg.BlockStore.DataDir == "" {
		e.logger.Warn("in-memory store, graph root is not persisted", "root", root)
		return nil
	}
	path := filepath.Join(e.cfg.BlockStore.DataDir, headFile)
	if err := os.WriteFile(path, []byte(root.String()+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing head: %w", err)
	}
	return nil
}
