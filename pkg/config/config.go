// Package config handles ipfskg configuration from YAML files and environment
// variables.
//
// Configuration starts from DefaultConfig(), is optionally overlaid with a YAML
// file via LoadFile(), and finally with IPFSKG_* environment variables via
// ApplyEnv(). Validate() must pass before the values are handed to the block
// store, vector index or knowledge graph constructors.
//
// Example Usage:
//
//	cfg, err := config.Load("ipfskg.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	logger := config.NewLogger(cfg.Logging)
//	store, err := blockstore.Open(cfg.BlockStore.StoreOptions(logger))
//
// Environment Variables:
//   - IPFSKG_DATA_DIR="./data" (empty = in-memory block store)
//   - IPFSKG_DAEMON_URL="http://127.0.0.1:5001" (empty = local-only)
//   - IPFSKG_HASH="sha2-256" or "blake2b-256"
//   - IPFSKG_MAX_BLOCK_SIZE="1MiB"
//   - IPFSKG_CHUNK_THRESHOLD="800KiB"
//   - IPFSKG_BATCH_WORKERS=8
//   - IPFSKG_CACHE_SIZE=4096
//   - IPFSKG_COMPRESSION=true
//   - IPFSKG_VECTOR_DIMENSION=384
//   - IPFSKG_VECTOR_METRIC="cosine", "l2" or "inner_product"
//   - IPFSKG_VECTOR_BACKEND="auto", "blas" or "bruteforce"
//   - IPFSKG_TEXT_INDEX=true
//   - IPFSKG_DEFER_COMMIT=false
//   - IPFSKG_SEARCH_CACHE=256 (0 = disabled)
//   - IPFSKG_RAG_SEMANTIC_WEIGHT=0.6
//   - IPFSKG_RAG_MAX_DEPTH=2
//   - IPFSKG_EMBEDDING_URL="http://localhost:11434" (empty = no embedder)
//   - IPFSKG_EMBEDDING_MODEL="all-minilm"
//   - IPFSKG_LOG_LEVEL="info"
//   - IPFSKG_LOG_COLOR=true
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Size constants used by defaults and by ParseSize.
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// Config holds all ipfskg configuration.
//
// Sections:
//   - BlockStore: content-addressed storage, daemon, caching
//   - Vector: embedding dimension, metric and search backend
//   - Graph: persistent knowledge graph behaviour
//   - RAG: hybrid search defaults
//   - Embedding: optional Ollama embedder
//   - Logging: slog/tint handler settings
type Config struct {
	BlockStore BlockStoreConfig `yaml:"blockstore"`
	Vector     VectorConfig     `yaml:"vector"`
	Graph      GraphConfig      `yaml:"graph"`
	RAG        RAGConfig        `yaml:"rag"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BlockStoreConfig configures the block store.
type BlockStoreConfig struct {
	// DataDir enables the badger disk backend. Empty keeps blocks in memory.
	DataDir string `yaml:"data_dir"`
	// DaemonURL is the Kubo RPC endpoint. Empty means local-only.
	DaemonURL string `yaml:"daemon_url"`
	// DaemonTimeout bounds each daemon request.
	DaemonTimeout time.Duration `yaml:"daemon_timeout"`
	// Hash selects the digest: "sha2-256" or "blake2b-256".
	Hash string `yaml:"hash"`
	// MaxBlockSize is the largest payload a single block may carry.
	MaxBlockSize int `yaml:"max_block_size"`
	// BatchWorkers bounds the PutBatch/GetBatch worker pool.
	BatchWorkers int `yaml:"batch_workers"`
	// CacheSize is the number of blocks kept in the disk backend's read cache.
	CacheSize int `yaml:"cache_size"`
	// Compression enables zstd for values in the disk backend.
	Compression bool `yaml:"compression"`
	// ChunkSize is the leaf size used when adding files.
	ChunkSize int `yaml:"chunk_size"`
}

// VectorConfig configures the vector index.
type VectorConfig struct {
	Dimension int    `yaml:"dimension"`
	Metric    string `yaml:"metric"`
	Backend   string `yaml:"backend"`
}

// GraphConfig configures the persistent knowledge graph.
type GraphConfig struct {
	Name           string `yaml:"name"`
	ChunkThreshold int    `yaml:"chunk_threshold"`
	DeferCommit    bool   `yaml:"defer_commit"`
	TextIndex      bool   `yaml:"text_index"`
	// SearchCache is the number of cached search results (0 disables).
	SearchCache    int           `yaml:"search_cache"`
	SearchCacheTTL time.Duration `yaml:"search_cache_ttl"`
}

// RAGConfig holds hybrid search defaults.
type RAGConfig struct {
	TopK             int     `yaml:"top_k"`
	MinSimilarity    float64 `yaml:"min_similarity"`
	MaxDepth         int     `yaml:"max_depth"`
	SemanticWeight   float64 `yaml:"semantic_weight"`
	StructuralWeight float64 `yaml:"structural_weight"`
	Decay            float64 `yaml:"decay"`
	MaxResults       int     `yaml:"max_results"`
}

// EmbeddingConfig configures the embedding provider used for entities added
// without a vector and for text queries.
type EmbeddingConfig struct {
	// URL of the Ollama API. Empty disables embedding.
	URL       string        `yaml:"url"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"`
}

// LoggingConfig configures the slog handler returned by NewLogger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Color     bool   `yaml:"color"`
	AddSource bool   `yaml:"add_source"`
	// Format is "text" (tint) or "json".
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		BlockStore: BlockStoreConfig{
			DaemonTimeout: 10 * time.Second,
			Hash:          "sha2-256",
			MaxBlockSize:  1 * MiB,
			BatchWorkers:  8,
			CacheSize:     4096,
			Compression:   true,
			ChunkSize:     256 * KiB,
		},
		Vector: VectorConfig{
			Dimension: 384,
			Metric:    "cosine",
			Backend:   "auto",
		},
		Graph: GraphConfig{
			Name:           "knowledge_graph",
			ChunkThreshold: 800 * KiB,
			TextIndex:      true,
			SearchCache:    256,
			SearchCacheTTL: 10 * time.Minute,
		},
		RAG: RAGConfig{
			TopK:             5,
			MinSimilarity:    0.5,
			MaxDepth:         2,
			SemanticWeight:   0.6,
			StructuralWeight: 0.4,
			Decay:            0.5,
			MaxResults:       20,
		},
		Embedding: EmbeddingConfig{
			Model:     "all-minilm",
			Timeout:   30 * time.Second,
			CacheSize: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Color:  true,
			Format: "text",
		},
	}
}

// LoadFile overlays the YAML file at path onto a copy of DefaultConfig.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv returns DefaultConfig with IPFSKG_* variables applied.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg
}

// Load reads path (if non-empty), applies the environment and validates.
// Environment variables take precedence over file settings.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields with any IPFSKG_* variables that are set.
func (c *Config) ApplyEnv() {
	bs := &c.BlockStore
	bs.DataDir = getEnv("IPFSKG_DATA_DIR", bs.DataDir)
	bs.DaemonURL = getEnv("IPFSKG_DAEMON_URL", bs.DaemonURL)
	bs.DaemonTimeout = getEnvDuration("IPFSKG_DAEMON_TIMEOUT", bs.DaemonTimeout)
	bs.Hash = getEnv("IPFSKG_HASH", bs.Hash)
	bs.MaxBlockSize = getEnvSize("IPFSKG_MAX_BLOCK_SIZE", bs.MaxBlockSize)
	bs.BatchWorkers = getEnvInt("IPFSKG_BATCH_WORKERS", bs.BatchWorkers)
	bs.CacheSize = getEnvInt("IPFSKG_CACHE_SIZE", bs.CacheSize)
	bs.Compression = getEnvBool("IPFSKG_COMPRESSION", bs.Compression)
	bs.ChunkSize = getEnvSize("IPFSKG_CHUNK_SIZE", bs.ChunkSize)

	c.Vector.Dimension = getEnvInt("IPFSKG_VECTOR_DIMENSION", c.Vector.Dimension)
	c.Vector.Metric = getEnv("IPFSKG_VECTOR_METRIC", c.Vector.Metric)
	c.Vector.Backend = getEnv("IPFSKG_VECTOR_BACKEND", c.Vector.Backend)

	c.Graph.Name = getEnv("IPFSKG_GRAPH_NAME", c.Graph.Name)
	c.Graph.ChunkThreshold = getEnvSize("IPFSKG_CHUNK_THRESHOLD", c.Graph.ChunkThreshold)
	c.Graph.DeferCommit = getEnvBool("IPFSKG_DEFER_COMMIT", c.Graph.DeferCommit)
	c.Graph.TextIndex = getEnvBool("IPFSKG_TEXT_INDEX", c.Graph.TextIndex)
	c.Graph.SearchCache = getEnvInt("IPFSKG_SEARCH_CACHE", c.Graph.SearchCache)
	c.Graph.SearchCacheTTL = getEnvDuration("IPFSKG_SEARCH_CACHE_TTL", c.Graph.SearchCacheTTL)

	c.RAG.TopK = getEnvInt("IPFSKG_RAG_TOP_K", c.RAG.TopK)
	c.RAG.MinSimilarity = getEnvFloat("IPFSKG_RAG_MIN_SIMILARITY", c.RAG.MinSimilarity)
	c.RAG.MaxDepth = getEnvInt("IPFSKG_RAG_MAX_DEPTH", c.RAG.MaxDepth)
	if w := getEnvFloat("IPFSKG_RAG_SEMANTIC_WEIGHT", -1); w >= 0 {
		c.RAG.SemanticWeight = w
		c.RAG.StructuralWeight = 1 - w
	}
	c.RAG.Decay = getEnvFloat("IPFSKG_RAG_DECAY", c.RAG.Decay)
	c.RAG.MaxResults = getEnvInt("IPFSKG_RAG_MAX_RESULTS", c.RAG.MaxResults)

	c.Embedding.URL = getEnv("IPFSKG_EMBEDDING_URL", c.Embedding.URL)
	c.Embedding.Model = getEnv("IPFSKG_EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Timeout = getEnvDuration("IPFSKG_EMBEDDING_TIMEOUT", c.Embedding.Timeout)
	c.Embedding.CacheSize = getEnvInt("IPFSKG_EMBEDDING_CACHE_SIZE", c.Embedding.CacheSize)

	c.Logging.Level = getEnv("IPFSKG_LOG_LEVEL", c.Logging.Level)
	c.Logging.Color = getEnvBool("IPFSKG_LOG_COLOR", c.Logging.Color)
	c.Logging.AddSource = getEnvBool("IPFSKG_LOG_SOURCE", c.Logging.AddSource)
	c.Logging.Format = getEnv("IPFSKG_LOG_FORMAT", c.Logging.Format)
}

// Validate checks the configuration for values the constructors would reject.
func (c *Config) Validate() error {
	bs := c.BlockStore
	switch bs.Hash {
	case "sha2-256", "blake2b-256":
	default:
		return fmt.Errorf("invalid hash function: %q", bs.Hash)
	}
	if bs.MaxBlockSize <= 0 {
		return fmt.Errorf("invalid max block size: %d", bs.MaxBlockSize)
	}
	if bs.BatchWorkers <= 0 {
		return fmt.Errorf("invalid batch workers: %d", bs.BatchWorkers)
	}
	if bs.ChunkSize <= 0 || bs.ChunkSize > bs.MaxBlockSize {
		return fmt.Errorf("chunk size %d must be in (0, %d]", bs.ChunkSize, bs.MaxBlockSize)
	}

	if c.Vector.Dimension <= 0 {
		return fmt.Errorf("invalid vector dimension: %d", c.Vector.Dimension)
	}
	switch c.Vector.Metric {
	case "cosine", "l2", "inner_product":
	default:
		return fmt.Errorf("invalid vector metric: %q", c.Vector.Metric)
	}
	switch c.Vector.Backend {
	case "auto", "blas", "bruteforce":
	default:
		return fmt.Errorf("invalid vector backend: %q", c.Vector.Backend)
	}

	if c.Graph.ChunkThreshold <= 0 || c.Graph.ChunkThreshold >= bs.MaxBlockSize {
		return fmt.Errorf("chunk threshold %d must be in (0, %d)", c.Graph.ChunkThreshold, bs.MaxBlockSize)
	}

	r := c.RAG
	if r.SemanticWeight < 0 || r.StructuralWeight < 0 ||
		math.Abs(r.SemanticWeight+r.StructuralWeight-1) > 1e-6 {
		return fmt.Errorf("rag weights must be non-negative and sum to 1 (got %.3f + %.3f)",
			r.SemanticWeight, r.StructuralWeight)
	}
	if r.Decay <= 0 || r.Decay > 1 {
		return fmt.Errorf("invalid rag decay: %v", r.Decay)
	}
	if r.TopK <= 0 || r.MaxDepth < 0 {
		return fmt.Errorf("invalid rag top_k/max_depth: %d/%d", r.TopK, r.MaxDepth)
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// String returns a short summary suitable for logging.
func (c *Config) String() string {
	dir := c.BlockStore.DataDir
	if dir == "" {
		dir = "memory"
	}
	daemon := c.BlockStore.DaemonURL
	if daemon == "" {
		daemon = "local-only"
	}
	return fmt.Sprintf("Config{Store: %s, Daemon: %s, Hash: %s, Vectors: %d/%s/%s, MaxBlock: %s}",
		dir, daemon, c.BlockStore.Hash,
		c.Vector.Dimension, c.Vector.Metric, c.Vector.Backend,
		FormatSize(int64(c.BlockStore.MaxBlockSize)))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// bare integers are seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvSize(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := ParseSize(val); err == nil {
			return int(n)
		}
	}
	return defaultVal
}

// ParseSize parses sizes such as "800KiB", "1MB", "512k" or "4096".
// K/M/G suffixes are binary multiples with or without the "i" and "B".
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	s = strings.TrimSuffix(s, "B")
	s = strings.TrimSuffix(s, "I")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = KiB
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = MiB
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = GiB
		s = strings.TrimSuffix(s, "G")
	}

	val, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("negative size %d", val)
	}
	return val * multiplier, nil
}

// FormatSize formats bytes as a human-readable string.
func FormatSize(bytes int64) string {
	switch {
	case bytes >= GiB:
		return fmt.Sprintf("%.2f GiB", float64(bytes)/float64(GiB))
	case bytes >= MiB:
		return fmt.Sprintf("%.2f MiB", float64(bytes)/float64(MiB))
	case bytes >= KiB:
		return fmt.Sprintf("%.2f KiB", float64(bytes)/float64(KiB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
