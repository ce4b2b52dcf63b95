// Package config handles configuration loading and validation.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// EnvPrefix is the prefix for environment overrides, e.g. CHATWIZARD_LOGGING_LEVEL.
const EnvPrefix = "CHATWIZARD"

// Config represents the complete configuration.
type Config struct {
	Models      ModelsConfig      `mapstructure:"models" yaml:"models"`
	Generation  GenerationConfig  `mapstructure:"generation" yaml:"generation"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval" yaml:"retrieval"`
	Chunking    ChunkingConfig    `mapstructure:"chunking" yaml:"chunking"`
	VectorStore VectorStoreConfig `mapstructure:"vectorstore" yaml:"vectorstore"`
	Ingest      IngestConfig      `mapstructure:"ingest" yaml:"ingest"`
	Plugins     PluginsConfig     `mapstructure:"plugins" yaml:"plugins"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// ModelsConfig lists the logical model ids the router can resolve.
type ModelsConfig struct {
	DefaultCompletion string        `mapstructure:"default_completion" yaml:"default_completion"`
	DefaultEmbedding  string        `mapstructure:"default_embedding" yaml:"default_embedding"`
	Completion        []ModelConfig `mapstructure:"completion" yaml:"completion"`
	Embedding         []ModelConfig `mapstructure:"embedding" yaml:"embedding"`
}

// ModelConfig binds a logical model id to a provider and vendor model.
type ModelConfig struct {
	ID         string        `mapstructure:"id" yaml:"id"`                           // logical id used by callers
	Provider   string        `mapstructure:"provider" yaml:"provider"`               // registry name
	Model      string        `mapstructure:"model" yaml:"model"`                     // vendor model name
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint,omitempty"`     // API base URL override
	APIKey     string        `mapstructure:"api_key" yaml:"api_key,omitempty"`       // opaque credential
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`       // completion only
	BatchSize  int           `mapstructure:"batch_size" yaml:"batch_size,omitempty"` // embedding only
	Dimensions int           `mapstructure:"dimensions" yaml:"dimensions,omitempty"` // embedding only
}

// GenerationConfig holds request defaults applied when the caller leaves a field unset.
type GenerationConfig struct {
	Temperature   float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	ContextWindow int           `mapstructure:"context_window" yaml:"context_window"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// RetrievalConfig contains RAG settings.
type RetrievalConfig struct {
	Enabled             bool    `mapstructure:"enabled" yaml:"enabled"`
	TopK                int     `mapstructure:"top_k" yaml:"top_k"`
	MaxContextTokens    int     `mapstructure:"max_context_tokens" yaml:"max_context_tokens"`
	SimilarityThreshold float32 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"` // 0 disables
}

// ChunkingConfig contains chunking strategy configuration.
type ChunkingConfig struct {
	Strategy     string `mapstructure:"strategy" yaml:"strategy"`             // treesitter, simple
	MaxChunkSize int    `mapstructure:"max_chunk_size" yaml:"max_chunk_size"` // max tokens per chunk
	Overlap      int    `mapstructure:"overlap" yaml:"overlap"`               // tokens, -1 disables
}

// VectorStoreConfig contains vector store configuration.
type VectorStoreConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // memory, sqlitevec
	Path     string `mapstructure:"path" yaml:"path"`         // database file, default .chatwizard/index.db
}

// IngestConfig contains ingestion settings.
type IngestConfig struct {
	Include     []string      `mapstructure:"include" yaml:"include"`             // glob patterns to include
	Exclude     []string      `mapstructure:"exclude" yaml:"exclude"`             // glob patterns to exclude
	MaxFileSize int64         `mapstructure:"max_file_size" yaml:"max_file_size"` // bytes
	Debounce    time.Duration `mapstructure:"debounce" yaml:"debounce"`           // watcher debounce
}

// PluginsConfig contains plugin host settings.
type PluginsConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`             // default .chatwizard/plugins
	LogLevel string `mapstructure:"log_level" yaml:"log_level"` // hclog level for plugin processes
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Models: ModelsConfig{
			DefaultCompletion: "llama3.2",
			DefaultEmbedding:  "nomic-embed-text",
			Completion: []ModelConfig{
				{ID: "llama3.2", Provider: "ollama", Model: "llama3.2", Endpoint: "http://localhost:11434"},
				{ID: "gpt-4", Provider: "openai", Model: "gpt-4"},
				{ID: "claude-3-opus", Provider: "anthropic", Model: "claude-3-opus-20240229"},
				{ID: "gemini-pro", Provider: "google", Model: "gemini-pro"},
				{ID: "echo", Provider: "echo", Model: "echo"},
			},
			Embedding: []ModelConfig{
				{ID: "nomic-embed-text", Provider: "ollama", Model: "nomic-embed-text", Endpoint: "http://localhost:11434", BatchSize: 32},
				{ID: "text-embedding-3-small", Provider: "openai", Model: "text-embedding-3-small", BatchSize: 100},
				{ID: "hash", Provider: "hash", Dimensions: 384},
			},
		},
		Generation: GenerationConfig{
			Temperature:   0.7,
			MaxTokens:     2048,
			ContextWindow: 4096,
		},
		Retrieval: RetrievalConfig{
			Enabled:          true,
			TopK:             5,
			MaxContextTokens: 4096,
		},
		Chunking: ChunkingConfig{
			Strategy:     "treesitter",
			MaxChunkSize: 500,
			Overlap:      50,
		},
		VectorStore: VectorStoreConfig{
			Provider: "sqlitevec",
		},
		Ingest: IngestConfig{
			Include: []string{
				"**/*.md", "**/*.markdown", "**/*.txt", "**/*.rst",
				"**/*.go", "**/*.py", "**/*.js", "**/*.mjs", "**/*.ts", "**/*.tsx",
				"**/*.json", "**/*.yaml", "**/*.yml", "**/*.toml",
				"**/*.html", "**/*.sql", "**/*.sh",
			},
			Exclude: []string{
				"**/vendor/**", "**/node_modules/**", "**/.git/**", "**/.chatwizard/**",
				"**/dist/**", "**/build/**", "**/target/**", "**/bin/**",
				"**/*.min.js", "**/package-lock.json", "**/yarn.lock", "**/go.sum",
			},
			MaxFileSize: 1 << 20,
			Debounce:    500 * time.Millisecond,
		},
		Plugins: PluginsConfig{
			LogLevel: "warn",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigDir returns the path to .chatwizard directory.
func ConfigDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".chatwizard")
}

// ConfigPath returns the path to config.yaml.
func ConfigPath(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "config.yaml")
}

// IndexDBPath returns the path to index.db.
func IndexDBPath(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "index.db")
}

// PluginsDir returns the default plugins directory.
func PluginsDir(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "plugins")
}

// Load loads configuration from file, falling back to defaults.
// Environment variables prefixed with CHATWIZARD_ override scalar settings,
// and vendor credentials fall back to their usual variables.
func Load(projectRoot string) (*Config, []string, error) {
	cfg := DefaultConfig()
	warnings := []string{}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	configPath := ConfigPath(projectRoot)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		warnings = append(warnings, "No config file found, using defaults")
	} else {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Decode into a fresh value: every default is registered with viper, and
	// decoding over pre-filled slices would keep surplus default entries.
	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults for missing values
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "sqlitevec"
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = IndexDBPath(projectRoot)
	} else if !filepath.IsAbs(cfg.VectorStore.Path) {
		cfg.VectorStore.Path = filepath.Join(projectRoot, cfg.VectorStore.Path)
	}
	if cfg.Plugins.Dir == "" {
		cfg.Plugins.Dir = PluginsDir(projectRoot)
	} else if !filepath.IsAbs(cfg.Plugins.Dir) {
		cfg.Plugins.Dir = filepath.Join(projectRoot, cfg.Plugins.Dir)
	}
	if cfg.Chunking.Strategy == "" {
		cfg.Chunking.Strategy = "treesitter"
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}

	for i := range cfg.Models.Completion {
		warnings = append(warnings, applyCredentialEnv(&cfg.Models.Completion[i])...)
	}
	for i := range cfg.Models.Embedding {
		warnings = append(warnings, applyCredentialEnv(&cfg.Models.Embedding[i])...)
	}

	return cfg, warnings, nil
}

// setDefaults registers every scalar key with viper so AutomaticEnv can
// override it during Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("models.default_completion", cfg.Models.DefaultCompletion)
	v.SetDefault("models.default_embedding", cfg.Models.DefaultEmbedding)
	v.SetDefault("models.completion", cfg.Models.Completion)
	v.SetDefault("models.embedding", cfg.Models.Embedding)
	v.SetDefault("generation.temperature", cfg.Generation.Temperature)
	v.SetDefault("generation.max_tokens", cfg.Generation.MaxTokens)
	v.SetDefault("generation.context_window", cfg.Generation.ContextWindow)
	v.SetDefault("generation.timeout", cfg.Generation.Timeout)
	v.SetDefault("retrieval.enabled", cfg.Retrieval.Enabled)
	v.SetDefault("retrieval.top_k", cfg.Retrieval.TopK)
	v.SetDefault("retrieval.max_context_tokens", cfg.Retrieval.MaxContextTokens)
	v.SetDefault("retrieval.similarity_threshold", cfg.Retrieval.SimilarityThreshold)
	v.SetDefault("chunking.strategy", cfg.Chunking.Strategy)
	v.SetDefault("chunking.max_chunk_size", cfg.Chunking.MaxChunkSize)
	v.SetDefault("chunking.overlap", cfg.Chunking.Overlap)
	v.SetDefault("vectorstore.provider", cfg.VectorStore.Provider)
	v.SetDefault("vectorstore.path", cfg.VectorStore.Path)
	v.SetDefault("ingest.include", cfg.Ingest.Include)
	v.SetDefault("ingest.exclude", cfg.Ingest.Exclude)
	v.SetDefault("ingest.max_file_size", cfg.Ingest.MaxFileSize)
	v.SetDefault("ingest.debounce", cfg.Ingest.Debounce)
	v.SetDefault("plugins.dir", cfg.Plugins.Dir)
	v.SetDefault("plugins.log_level", cfg.Plugins.LogLevel)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}

// credentialEnv lists the environment variables consulted, in order, when a
// model entry has no api_key.
var credentialEnv = map[string][]string{
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"google":    {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
}

func applyCredentialEnv(m *ModelConfig) []string {
	if m.Provider == "ollama" && m.Endpoint == "" {
		if host := os.Getenv("OLLAMA_HOST"); host != "" {
			if !strings.Contains(host, "://") {
				host = "http://" + host
			}
			m.Endpoint = host
		}
	}
	if m.APIKey != "" {
		return nil
	}
	names, ok := credentialEnv[m.Provider]
	if !ok {
		return nil
	}
	for _, name := range names {
		if key := os.Getenv(name); key != "" {
			m.APIKey = key
			return nil
		}
	}
	return []string{fmt.Sprintf("Model %q has no API key (set %s)", m.ID, names[0])}
}

// Save saves configuration to file.
func Save(projectRoot string, cfg *Config) error {
	configDir := ConfigDir(projectRoot)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(ConfigPath(projectRoot))
	v.SetConfigType("yaml")

	// Set all values
	v.Set("models", cfg.Models)
	v.Set("generation", cfg.Generation)
	v.Set("retrieval", cfg.Retrieval)
	v.Set("chunking", cfg.Chunking)
	v.Set("vectorstore", cfg.VectorStore)
	v.Set("ingest", cfg.Ingest)
	v.Set("plugins", cfg.Plugins)
	v.Set("logging", cfg.Logging)

	return v.WriteConfig()
}

// Validate validates the configuration.
func Validate(cfg *Config) []error {
	var errs []error

	errs = append(errs, validateModels("completion", cfg.Models.Completion, cfg.Models.DefaultCompletion, provider.DefaultRegistry.HasCompletion)...)
	errs = append(errs, validateModels("embedding", cfg.Models.Embedding, cfg.Models.DefaultEmbedding, provider.DefaultRegistry.HasEmbedding)...)

	if cfg.Generation.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("invalid generation.max_tokens: %d", cfg.Generation.MaxTokens))
	}
	if cfg.Retrieval.TopK < 0 {
		errs = append(errs, fmt.Errorf("invalid retrieval.top_k: %d", cfg.Retrieval.TopK))
	}
	if cfg.Retrieval.SimilarityThreshold < -1 || cfg.Retrieval.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("invalid retrieval.similarity_threshold: %v (valid: -1..1)", cfg.Retrieval.SimilarityThreshold))
	}

	// Validate chunking
	validChunkingStrategies := map[string]bool{
		"treesitter": true, "simple": true,
	}
	if !validChunkingStrategies[cfg.Chunking.Strategy] {
		errs = append(errs, fmt.Errorf("invalid chunking strategy: %s", cfg.Chunking.Strategy))
	}

	// Validate vector store
	validStores := map[string]bool{
		"memory": true, "sqlitevec": true,
	}
	if !validStores[cfg.VectorStore.Provider] {
		errs = append(errs, fmt.Errorf("invalid vector store: %s (valid: memory, sqlitevec)", cfg.VectorStore.Provider))
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "": true,
	}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Errorf("invalid logging level: %s", cfg.Logging.Level))
	}
	if cfg.Logging.Format != "" && cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid logging format: %s (valid: text, json)", cfg.Logging.Format))
	}

	return errs
}

func validateModels(kind string, models []ModelConfig, defaultID string, known func(string) bool) []error {
	var errs []error
	seen := make(map[string]bool, len(models))
	for i, m := range models {
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("%s model %d has no id", kind, i))
			continue
		}
		if seen[m.ID] {
			errs = append(errs, fmt.Errorf("duplicate %s model id: %s", kind, m.ID))
		}
		seen[m.ID] = true
		if !known(m.Provider) {
			errs = append(errs, fmt.Errorf("%s model %s: unknown provider %q", kind, m.ID, m.Provider))
		}
	}
	if defaultID != "" && !seen[defaultID] {
		errs = append(errs, fmt.Errorf("default %s model %q is not configured", kind, defaultID))
	}
	return errs
}

// CompletionModel returns the completion entry with the given id.
func (c *Config) CompletionModel(id string) (ModelConfig, bool) {
	return findModel(c.Models.Completion, id)
}

// EmbeddingModel returns the embedding entry with the given id.
func (c *Config) EmbeddingModel(id string) (ModelConfig, bool) {
	return findModel(c.Models.Embedding, id)
}

func findModel(models []ModelConfig, id string) (ModelConfig, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// CompletionConfig converts the entry into a provider factory config.
func (m ModelConfig) CompletionConfig() provider.CompletionConfig {
	return provider.CompletionConfig{
		Provider: m.Provider,
		Model:    m.Model,
		APIKey:   m.APIKey,
		Endpoint: m.Endpoint,
		Timeout:  m.Timeout,
	}
}

// EmbeddingConfig converts the entry into a provider factory config.
func (m ModelConfig) EmbeddingConfig(pluginDir string) provider.EmbeddingConfig {
	return provider.EmbeddingConfig{
		Provider:   m.Provider,
		Model:      m.Model,
		Endpoint:   m.Endpoint,
		APIKey:     m.APIKey,
		BatchSize:  m.BatchSize,
		Dimensions: m.Dimensions,
		PluginDir:  pluginDir,
	}
}

// ApplyGeneration fills unset fields of req from the configured defaults.
func (c *Config) ApplyGeneration(req types.GenerationConfig) types.GenerationConfig {
	if req.Model == "" {
		req.Model = c.Models.DefaultCompletion
	}
	if req.Temperature == nil {
		req.Temperature = types.Float32(c.Generation.Temperature)
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.Generation.MaxTokens
	}
	if req.ContextWindow == 0 {
		req.ContextWindow = c.Generation.ContextWindow
	}
	if req.Timeout == 0 {
		req.Timeout = c.Generation.Timeout
	}
	return req
}

// Hash returns a hash of configuration that affects indexing.
// Used for detecting when reingesting is needed.
func (c *Config) Hash() string {
	data := fmt.Sprintf("%s:%s:%d:%d",
		c.Models.DefaultEmbedding,
		c.Chunking.Strategy,
		c.Chunking.MaxChunkSize,
		c.Chunking.Overlap,
	)
	if m, ok := c.EmbeddingModel(c.Models.DefaultEmbedding); ok {
		data += fmt.Sprintf(":%s:%s:%d", m.Provider, m.Model, m.Dimensions)
	}
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}
