package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration, constructed exactly once at
// startup and passed by reference into component constructors. Components
// never read the environment on the hot path.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Budget     BudgetConfig     `mapstructure:"budget"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Research   ResearchConfig   `mapstructure:"research"`
	Cascade    CascadeConfig    `mapstructure:"cascade"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	VectorDB   VectorDBConfig   `mapstructure:"vectordb"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Session    SessionConfig    `mapstructure:"session"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServiceConfig contains basic service configuration.
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	HealthPort      int           `mapstructure:"health_port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// BudgetConfig holds the deadline arithmetic knobs. Every duration here is
// a cap or a floor; the live slice is always derived from the request's
// remaining budget at call time.
type BudgetConfig struct {
	// RequestDeadline is the hard wall-clock limit per request when the
	// caller does not supply one (serverless platforms usually do).
	RequestDeadline time.Duration `mapstructure:"request_deadline"`
	// SafetyMargin is subtracted from the hard deadline so in-flight I/O
	// never runs past the host's kill point.
	SafetyMargin time.Duration `mapstructure:"safety_margin"`
	// GenerationReserve is the slice of budget that retrieval and research
	// may never encroach on.
	GenerationReserve time.Duration `mapstructure:"generation_reserve"`
	// ContinuationReserve is held back from generation attempts so a
	// truncated answer can still be continued.
	ContinuationReserve time.Duration `mapstructure:"continuation_reserve"`
}

// RetrievalConfig tunes the retrieval ranker.
type RetrievalConfig struct {
	MinSlice          time.Duration `mapstructure:"min_slice"`
	SemanticMinSlice  time.Duration `mapstructure:"semantic_min_slice"`
	SemanticTopK      int           `mapstructure:"semantic_top_k"`
	SimilarityFloor   float64       `mapstructure:"similarity_floor"`
	MaxSources        int           `mapstructure:"max_sources"`
	ExcerptsPerSource int           `mapstructure:"excerpts_per_source"`
	ExcerptMaxChars   int           `mapstructure:"excerpt_max_chars"`
	DocumentsTopN     int           `mapstructure:"documents_top_n"`
	IncidentsTopN     int           `mapstructure:"incidents_top_n"`
	DiscussionsTopN   int           `mapstructure:"discussions_top_n"`
	AcronymAllowList  []string      `mapstructure:"acronym_allow_list"`
}

// ResearchConfig tunes the web research planner.
type ResearchConfig struct {
	MinSlice        time.Duration `mapstructure:"min_slice"`
	PlanTimeout     time.Duration `mapstructure:"plan_timeout"`
	PerQueryTimeout time.Duration `mapstructure:"per_query_timeout"`
	PerQueryFloor   time.Duration `mapstructure:"per_query_floor"`
	SynthTimeout    time.Duration `mapstructure:"synth_timeout"`
	MaxSubqueries   int           `mapstructure:"max_subqueries"`
	Workers         int           `mapstructure:"workers"`
	ConfidenceFloor float64       `mapstructure:"confidence_floor"`
	TriggerPhrases  []string      `mapstructure:"trigger_phrases"`
	PlannerModel    string        `mapstructure:"planner_model"`
	SynthModel      string        `mapstructure:"synth_model"`
	// Providers is the fixed preference order of web-search backends.
	Providers []SearchProviderConfig `mapstructure:"providers"`
	// RatePerSecond bounds outbound search calls across all workers.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

// SearchProviderConfig describes one interchangeable web-search backend.
type SearchProviderConfig struct {
	Name    string `mapstructure:"name"`
	Type    string `mapstructure:"type"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Enabled bool   `mapstructure:"enabled"`
}

// CascadeConfig tunes the model cascade executor.
type CascadeConfig struct {
	MinSlice           time.Duration     `mapstructure:"min_slice"`
	ContinuationFloor  time.Duration     `mapstructure:"continuation_floor"`
	MaxHistoryTurns    int               `mapstructure:"max_history_turns"`
	BaseMaxTokens      int               `mapstructure:"base_max_tokens"`
	MaxTokensCap       int               `mapstructure:"max_tokens_cap"`
	Candidates         []CandidateConfig `mapstructure:"candidates"`
}

// CandidateConfig is one generation backend in the preference-ordered list.
type CandidateConfig struct {
	Model              string `mapstructure:"model"`
	BaseURL            string `mapstructure:"base_url"`
	APIKeyEnv          string `mapstructure:"api_key_env"`
	SupportsEffort     bool   `mapstructure:"supports_reasoning_effort"`
	SupportsVerbosity  bool   `mapstructure:"supports_verbosity"`
}

// EmbeddingsConfig configures the embedding collaborator.
type EmbeddingsConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	DefaultModel string        `mapstructure:"default_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	MaxLRU       int           `mapstructure:"max_lru"`
	EnableRedis  bool          `mapstructure:"enable_redis"`
}

// VectorDBConfig configures the semantic index client.
type VectorDBConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig configures the catalog/persistence Postgres connection.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SessionConfig configures transcript history access.
type SessionConfig struct {
	MaxTurns int           `mapstructure:"max_turns"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// TracingConfig configures OTLP tracing.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the YAML file at CONFIG_PATH (default /app/config/oracle.yaml),
// applies defaults and env overrides, and validates the result.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "/app/config/oracle.yaml"
	}
	return LoadFile(path)
}

// LoadFile loads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns a Config with all defaults applied and no file read.
// Used by tests and local development.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Service.Port == 0 {
		c.Service.Port = 8080
	}
	if c.Service.HealthPort == 0 {
		c.Service.HealthPort = 8081
	}
	if c.Service.GracefulTimeout == 0 {
		c.Service.GracefulTimeout = 10 * time.Second
	}

	if c.Budget.RequestDeadline == 0 {
		c.Budget.RequestDeadline = 25 * time.Second
	}
	if c.Budget.SafetyMargin == 0 {
		c.Budget.SafetyMargin = 1500 * time.Millisecond
	}
	if c.Budget.GenerationReserve == 0 {
		c.Budget.GenerationReserve = 8 * time.Second
	}
	if c.Budget.ContinuationReserve == 0 {
		c.Budget.ContinuationReserve = 2 * time.Second
	}

	if c.Retrieval.MinSlice == 0 {
		c.Retrieval.MinSlice = 300 * time.Millisecond
	}
	if c.Retrieval.SemanticMinSlice == 0 {
		c.Retrieval.SemanticMinSlice = 700 * time.Millisecond
	}
	if c.Retrieval.SemanticTopK == 0 {
		c.Retrieval.SemanticTopK = 8
	}
	if c.Retrieval.SimilarityFloor == 0 {
		c.Retrieval.SimilarityFloor = 0.35
	}
	if c.Retrieval.MaxSources == 0 {
		c.Retrieval.MaxSources = 3
	}
	if c.Retrieval.ExcerptsPerSource == 0 {
		c.Retrieval.ExcerptsPerSource = 2
	}
	if c.Retrieval.ExcerptMaxChars == 0 {
		c.Retrieval.ExcerptMaxChars = 1200
	}
	if c.Retrieval.DocumentsTopN == 0 {
		c.Retrieval.DocumentsTopN = 3
	}
	if c.Retrieval.IncidentsTopN == 0 {
		c.Retrieval.IncidentsTopN = 2
	}
	if c.Retrieval.DiscussionsTopN == 0 {
		c.Retrieval.DiscussionsTopN = 2
	}
	if len(c.Retrieval.AcronymAllowList) == 0 {
		c.Retrieval.AcronymAllowList = []string{"ai", "ml", "llm", "api", "sdk", "gpu", "cpu", "ram", "sql", "etl"}
	}

	if c.Research.MinSlice == 0 {
		c.Research.MinSlice = 2 * time.Second
	}
	if c.Research.PlanTimeout == 0 {
		c.Research.PlanTimeout = 2 * time.Second
	}
	if c.Research.PerQueryTimeout == 0 {
		c.Research.PerQueryTimeout = 4 * time.Second
	}
	if c.Research.PerQueryFloor == 0 {
		c.Research.PerQueryFloor = 750 * time.Millisecond
	}
	if c.Research.SynthTimeout == 0 {
		c.Research.SynthTimeout = 3 * time.Second
	}
	if c.Research.MaxSubqueries == 0 {
		c.Research.MaxSubqueries = 4
	}
	if c.Research.Workers == 0 {
		c.Research.Workers = 3
	}
	if c.Research.ConfidenceFloor == 0 {
		c.Research.ConfidenceFloor = 2
	}
	if len(c.Research.TriggerPhrases) == 0 {
		c.Research.TriggerPhrases = []string{
			"cite your sources", "with sources", "cite sources",
			"according to official", "link your sources", "sourced answer",
		}
	}
	if c.Research.RatePerSecond == 0 {
		c.Research.RatePerSecond = 5
	}

	if c.Cascade.MinSlice == 0 {
		c.Cascade.MinSlice = 1500 * time.Millisecond
	}
	if c.Cascade.ContinuationFloor == 0 {
		c.Cascade.ContinuationFloor = 2 * time.Second
	}
	if c.Cascade.MaxHistoryTurns == 0 {
		c.Cascade.MaxHistoryTurns = 12
	}
	if c.Cascade.BaseMaxTokens == 0 {
		c.Cascade.BaseMaxTokens = 1024
	}
	if c.Cascade.MaxTokensCap == 0 {
		c.Cascade.MaxTokensCap = 4096
	}

	if c.Embeddings.DefaultModel == "" {
		c.Embeddings.DefaultModel = "text-embedding-3-small"
	}
	if c.Embeddings.Timeout == 0 {
		c.Embeddings.Timeout = 5 * time.Second
	}
	if c.Embeddings.CacheTTL == 0 {
		c.Embeddings.CacheTTL = time.Hour
	}
	if c.Embeddings.MaxLRU == 0 {
		c.Embeddings.MaxLRU = 2048
	}

	if c.VectorDB.Port == 0 {
		c.VectorDB.Port = 6333
	}
	if c.VectorDB.Collection == "" {
		c.VectorDB.Collection = "knowledge_chunks"
	}
	if c.VectorDB.Timeout == 0 {
		c.VectorDB.Timeout = 5 * time.Second
	}

	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "require"
	}
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 25
	}
	if c.Database.IdleConnections == 0 {
		c.Database.IdleConnections = 5
	}
	if c.Database.MaxLifetime == 0 {
		c.Database.MaxLifetime = 5 * time.Minute
	}

	if c.Session.MaxTurns == 0 {
		c.Session.MaxTurns = 12
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 24 * time.Hour
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "oracle-orchestrator"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("REQUEST_DEADLINE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Budget.RequestDeadline = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("GENERATION_RESERVE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Budget.GenerationReserve = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("RESEARCH_CONFIDENCE_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Research.ConfidenceFloor = f
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("DATABASE_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("EMBEDDINGS_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}
	if v := os.Getenv("VECTORDB_HOST"); v != "" {
		c.VectorDB.Host = v
		c.VectorDB.Enabled = true
	}
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Budget.SafetyMargin >= c.Budget.RequestDeadline {
		return fmt.Errorf("budget: safety margin %v >= request deadline %v", c.Budget.SafetyMargin, c.Budget.RequestDeadline)
	}
	if c.Budget.GenerationReserve >= c.Budget.RequestDeadline {
		return fmt.Errorf("budget: generation reserve %v >= request deadline %v", c.Budget.GenerationReserve, c.Budget.RequestDeadline)
	}
	if c.Research.MaxSubqueries > 5 {
		return fmt.Errorf("research: max_subqueries %d exceeds hard cap 5", c.Research.MaxSubqueries)
	}
	if c.Research.Workers > 4 {
		return fmt.Errorf("research: workers %d exceeds bounded pool size 4", c.Research.Workers)
	}
	for i, cand := range c.Cascade.Candidates {
		if cand.Model == "" {
			return fmt.Errorf("cascade: candidate %d has empty model", i)
		}
	}
	return nil
}
