package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Graph     GraphConfig     `yaml:"graph"`
	Loader    LoaderConfig    `yaml:"loader"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	API       APIConfig       `yaml:"api"`
	Bench     BenchConfig     `yaml:"bench"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StoreConfig selects the graph store backend
type StoreConfig struct {
	// Backend is "neo4j" or "memory"
	Backend string `yaml:"backend"`
}

// GraphConfig represents Neo4j database configuration
type GraphConfig struct {
	URI         string        `yaml:"uri"`
	Database    string        `yaml:"database"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	MaxPoolSize int           `yaml:"max_pool_size"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
}

// LoaderConfig represents evidence loader configuration
type LoaderConfig struct {
	// BatchSize bounds how many envelopes one load pass processes at a time
	BatchSize int `yaml:"batch_size"`
}

// ReconcileConfig represents the deferred-link reconciliation sweep
type ReconcileConfig struct {
	Enabled         bool          `yaml:"enabled"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// KafkaConfig represents evidence ingestion configuration
type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	EvidenceTopic string        `yaml:"evidence_topic"`
	ResultsTopic  string        `yaml:"results_topic"`
	ConsumerGroup string        `yaml:"consumer_group"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MinBytes      int           `yaml:"min_bytes"`
	MaxBytes      int           `yaml:"max_bytes"`
}

// APIConfig represents HTTP API configuration
type APIConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	EnableCORS     bool          `yaml:"enable_cors"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// BenchConfig represents performance harness configuration and budgets
type BenchConfig struct {
	Iterations      int           `yaml:"iterations"`
	Seed            int64         `yaml:"seed"`
	Services        int           `yaml:"services"`
	Findings        int           `yaml:"findings"`
	Controls        int           `yaml:"controls"`
	Threats         int           `yaml:"threats"`
	MaxDepth        int           `yaml:"max_depth"`
	SimpleQueryP95  time.Duration `yaml:"simple_query_p95"`
	MultiHopP95     time.Duration `yaml:"multi_hop_p95"`
	MinFindingsPerS float64       `yaml:"min_findings_per_sec"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Backend: "neo4j"},
		Graph: GraphConfig{
			URI:         "bolt://localhost:7687",
			Database:    "neo4j",
			MaxPoolSize: 50,
			ConnTimeout: 30 * time.Second,
		},
		Loader: LoaderConfig{BatchSize: 200},
		Reconcile: ReconcileConfig{
			Enabled:         true,
			InitialInterval: 5 * time.Second,
			MaxInterval:     2 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			EvidenceTopic: "secgraph.evidence",
			ResultsTopic:  "secgraph.load-results",
			ConsumerGroup: "secgraph-loader",
			BatchSize:     100,
			FlushInterval: 2 * time.Second,
			MinBytes:      1,
			MaxBytes:      1 << 20,
		},
		API: APIConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			RequestTimeout: 30 * time.Second,
			EnableCORS:     true,
			AllowedOrigins: []string{"*"},
		},
		Bench: BenchConfig{
			Iterations:      50,
			Seed:            42,
			Services:        200,
			Findings:        2000,
			Controls:        60,
			Threats:         40,
			MaxDepth:        2,
			SimpleQueryP95:  100 * time.Millisecond,
			MultiHopP95:     500 * time.Millisecond,
			MinFindingsPerS: 100,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration from path, layered over defaults. A missing file
// is not an error: defaults apply, with environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SECGRAPH_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("NEO4J_URI"); v != "" {
		cfg.Graph.URI = v
	}
	if v := os.Getenv("NEO4J_USERNAME"); v != "" {
		cfg.Graph.Username = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		cfg.Graph.Password = v
	}
	if v := os.Getenv("SECGRAPH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "neo4j", "memory":
	default:
		return fmt.Errorf("store.backend must be neo4j or memory, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "neo4j" && c.Graph.URI == "" {
		return fmt.Errorf("graph.uri is required for the neo4j backend")
	}
	if c.Loader.BatchSize <= 0 {
		return fmt.Errorf("loader.batch_size must be positive, got %d", c.Loader.BatchSize)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when ingestion is enabled")
	}
	if c.Bench.Iterations <= 0 {
		return fmt.Errorf("bench.iterations must be positive, got %d", c.Bench.Iterations)
	}
	return nil
}

// Addr returns the API listen address.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}
