// Package config loads and validates lexcount configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Corpus, Dictionaries, Counting, Shard, Output, Metadata, and the
// optional Postgres, Redis, Kafka and Metrics integrations).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
)

// Column modes understood by the counting engine.
const (
	ModeSplit  = "split"
	ModeMerged = "merged"
	// ModeTerms gives every dictionary term its own column.
	ModeTerms = "terms"
)

// Join policies for rows without metadata.
const (
	MismatchKeep = "keep"
	MismatchDrop = "drop"
)

// Config is the top-level application configuration.
type Config struct {
	Corpus       CorpusConfig       `yaml:"corpus"`
	Dictionaries []DictionaryConfig `yaml:"dictionaries"`
	Counting     CountingConfig     `yaml:"counting"`
	Shard        ShardConfig        `yaml:"shard"`
	Output       OutputConfig       `yaml:"output"`
	Metadata     MetadataConfig     `yaml:"metadata"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Redis        RedisConfig        `yaml:"redis"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Retry        RetryConfig        `yaml:"retry"`
}

// CorpusConfig locates the n-gram frequency files and the document list.
// When IndexFile is empty the document list is derived from the files under
// Root/ngram<N>. When Decade is set, the list is taken from the single file in
// IndexDir whose name contains "_<decade>_".
type CorpusConfig struct {
	Root        string `yaml:"root"`
	IndexFile   string `yaml:"indexFile"`
	IndexColumn int    `yaml:"indexColumn"`
	IndexHeader bool   `yaml:"indexHeader"`
	IndexDir    string `yaml:"indexDir"`
	Decade      string `yaml:"decade"`
}

// DictionaryConfig names one perspective and the file holding its terms.
// Path may contain the placeholder {decade}.
type DictionaryConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// CountingConfig controls which n-gram lengths are counted and how the
// result columns are laid out.
type CountingConfig struct {
	Lengths    []int  `yaml:"lengths"`
	Mode       string `yaml:"mode"`
	IncludeRaw bool   `yaml:"includeRaw"`
	Separator  string `yaml:"separator"`
}

// ShardConfig selects the slice of the document list this worker owns.
type ShardConfig struct {
	Index int `yaml:"index"`
	Total int `yaml:"total"`
}

// OutputConfig controls where tables and logs are written.
type OutputConfig struct {
	Dir        string `yaml:"dir"`
	RunName    string `yaml:"runName"`
	SQLitePath string `yaml:"sqlitePath"`
}

// MetadataConfig describes the external per-document metadata table and the
// normalization applied to it before the join.
type MetadataConfig struct {
	Path           string            `yaml:"path"`
	KeyColumn      string            `yaml:"keyColumn"`
	OnMismatch     string            `yaml:"onMismatch"`
	JournalColumn  string            `yaml:"journalColumn"`
	JournalAliases map[string]string `yaml:"journalAliases"`
	SubjectColumn  string            `yaml:"subjectColumn"`
	KeepSubjects   []string          `yaml:"keepSubjects"`
	// JournalSubjects is an optional CSV mapping journal titles, in
	// JournalKeyColumn, to subjects, in SubjectColumn.
	JournalSubjects  string `yaml:"journalSubjects"`
	JournalKeyColumn string `yaml:"journalKeyColumn"`
	DropEmptySubject bool   `yaml:"dropEmptySubject"`
}

// RetryConfig bounds the retries of ledger, event and sink calls.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// PostgresConfig holds PostgreSQL connection parameters for the final table
// sink.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds the shard ledger connection and merge lock TTL.
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	PoolSize  int           `yaml:"poolSize"`
	KeyPrefix string        `yaml:"keyPrefix"`
	LockTTL   time.Duration `yaml:"lockTTL"`
}

// KafkaConfig holds broker and topic settings for shard completion events.
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumerGroup"`
	Topic         string   `yaml:"topic"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint served during a run and the
// optional Pushgateway push at the end of a batch run.
type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Port           int    `yaml:"port"`
	PushgatewayURL string `yaml:"pushgatewayUrl"`
	Job            string `yaml:"job"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Missing values keep their defaults. The result is not validated;
// call Validate after applying command-line overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate checks cross-field constraints that would otherwise surface
// halfway through a run.
func (c *Config) Validate() error {
	if c.Corpus.Root == "" {
		return apperrors.Invalidf("corpus.root is required")
	}
	if len(c.Dictionaries) == 0 {
		return apperrors.Invalidf("at least one dictionary is required")
	}
	seen := make(map[string]struct{}, len(c.Dictionaries))
	for _, d := range c.Dictionaries {
		if d.Name == "" || d.Path == "" {
			return apperrors.Invalidf("dictionary entries need both name and path")
		}
		if _, dup := seen[d.Name]; dup {
			return apperrors.Invalidf("dictionary %q declared twice", d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	if len(c.Counting.Lengths) == 0 {
		return apperrors.Invalidf("counting.lengths must not be empty")
	}
	for _, n := range c.Counting.Lengths {
		if n < 1 || n > 3 {
			return fmt.Errorf("%w: %d (allowed 1-3)", apperrors.ErrUnsupportedNgramLen, n)
		}
	}
	switch c.Counting.Mode {
	case ModeSplit, ModeMerged, ModeTerms:
	default:
		return apperrors.Invalidf("counting.mode %q must be %q, %q or %q", c.Counting.Mode, ModeSplit, ModeMerged, ModeTerms)
	}
	if c.Counting.Separator == "" {
		return apperrors.Invalidf("counting.separator must not be empty")
	}
	if c.Output.Dir == "" {
		return apperrors.Invalidf("output.dir is required")
	}
	if (c.Metadata.JournalSubjects != "" || c.Metadata.DropEmptySubject) && c.Metadata.SubjectColumn == "" {
		return apperrors.Invalidf("metadata.journalSubjects and metadata.dropEmptySubject need metadata.subjectColumn")
	}
	if c.Metadata.JournalSubjects != "" && c.Metadata.JournalColumn == "" {
		return apperrors.Invalidf("metadata.journalSubjects needs metadata.journalColumn")
	}
	switch c.Metadata.OnMismatch {
	case MismatchKeep, MismatchDrop:
	default:
		return apperrors.Invalidf("metadata.onMismatch %q must be %q or %q", c.Metadata.OnMismatch, MismatchKeep, MismatchDrop)
	}
	if c.Retry.MaxAttempts < 0 {
		return apperrors.Invalidf("retry.maxAttempts must not be negative")
	}
	if c.Corpus.Decade != "" && c.Corpus.IndexDir == "" && c.Corpus.IndexFile == "" {
		return apperrors.Invalidf("corpus.decade needs corpus.indexDir")
	}
	return nil
}

// DecadeUnderscored returns the decade with its hyphen replaced, the form used
// in dictionary file names (1971-1981 -> 1971_1981).
func (c CorpusConfig) DecadeUnderscored() string {
	return strings.ReplaceAll(c.Decade, "-", "_")
}

// defaultConfig returns a Config with defaults suitable for a local run.
func defaultConfig() *Config {
	return &Config{
		Corpus: CorpusConfig{
			IndexColumn: 0,
		},
		Counting: CountingConfig{
			Lengths:    []int{1, 2, 3},
			Mode:       ModeSplit,
			IncludeRaw: true,
			Separator:  "_",
		},
		Shard: ShardConfig{
			Index: 1,
			Total: 1,
		},
		Output: OutputConfig{
			Dir:     "out",
			RunName: "default",
		},
		Metadata: MetadataConfig{
			KeyColumn:        "doi",
			OnMismatch:       MismatchKeep,
			JournalKeyColumn: "publication_title",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "lexcount",
			User:            "lexcount",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "lexcount",
			LockTTL:   24 * time.Hour,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "lexcount-merger",
			Topic:         "shard-completed",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Job:  "lexcount",
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     10 * time.Second,
		},
	}
}

// applyEnvOverrides reads LX_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LX_CORPUS_ROOT"); v != "" {
		cfg.Corpus.Root = v
	}
	if v := os.Getenv("LX_CORPUS_INDEX_FILE"); v != "" {
		cfg.Corpus.IndexFile = v
	}
	if v := os.Getenv("LX_CORPUS_DECADE"); v != "" {
		cfg.Corpus.Decade = v
	}
	if v := os.Getenv("LX_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("LX_RUN_NAME"); v != "" {
		cfg.Output.RunName = v
	}
	if v := os.Getenv("LX_SHARD_INDEX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Shard.Index = n
		}
	}
	if v := os.Getenv("LX_SHARD_TOTAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Shard.Total = n
		}
	}
	if v := os.Getenv("LX_COUNTING_LENGTHS"); v != "" {
		if lengths, err := ParseLengths(v); err == nil {
			cfg.Counting.Lengths = lengths
		}
	}
	if v := os.Getenv("LX_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("LX_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("LX_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("LX_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LX_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LX_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LX_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LX_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LX_METRICS_PUSHGATEWAY_URL"); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}
}

// ParseLengths parses a comma-separated list such as "1,2,3".
func ParseLengths(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	lengths := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("parsing n-gram length %q: %w", p, err)
		}
		lengths = append(lengths, n)
	}
	return lengths, nil
}
