package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
)

const sampleYAML = `
corpus:
  root: /data/jstor
  indexFile: /data/index.csv
  indexColumn: 1
dictionaries:
  - name: demographic
    path: dicts/demographic_{decade}.txt
  - name: relational
    path: dicts/relational.txt
counting:
  lengths: [1, 2]
  mode: merged
  includeRaw: false
shard:
  index: 2
  total: 4
output:
  dir: /tmp/out
metadata:
  path: meta.csv
  onMismatch: drop
  journalAliases:
    Industrial and Labor Relations Review: ILR Review
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lexcount.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Corpus.Root != "/data/jstor" || cfg.Corpus.IndexColumn != 1 {
		t.Errorf("unexpected corpus config %+v", cfg.Corpus)
	}
	if len(cfg.Dictionaries) != 2 || cfg.Dictionaries[0].Name != "demographic" {
		t.Errorf("unexpected dictionaries %+v", cfg.Dictionaries)
	}
	if !reflect.DeepEqual(cfg.Counting.Lengths, []int{1, 2}) {
		t.Errorf("lengths = %v", cfg.Counting.Lengths)
	}
	if cfg.Counting.Mode != ModeMerged || cfg.Counting.IncludeRaw {
		t.Errorf("unexpected counting config %+v", cfg.Counting)
	}
	// Defaults survive for keys the file does not mention.
	if cfg.Counting.Separator != "_" {
		t.Errorf("separator default lost: %q", cfg.Counting.Separator)
	}
	if cfg.Metadata.JournalAliases["Industrial and Labor Relations Review"] != "ILR Review" {
		t.Errorf("aliases = %v", cfg.Metadata.JournalAliases)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LX_SHARD_INDEX", "3")
	t.Setenv("LX_SHARD_TOTAL", "8")
	t.Setenv("LX_COUNTING_LENGTHS", "3")
	t.Setenv("LX_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Shard.Index != 3 || cfg.Shard.Total != 8 {
		t.Errorf("shard = %+v", cfg.Shard)
	}
	if !reflect.DeepEqual(cfg.Counting.Lengths, []int{3}) {
		t.Errorf("lengths = %v", cfg.Counting.Lengths)
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"a:9092", "b:9092"}) {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := defaultConfig()
		cfg.Corpus.Root = "/data"
		cfg.Dictionaries = []DictionaryConfig{{Name: "cultural", Path: "c.txt"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"ok", func(*Config) {}, nil},
		{"terms mode", func(c *Config) { c.Counting.Mode = ModeTerms }, nil},
		{"no root", func(c *Config) { c.Corpus.Root = "" }, apperrors.ErrInvalidConfig},
		{"no dictionaries", func(c *Config) { c.Dictionaries = nil }, apperrors.ErrInvalidConfig},
		{"duplicate dictionary", func(c *Config) {
			c.Dictionaries = append(c.Dictionaries, DictionaryConfig{Name: "cultural", Path: "d.txt"})
		}, apperrors.ErrInvalidConfig},
		{"length four", func(c *Config) { c.Counting.Lengths = []int{1, 4} }, apperrors.ErrUnsupportedNgramLen},
		{"bad mode", func(c *Config) { c.Counting.Mode = "wide" }, apperrors.ErrInvalidConfig},
		{"bad mismatch", func(c *Config) { c.Metadata.OnMismatch = "flag" }, apperrors.ErrInvalidConfig},
		{"journal subjects without subject column", func(c *Config) {
			c.Metadata.JournalSubjects = "journals.csv"
			c.Metadata.JournalColumn = "journal_title"
		}, apperrors.ErrInvalidConfig},
		{"drop empty subject", func(c *Config) {
			c.Metadata.SubjectColumn = "primary_subject"
			c.Metadata.DropEmptySubject = true
		}, nil},
		{"negative retries", func(c *Config) { c.Retry.MaxAttempts = -1 }, apperrors.ErrInvalidConfig},
		{"decade without index dir", func(c *Config) { c.Corpus.Decade = "1971-1981" }, apperrors.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLengths(t *testing.T) {
	got, err := ParseLengths(" 3, 1 ,2,")
	if err != nil {
		t.Fatalf("ParseLengths: %v", err)
	}
	if !reflect.DeepEqual(got, []int{3, 1, 2}) {
		t.Errorf("got %v", got)
	}
	if _, err := ParseLengths("1,x"); err == nil {
		t.Error("expected error for non-numeric length")
	}
}

func TestDecadeUnderscored(t *testing.T) {
	c := CorpusConfig{Decade: "1971-1981"}
	if got := c.DecadeUnderscored(); got != "1971_1981" {
		t.Errorf("got %q", got)
	}
}
