// Package config loads the HR question-answering engine's configuration
// with layered precedence: built-in defaults → YAML file → environment
// variables. Environment variables always win, so the service remains
// configurable in containerized deployments without a mounted file.
//
// File search order:
//  1. --config CLI flag / explicit path passed to Load
//  2. HRQA_CONFIG environment variable
//  3. ~/.hrqa/config.yaml
//  4. ./hrqa.yaml
//
// If no file is found the engine runs entirely on defaults plus env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the HR question-answering
// engine.
type Config struct {
	DBPath string `yaml:"db_path"`

	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Retriever RetrieverConfig `yaml:"retriever"`
	LLM       LLMConfig       `yaml:"llm"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Uploads   UploadsConfig   `yaml:"uploads"`

	// DomainRules is the ordered list of canned-answer overrides.
	DomainRules []DomainRule `yaml:"domain_rules"`

	// BlockedResponsePatterns recognizes the LLM's refusal phrasing.
	BlockedResponsePatterns []string `yaml:"blocked_response_patterns"`

	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	ModelID  string `yaml:"model_id"`
	Endpoint string `yaml:"endpoint"`
	// Dimension is D; changing it requires re-ingesting every document.
	Dimension int `yaml:"dimension"`
	MaxTokens int `yaml:"max_tokens"`
}

// ChunkConfig configures the sentence-boundary-aware chunker.
type ChunkConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
	MinSize int `yaml:"min_size"`
}

// RetrieverConfig configures the hybrid retriever.
type RetrieverConfig struct {
	Limit                 int                 `yaml:"limit"`
	VectorThreshold       float64             `yaml:"vector_threshold"`
	TextFallbackThreshold int                 `yaml:"text_fallback_threshold"`
	Stopwords             []string            `yaml:"stopwords"`
	Synonyms              map[string][]string `yaml:"synonyms"`
}

// LLMConfig configures the two-step-auth LLM client.
type LLMConfig struct {
	Endpoint              string  `yaml:"endpoint"`
	AuthEndpoint          string  `yaml:"auth_endpoint"`
	Scope                 string  `yaml:"scope"`
	Credential            string  `yaml:"credential"`
	Model                 string  `yaml:"model"`
	MaxTokens             int     `yaml:"max_tokens"`
	Temperature           float64 `yaml:"temperature"`
	TimeoutSec            int     `yaml:"timeout"`
	TokenRefreshMarginSec int     `yaml:"token_refresh_margin_sec"`
}

// DomainRule is one entry of the canned-answer override list.
type DomainRule struct {
	Name           string   `yaml:"name"`
	IntentKeywords []string `yaml:"intent_keywords"`
	CannedAnswer   string   `yaml:"canned_answer"`
	// RequiredTokens, when non-empty, are date-like substrings of which the
	// LLM's own answer must contain at least one, or the canned answer is
	// substituted. A rule without them bypasses the LLM entirely.
	RequiredTokens []string `yaml:"required_tokens"`
}

// IngestConfig configures ingestion deadlines.
type IngestConfig struct {
	SoftDeadlineSec int `yaml:"soft_deadline_sec"`
	HardDeadlineSec int `yaml:"hard_deadline_sec"`
}

// UploadsConfig configures the upload_document entry point.
type UploadsConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"api_key"`
	CORSOrigins string `yaml:"cors_origins"`
}

// Default returns a Config populated with the defaults enumerated in the
// engine's configuration table. Secrets (llm.credential) are left empty —
// they must come from the environment.
func Default() Config {
	return Config{
		DBPath: "hrqa.db",
		Embedding: EmbeddingConfig{
			ModelID:   "sbert_large_nlu_ru",
			Dimension: 312,
			MaxTokens: 512,
		},
		Chunk: ChunkConfig{
			Size:    1500,
			Overlap: 200,
			MinSize: 10,
		},
		Retriever: RetrieverConfig{
			Limit:                 15,
			VectorThreshold:       0.55,
			TextFallbackThreshold: 0, // resolved to Limit/2 at load time if zero
			Stopwords:             defaultStopwords,
			Synonyms:              defaultSynonyms,
		},
		LLM: LLMConfig{
			Scope:                 "GIGACHAT_API_PERS",
			MaxTokens:             2000,
			Temperature:           0.3,
			TimeoutSec:            30,
			TokenRefreshMarginSec: 300,
		},
		DomainRules:             []DomainRule{defaultSalaryDatesRule},
		BlockedResponsePatterns: defaultBlockedPatterns,
		Ingest: IngestConfig{
			SoftDeadlineSec: 25 * 60,
			HardDeadlineSec: 30 * 60,
		},
		Uploads: UploadsConfig{
			Dir:      "uploads",
			MaxBytes: 50 << 20,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
	}
}

// Load builds a Config by layering a YAML file (if found) over the
// defaults, then overriding individual fields from the environment.
// explicitPath, when non-empty, is tried first; otherwise the standard
// search order is used. log may be nil.
func Load(explicitPath string, log *slog.Logger) (Config, error) {
	if log == nil {
		log = slog.Default()
	}

	cfg := Default()

	path := resolveConfigPath(explicitPath)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
		log.Info("config: loaded file", "path", path)
	} else {
		log.Debug("config: no YAML file found, using defaults + env vars")
	}

	applyEnvOverrides(&cfg)

	if cfg.Retriever.TextFallbackThreshold <= 0 {
		cfg.Retriever.TextFallbackThreshold = cfg.Retriever.Limit / 2
	}

	return cfg, nil
}

// applyEnvOverrides applies the environment variables that carry secrets or
// deployment-specific values. Env vars always win over the file and
// defaults — never the reverse.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HRQA_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("HRQA_LLM_CREDENTIAL"); v != "" {
		cfg.LLM.Credential = v
	}
	if v := os.Getenv("HRQA_LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("HRQA_LLM_AUTH_ENDPOINT"); v != "" {
		cfg.LLM.AuthEndpoint = v
	}
	if v := os.Getenv("HRQA_SERVER_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("HRQA_EMBEDDING_ENDPOINT"); v != "" {
		cfg.Embedding.Endpoint = v
	}
}

func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("HRQA_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".hrqa", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("hrqa.yaml"); err == nil {
		return "hrqa.yaml"
	}

	return ""
}
