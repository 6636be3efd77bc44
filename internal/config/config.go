// Package config builds the tinyMem runtime configuration.
//
// Values are merged once at startup in a fixed order: built-in defaults,
// then the project file (.tinyMem/config.toml), then TINYMEM_* environment
// variables. Core packages receive the resulting struct and never read the
// environment themselves.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Defaults for every tunable setting.
const (
	DefaultProxyPort               = 8080
	DefaultLogLevel                = "info"
	DefaultLLMBaseURL              = "http://localhost:11434/v1"
	DefaultLLMModel                = "qwen2.5-coder"
	DefaultLLMTimeoutSeconds       = 60
	DefaultEmbeddingModel          = "nomic-embed-text"
	DefaultHybridWeight            = 0.5
	DefaultRecallMaxItems          = 10
	DefaultRecallMaxTokens         = 2000
	DefaultCoVeConfidenceThreshold = 0.6
	DefaultCoVeMaxCandidates       = 20
	DefaultCoVeTimeoutSeconds      = 30
	DefaultEvidenceTimeoutSeconds  = 20
	DefaultRalphMaxIterations      = 5
	DefaultRalphCommandTimeout     = 300
	DefaultRalphSessionTimeout     = 1800
	DefaultMetricsAddress          = "127.0.0.1:9464"

	// DirName is the per-project state directory.
	DirName = ".tinyMem"
	// FileName is the project config file inside DirName.
	FileName = "config.toml"
)

// ProxyConfig holds the proxy listener settings.
type ProxyConfig struct {
	Port int `toml:"port"`
}

// RecallConfig controls hybrid recall.
type RecallConfig struct {
	MaxItems        int     `toml:"max_items"`
	MaxTokens       int     `toml:"max_tokens"`
	SemanticEnabled bool    `toml:"semantic_enabled"`
	HybridWeight    float64 `toml:"hybrid_weight"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// LLMConfig points at an OpenAI-compatible chat endpoint.
type LLMConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// EmbeddingConfig points at an OpenAI-compatible embeddings endpoint.
// An empty BaseURL reuses the LLM endpoint.
type EmbeddingConfig struct {
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

// CoVeConfig controls the chain-of-verification filter.
type CoVeConfig struct {
	Enabled             bool    `toml:"enabled"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	MaxCandidates       int     `toml:"max_candidates"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
	Model               string  `toml:"model"`
	RecallFilterEnabled bool    `toml:"recall_filter_enabled"`
}

// EvidenceConfig controls command execution for evidence predicates.
type EvidenceConfig struct {
	AllowCommand          bool     `toml:"allow_command"`
	AllowedCommands       []string `toml:"allowed_commands"`
	CommandTimeoutSeconds int      `toml:"command_timeout_seconds"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
}

// RalphConfig holds defaults for repair sessions.
type RalphConfig struct {
	MaxIterations         int `toml:"max_iterations"`
	CommandTimeoutSeconds int `toml:"command_timeout_seconds"`
	SessionTimeoutSeconds int `toml:"session_timeout_seconds"`
}

// Config is the merged runtime configuration.
type Config struct {
	Proxy     ProxyConfig     `toml:"proxy"`
	Recall    RecallConfig    `toml:"recall"`
	Logging   LoggingConfig   `toml:"logging"`
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	CoVe      CoVeConfig      `toml:"cove"`
	Evidence  EvidenceConfig  `toml:"evidence"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Ralph     RalphConfig     `toml:"ralph"`

	ProjectRoot string `toml:"-"`
	ProjectID   string `toml:"-"`
	DataDir     string `toml:"-"`

	// problems collects values that were present but unusable while
	// loading. They are reported by Validate instead of failing Load.
	problems []string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Proxy: ProxyConfig{Port: DefaultProxyPort},
		Recall: RecallConfig{
			MaxItems:     DefaultRecallMaxItems,
			MaxTokens:    DefaultRecallMaxTokens,
			HybridWeight: DefaultHybridWeight,
		},
		Logging: LoggingConfig{Level: DefaultLogLevel},
		LLM: LLMConfig{
			BaseURL:        DefaultLLMBaseURL,
			Model:          DefaultLLMModel,
			TimeoutSeconds: DefaultLLMTimeoutSeconds,
		},
		Embedding: EmbeddingConfig{Model: DefaultEmbeddingModel},
		CoVe: CoVeConfig{
			Enabled:             true,
			ConfidenceThreshold: DefaultCoVeConfidenceThreshold,
			MaxCandidates:       DefaultCoVeMaxCandidates,
			TimeoutSeconds:      DefaultCoVeTimeoutSeconds,
			RecallFilterEnabled: true,
		},
		Evidence: EvidenceConfig{CommandTimeoutSeconds: DefaultEvidenceTimeoutSeconds},
		Metrics:  MetricsConfig{Address: DefaultMetricsAddress},
		Ralph: RalphConfig{
			MaxIterations:         DefaultRalphMaxIterations,
			CommandTimeoutSeconds: DefaultRalphCommandTimeout,
			SessionTimeoutSeconds: DefaultRalphSessionTimeout,
		},
	}
}

// Load builds the configuration for the project rooted at projectRoot.
// A missing config file is not an error; a malformed one is.
func Load(projectRoot string) (*Config, error) {
	cfg := Default()

	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("config: resolve project root: %w", err)
	}
	cfg.ProjectRoot = root
	cfg.ProjectID = GenerateProjectID(root)
	cfg.DataDir = filepath.Join(root, DirName)

	if err := cfg.loadFile(filepath.Join(cfg.DataDir, FileName)); err != nil {
		return nil, err
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	// Unmarshal over the defaults so absent keys keep their default value.
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) {
	c.envInt(lookup, "TINYMEM_PROXY_PORT", &c.Proxy.Port)
	c.envString(lookup, "TINYMEM_LOG_LEVEL", &c.Logging.Level)
	c.envString(lookup, "TINYMEM_LOG_FILE", &c.Logging.File)

	c.envString(lookup, "TINYMEM_LLM_BASE_URL", &c.LLM.BaseURL)
	c.envString(lookup, "TINYMEM_LLM_API_KEY", &c.LLM.APIKey)
	c.envString(lookup, "TINYMEM_LLM_MODEL", &c.LLM.Model)
	c.envInt(lookup, "TINYMEM_LLM_TIMEOUT_SECONDS", &c.LLM.TimeoutSeconds)
	c.envString(lookup, "TINYMEM_EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	c.envString(lookup, "TINYMEM_EMBEDDING_MODEL", &c.Embedding.Model)

	c.envBool(lookup, "TINYMEM_SEMANTIC_ENABLED", &c.Recall.SemanticEnabled)
	c.envFloat(lookup, "TINYMEM_HYBRID_WEIGHT", &c.Recall.HybridWeight)
	c.envInt(lookup, "TINYMEM_RECALL_MAX_ITEMS", &c.Recall.MaxItems)
	c.envInt(lookup, "TINYMEM_RECALL_MAX_TOKENS", &c.Recall.MaxTokens)

	c.envBool(lookup, "TINYMEM_COVE_ENABLED", &c.CoVe.Enabled)
	c.envFloat(lookup, "TINYMEM_COVE_CONFIDENCE_THRESHOLD", &c.CoVe.ConfidenceThreshold)
	c.envInt(lookup, "TINYMEM_COVE_MAX_CANDIDATES", &c.CoVe.MaxCandidates)
	c.envInt(lookup, "TINYMEM_COVE_TIMEOUT_SECONDS", &c.CoVe.TimeoutSeconds)
	c.envString(lookup, "TINYMEM_COVE_MODEL", &c.CoVe.Model)
	c.envBool(lookup, "TINYMEM_COVE_RECALL_FILTER_ENABLED", &c.CoVe.RecallFilterEnabled)

	c.envBool(lookup, "TINYMEM_EVIDENCE_ALLOW_COMMAND", &c.Evidence.AllowCommand)
	c.envList(lookup, "TINYMEM_EVIDENCE_ALLOWED_COMMANDS", &c.Evidence.AllowedCommands)
	c.envInt(lookup, "TINYMEM_EVIDENCE_COMMAND_TIMEOUT_SECONDS", &c.Evidence.CommandTimeoutSeconds)

	c.envBool(lookup, "TINYMEM_METRICS_ENABLED", &c.Metrics.Enabled)
	c.envString(lookup, "TINYMEM_METRICS_ADDRESS", &c.Metrics.Address)

	c.envInt(lookup, "TINYMEM_RALPH_MAX_ITERATIONS", &c.Ralph.MaxIterations)
	c.envInt(lookup, "TINYMEM_RALPH_COMMAND_TIMEOUT_SECONDS", &c.Ralph.CommandTimeoutSeconds)
	c.envInt(lookup, "TINYMEM_RALPH_SESSION_TIMEOUT_SECONDS", &c.Ralph.SessionTimeoutSeconds)
}

func (c *Config) envString(lookup lookupFunc, key string, dst *string) {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func (c *Config) envInt(lookup lookupFunc, key string, dst *int) {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		c.problems = append(c.problems, fmt.Sprintf("%s: %q is not an integer", key, v))
		return
	}
	*dst = n
}

func (c *Config) envFloat(lookup lookupFunc, key string, dst *float64) {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		c.problems = append(c.problems, fmt.Sprintf("%s: %q is not a number", key, v))
		return
	}
	*dst = f
}

func (c *Config) envBool(lookup lookupFunc, key string, dst *bool) {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		c.problems = append(c.problems, fmt.Sprintf("%s: %q is not a boolean", key, v))
	}
}

func (c *Config) envList(lookup lookupFunc, key string, dst *[]string) {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

// Validate reports every invalid setting. Callers decide whether a problem
// matters for the command they run; a bad proxy port is irrelevant to a
// health check.
func (c *Config) Validate() []string {
	problems := append([]string(nil), c.problems...)

	if c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
		problems = append(problems, fmt.Sprintf("proxy.port %d is out of range (1-65535)", c.Proxy.Port))
	}
	if c.Recall.HybridWeight < 0 || c.Recall.HybridWeight > 1 {
		problems = append(problems, fmt.Sprintf("recall.hybrid_weight %.2f must be within [0,1]", c.Recall.HybridWeight))
	}
	if c.Recall.MaxItems <= 0 {
		problems = append(problems, "recall.max_items must be positive")
	}
	if c.Recall.MaxTokens <= 0 {
		problems = append(problems, "recall.max_tokens must be positive")
	}
	if c.CoVe.ConfidenceThreshold < 0 || c.CoVe.ConfidenceThreshold > 1 {
		problems = append(problems, fmt.Sprintf("cove.confidence_threshold %.2f must be within [0,1]", c.CoVe.ConfidenceThreshold))
	}
	if c.CoVe.MaxCandidates <= 0 {
		problems = append(problems, "cove.max_candidates must be positive")
	}
	if c.CoVe.TimeoutSeconds <= 0 {
		problems = append(problems, "cove.timeout_seconds must be positive")
	}
	if c.Evidence.CommandTimeoutSeconds <= 0 {
		problems = append(problems, "evidence.command_timeout_seconds must be positive")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error", "off":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error, off", c.Logging.Level))
	}
	return problems
}

// CoVeTimeout returns the verifier timeout as a duration.
func (c *Config) CoVeTimeout() time.Duration {
	return time.Duration(c.CoVe.TimeoutSeconds) * time.Second
}

// EvidenceTimeout returns the evidence command timeout as a duration.
func (c *Config) EvidenceTimeout() time.Duration {
	return time.Duration(c.Evidence.CommandTimeoutSeconds) * time.Second
}

// LLMTimeout returns the chat request timeout as a duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// RalphCommandTimeout returns the per-command repair timeout.
func (c *Config) RalphCommandTimeout() time.Duration {
	return time.Duration(c.Ralph.CommandTimeoutSeconds) * time.Second
}

// RalphSessionTimeout returns the wall-clock limit of a repair session.
func (c *Config) RalphSessionTimeout() time.Duration {
	return time.Duration(c.Ralph.SessionTimeoutSeconds) * time.Second
}

// CoVeModel returns the model used for verification, falling back to the
// main LLM model.
func (c *Config) CoVeModel() string {
	if c.CoVe.Model != "" {
		return c.CoVe.Model
	}
	return c.LLM.Model
}

// EmbeddingBaseURL returns the embeddings endpoint, falling back to the LLM
// endpoint.
func (c *Config) EmbeddingBaseURL() string {
	if c.Embedding.BaseURL != "" {
		return c.Embedding.BaseURL
	}
	return c.LLM.BaseURL
}
