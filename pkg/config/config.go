package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

// Config holds all configuration for ekaya-query.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3450"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"`

	// RequestTimeout bounds a whole pipeline run, LLM calls included.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"60s"`
	// MaxQuestionChars rejects oversized questions before any stage runs.
	MaxQuestionChars int `yaml:"max_question_chars" env:"MAX_QUESTION_CHARS" env-default:"2000"`

	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	LLM       LLMConfig       `yaml:"llm"`
	Ranker    RankerConfig    `yaml:"ranker"`
	Intent    IntentConfig    `yaml:"intent"`
	Generator GeneratorConfig `yaml:"generator"`
	Validator ValidatorConfig `yaml:"validator"`
	Guardrail GuardrailConfig `yaml:"guardrail"`
	Executor  ExecutorConfig  `yaml:"executor"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Schema    SchemaConfig    `yaml:"schema"`
}

// AuthConfig holds bearer token validation settings.
type AuthConfig struct {
	// EnableVerification controls whether JWT signatures are verified.
	// When false, tokens are parsed without verification (local development).
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"false"`

	// Required rejects requests without a bearer token.
	Required bool `yaml:"required" env:"AUTH_REQUIRED" env-default:"false"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// MarkerClaim names the claim holding row-security context markers.
	MarkerClaim string `yaml:"marker_claim" env:"AUTH_MARKER_CLAIM" env-default:"ctx"`

	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds the connection settings of the queried PostgreSQL database.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"readonly"`
	Password       string `yaml:"-" env:"PGPASSWORD"`
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"postgres"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	MinConnections int32  `yaml:"min_connections" env:"PGMIN_CONNECTIONS" env-default:"1"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the schema snapshot cache settings. An empty host
// disables the cache.
type RedisConfig struct {
	Host        string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port        int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password    string        `yaml:"-" env:"REDIS_PASSWORD"`
	DB          int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" env:"REDIS_SNAPSHOT_TTL" env-default:"2h"`
}

// Enabled reports whether a Redis host is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

// LLMConfig selects and tunes the LLM capability.
type LLMConfig struct {
	Provider       string        `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Model          string        `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	Endpoint       string        `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:""`
	APIKey         string        `yaml:"-" env:"LLM_API_KEY"`
	Temperature    float64       `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0"`
	MaxTokens      int           `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1024"`
	Timeout        time.Duration `yaml:"timeout" env:"LLM_TIMEOUT" env-default:"30s"`
	MaxRetries     int           `yaml:"max_retries" env:"LLM_MAX_RETRIES" env-default:"2"`
	BreakerFails   int           `yaml:"breaker_threshold" env:"LLM_BREAKER_THRESHOLD" env-default:"5"`
	BreakerReset   time.Duration `yaml:"breaker_reset" env:"LLM_BREAKER_RESET" env-default:"30s"`
	EmbeddingModel string        `yaml:"embedding_model" env:"LLM_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	// StubScript is a YAML file of scripted replies for the "stub" provider.
	StubScript string `yaml:"stub_script" env:"LLM_STUB_SCRIPT" env-default:""`
}

// RankerConfig holds schema ranking settings.
type RankerConfig struct {
	Strategy string `yaml:"strategy" env:"RANKER_STRATEGY" env-default:"lexical"`
	// BudgetChars bounds the rendered size of a ranked slice.
	BudgetChars  int    `yaml:"budget_chars" env:"RANKER_BUDGET_CHARS" env-default:"8192"`
	TopN         int    `yaml:"top_n" env:"RANKER_TOP_N" env-default:"8"`
	IndexPath    string `yaml:"index_path" env:"RANKER_INDEX_PATH" env-default:""`
	IndexWorkers int    `yaml:"index_workers" env:"RANKER_INDEX_WORKERS" env-default:"4"`
}

// IntentConfig holds the repair loop caps.
type IntentConfig struct {
	MaxRepairs          int `yaml:"max_repairs" env:"INTENT_MAX_REPAIRS" env-default:"2"`
	MaxMalformedRepairs int `yaml:"max_malformed_repairs" env:"INTENT_MAX_MALFORMED_REPAIRS" env-default:"1"`
}

// GeneratorConfig holds SQL generator limits.
type GeneratorConfig struct {
	DefaultLimit int `yaml:"default_limit" env:"GENERATOR_DEFAULT_LIMIT" env-default:"100"`
	MaxLimit     int `yaml:"max_limit" env:"GENERATOR_MAX_LIMIT" env-default:"1000"`
}

// ValidatorConfig holds SQL validator policy.
type ValidatorConfig struct {
	LimitCeiling int `yaml:"limit_ceiling" env:"VALIDATOR_LIMIT_CEILING" env-default:"1000"`
	// ExtraFunctions extends the built-in function allow-list.
	ExtraFunctions []string `yaml:"extra_functions" env:"VALIDATOR_EXTRA_FUNCTIONS" env-separator:","`
	// DeniedFunctions removes functions from the allow-list; denial wins.
	DeniedFunctions []string `yaml:"denied_functions" env:"VALIDATOR_DENIED_FUNCTIONS" env-separator:","`
}

// GuardrailConfig holds admission thresholds.
type GuardrailConfig struct {
	CostCeiling float64 `yaml:"cost_ceiling" env:"GUARDRAIL_COST_CEILING" env-default:"100000"`
	RowCeiling  float64 `yaml:"row_ceiling" env:"GUARDRAIL_ROW_CEILING" env-default:"500000"`
	// HeuristicLimit is the largest explicit LIMIT accepted without a WHERE
	// clause when no planner estimate is available.
	HeuristicLimit int `yaml:"heuristic_limit" env:"GUARDRAIL_HEURISTIC_LIMIT" env-default:"100"`
	// ResultRowCap tightens any larger limit before execution.
	ResultRowCap int `yaml:"result_row_cap" env:"GUARDRAIL_RESULT_ROW_CAP" env-default:"500"`
	// SensitiveTables marks tables as row-security-sensitive in addition to
	// catalog policies. Format: "schema.table=marker1|marker2,other=marker".
	SensitiveTablesStr string `yaml:"sensitive_tables" env:"GUARDRAIL_SENSITIVE_TABLES" env-default:""`
	// RejectSuspiciousParams rejects queries whose bound parameters look like
	// SQL injection payloads instead of only auditing them.
	RejectSuspiciousParams bool `yaml:"reject_suspicious_params" env:"GUARDRAIL_REJECT_SUSPICIOUS_PARAMS" env-default:"false"`

	SensitiveTables map[string][]string `yaml:"-"`
}

// ExecutorConfig holds execution limits.
type ExecutorConfig struct {
	StatementTimeout time.Duration `yaml:"statement_timeout" env:"EXECUTOR_STATEMENT_TIMEOUT" env-default:"5s"`
	RowCap           int           `yaml:"row_cap" env:"EXECUTOR_ROW_CAP" env-default:"500"`
}

// RateLimitConfig holds per-principal request limits. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" env:"RATE_LIMIT_PER_MINUTE" env-default:"60"`
	Burst             int `yaml:"burst" env:"RATE_LIMIT_BURST" env-default:"10"`
}

// SchemaConfig holds snapshot extraction settings.
type SchemaConfig struct {
	Schemas         []string      `yaml:"schemas" env:"SCHEMA_INCLUDE" env-separator:"," env-default:"public"`
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"SCHEMA_REFRESH_INTERVAL" env-default:"10m"`
	// SnapshotFile loads the snapshot from YAML instead of the database.
	SnapshotFile string `yaml:"snapshot_file" env:"SCHEMA_SNAPSHOT_FILE" env-default:""`
}

// Load reads configuration from path with environment variable overrides.
// A missing file is not an error: defaults and environment apply.
func Load(path, version string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := &Config{Version: version}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, fs.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{Scheme: "http", Host: "localhost:" + cfg.Port}).String()
	}
	cfg.Database.Host = ResolveHostForDocker(cfg.Database.Host)
	cfg.Redis.Host = ResolveHostForDocker(cfg.Redis.Host)

	return cfg, nil
}

func (c *Config) parseComplexFields() error {
	c.Auth.JWKSEndpoints = parsePairs(c.Auth.JWKSEndpointsStr)

	c.Guardrail.SensitiveTables = make(map[string][]string)
	for table, markers := range parsePairs(c.Guardrail.SensitiveTablesStr) {
		if !strings.Contains(table, ".") {
			table = "public." + table
		}
		var list []string
		for _, m := range strings.Split(markers, "|") {
			if m = strings.TrimSpace(m); m != "" {
				list = append(list, m)
			}
		}
		if len(list) == 0 {
			return fmt.Errorf("sensitive table %q lists no markers", table)
		}
		c.Guardrail.SensitiveTables[strings.ToLower(table)] = list
	}
	return nil
}

// Validate rejects policy values that would make the pipeline unsafe or unusable.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic", "stub":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Ranker.Strategy {
	case "lexical", "embedding":
	default:
		return fmt.Errorf("unknown ranker strategy %q", c.Ranker.Strategy)
	}
	if c.Ranker.BudgetChars <= 0 {
		return fmt.Errorf("ranker budget_chars must be positive")
	}
	if c.Intent.MaxRepairs < 0 || c.Intent.MaxMalformedRepairs < 0 {
		return fmt.Errorf("intent repair caps must not be negative")
	}
	if c.Generator.DefaultLimit <= 0 || c.Generator.MaxLimit <= 0 {
		return fmt.Errorf("generator limits must be positive")
	}
	if c.Generator.DefaultLimit > c.Generator.MaxLimit {
		return fmt.Errorf("generator default_limit %d exceeds max_limit %d", c.Generator.DefaultLimit, c.Generator.MaxLimit)
	}
	if c.Validator.LimitCeiling <= 0 {
		return fmt.Errorf("validator limit_ceiling must be positive")
	}
	if c.Guardrail.CostCeiling <= 0 || c.Guardrail.RowCeiling <= 0 {
		return fmt.Errorf("guardrail ceilings must be positive")
	}
	if c.Guardrail.HeuristicLimit <= 0 || c.Guardrail.ResultRowCap <= 0 {
		return fmt.Errorf("guardrail heuristic_limit and result_row_cap must be positive")
	}
	if c.Executor.StatementTimeout <= 0 || c.Executor.RowCap <= 0 {
		return fmt.Errorf("executor statement_timeout and row_cap must be positive")
	}
	return nil
}

// parsePairs parses "key1=value1,key2=value2".
func parsePairs(value string) map[string]string {
	out := make(map[string]string)
	if value == "" {
		return out
	}
	for _, pair := range strings.Split(value, ",") {
		key, val, ok := strings.Cut(pair, "=")
		if ok {
			out[strings.TrimSpace(key)] = strings.TrimSpace(val)
		}
	}
	return out
}

// ConnectionString builds a PostgreSQL URL. User, password and database
// are escaped so characters such as @, / and # in passwords survive parsing.
func (c *DatabaseConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		url.QueryEscape(c.Database),
		sslMode,
	)
}

// Addr returns the Redis host:port address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

var (
	inDockerOnce sync.Once
	inDocker     bool
)

// ResolveHostForDocker maps localhost to host.docker.internal when the
// process runs inside a container, so services on the host stay reachable.
func ResolveHostForDocker(host string) string {
	inDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		inDocker = err == nil
	})
	if inDocker && (host == "localhost" || host == "127.0.0.1") {
		return "host.docker.internal"
	}
	return host
}
