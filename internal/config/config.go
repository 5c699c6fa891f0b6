package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kode4food/agentflow/pkg/api"
)

type (
	// Config holds configuration settings for the runtime
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Stores & Archiving
		Redis            RedisConfig
		MemoryTTL        int64
		DefinitionsPath  string
		ArchiveBucketURL string
		ArchivePrefix    string
		ResourceBuckets  map[string]string
		RemoteEndpoints  map[string]string
		PromptIndexPath  string

		// Dispatch & Retry
		CallTimeout  int64
		RunTimeout   int64
		RunRetention int64
		Retry        api.RetryConfig
		RetryJitter  int

		// Feedback
		FeedbackMaxAttempts int
		FeedbackWait        int64

		// Fan-out
		FanOutParallelism int
		FailurePolicy     api.FailurePolicy

		// Model
		ModelName       string
		ModelMaxTokens  int64
		AnthropicAPIKey string

		ShutdownTimeout time.Duration
	}

	// RedisConfig locates the Redis server backing memory and example
	// stores
	RedisConfig struct {
		Addr     string
		Password string
		Prefix   string
		DB       int
	}
)

const (
	DefaultCallTimeout     = 30_000
	DefaultShutdownTimeout = 10 * time.Second

	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535
	DefaultRedisDB = 0

	DefaultRedisEndpoint = "localhost:6379"
	DefaultRedisPrefix   = "agentflow"
	DefaultArchivePrefix = "agentflow"

	DefaultRetryMaxAttempts  = 3
	DefaultRetryInitBackoff  = 200
	DefaultMaxRetryBackoff   = 5_000
	DefaultRetryBackoffType  = api.BackoffTypeExponential
	DefaultRetryJitter       = 20
	DefaultFeedbackAttempts  = 5
	DefaultFailurePolicy     = api.PolicyFailFast
	DefaultModelName         = "claude-sonnet-4-5"
	DefaultModelMaxTokens    = 1024
	DefaultMemoryTTL         = 0
	DefaultFanOutParallelism = 0
	DefaultRunRetention      = 60 * 60 * 1000

	MaxCallTimeout        = 24 * 60 * 60 * 1000
	MaxRunTimeout         = 7 * MaxCallTimeout
	MaxRunRetention       = 30 * MaxCallTimeout
	MaxRetryMaxAttempts   = 100
	MaxRetryInitBackoff   = 60 * 60 * 1000
	MaxRetryMaxBackoff    = MaxRetryInitBackoff
	MaxRetryJitter        = 100
	MaxFeedbackAttempts   = 1000
	MaxFeedbackWait       = MaxCallTimeout
	MaxFanOutParallelism  = 100_000
	MaxModelMaxTokens     = 1_000_000
	MaxMemoryTTL          = 30 * MaxCallTimeout
	MaxShutdownTimeoutSec = 3600
)

var (
	ErrInvalidAPIPort          = errors.New("invalid API port")
	ErrInvalidCallTimeout      = errors.New("call timeout must be positive")
	ErrInvalidRunTimeout       = errors.New("run timeout cannot be negative")
	ErrInvalidRunRetention     = errors.New("run retention must be positive")
	ErrInvalidRetryMaxAttempts = errors.New(
		"retry max attempts must be positive",
	)
	ErrInvalidRetryInitBackoff = errors.New(
		"retry initial backoff must be positive",
	)
	ErrInvalidRetryMaxBackoff = errors.New(
		"retry max backoff must be positive",
	)
	ErrRetryMaxBackoffTooSmall = errors.New(
		"retry max backoff must be >= retry initial backoff",
	)
	ErrInvalidRetryBackoffType = errors.New("invalid retry backoff type")
	ErrInvalidRetryJitter      = errors.New("retry jitter must be 0-100")
	ErrInvalidFeedbackAttempts = errors.New(
		"feedback max attempts must be positive",
	)
	ErrInvalidFeedbackWait  = errors.New("feedback wait cannot be negative")
	ErrInvalidFailurePolicy = errors.New("invalid failure policy")
	ErrInvalidParallelism   = errors.New("fan-out parallelism cannot be negative")
	ErrInvalidLogLevel      = errors.New("invalid log level")
	ErrInvalidBucketSpec    = errors.New("invalid resource bucket spec")
)

// NewDefaultConfig creates a configuration with sensible defaults for the
// server, stores, dispatch and retry behavior
func NewDefaultConfig() *Config {
	return &Config{
		APIPort:  DefaultAPIPort,
		APIHost:  DefaultAPIHost,
		LogLevel: "info",
		Redis: RedisConfig{
			Addr:   DefaultRedisEndpoint,
			DB:     DefaultRedisDB,
			Prefix: DefaultRedisPrefix,
		},
		MemoryTTL:       DefaultMemoryTTL,
		ArchivePrefix:   DefaultArchivePrefix,
		ResourceBuckets: map[string]string{},
		CallTimeout:     DefaultCallTimeout,
		RunRetention:    DefaultRunRetention,
		Retry: api.RetryConfig{
			MaxAttempts:  DefaultRetryMaxAttempts,
			BackoffMs:    DefaultRetryInitBackoff,
			MaxBackoffMs: DefaultMaxRetryBackoff,
			BackoffType:  DefaultRetryBackoffType,
		},
		RetryJitter:         DefaultRetryJitter,
		FeedbackMaxAttempts: DefaultFeedbackAttempts,
		FanOutParallelism:   DefaultFanOutParallelism,
		FailurePolicy:       DefaultFailurePolicy,
		ModelName:           DefaultModelName,
		ModelMaxTokens:      DefaultModelMaxTokens,
		ShutdownTimeout:     DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	loadEnvString("API_HOST", &c.APIHost)
	loadEnvString("LOG_LEVEL", &c.LogLevel)
	loadEnvString("REDIS_ADDR", &c.Redis.Addr)
	loadEnvString("REDIS_PASSWORD", &c.Redis.Password)
	loadEnvString("REDIS_PREFIX", &c.Redis.Prefix)
	loadEnvString("DEFINITIONS_PATH", &c.DefinitionsPath)
	loadEnvString("ARCHIVE_BUCKET_URL", &c.ArchiveBucketURL)
	loadEnvString("ARCHIVE_PREFIX", &c.ArchivePrefix)
	loadEnvString("PROMPT_INDEX_PATH", &c.PromptIndexPath)
	loadEnvString("RETRY_BACKOFF_TYPE", &c.Retry.BackoffType)
	loadEnvString("MODEL_NAME", &c.ModelName)
	loadEnvString("ANTHROPIC_API_KEY", &c.AnthropicAPIKey)
	if policy := os.Getenv("FAILURE_POLICY"); policy != "" {
		c.FailurePolicy = api.FailurePolicy(policy)
	}

	if spec := os.Getenv("RESOURCE_BUCKETS"); spec != "" {
		buckets, err := ParseBuckets(spec)
		if err != nil {
			return err
		}
		c.ResourceBuckets = buckets
	}

	if spec := os.Getenv("REMOTE_ENDPOINTS"); spec != "" {
		endpoints, err := ParseBuckets(spec)
		if err != nil {
			return err
		}
		c.RemoteEndpoints = endpoints
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt("REDIS_DB", &c.Redis.DB, -1, 15); err != nil {
		return err
	}
	if err := loadEnvInt(
		"MEMORY_TTL", &c.MemoryTTL, -1, MaxMemoryTTL,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"CALL_TIMEOUT", &c.CallTimeout, 0, MaxCallTimeout,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RUN_TIMEOUT", &c.RunTimeout, -1, MaxRunTimeout,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RUN_RETENTION", &c.RunRetention, 0, MaxRunRetention,
	); err != nil {
		return err
	}

	if err := loadEnvInt(
		"RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts, 0, MaxRetryMaxAttempts,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RETRY_INITIAL_BACKOFF", &c.Retry.BackoffMs, 0, MaxRetryInitBackoff,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RETRY_MAX_BACKOFF", &c.Retry.MaxBackoffMs, 0, MaxRetryMaxBackoff,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RETRY_JITTER", &c.RetryJitter, -1, MaxRetryJitter,
	); err != nil {
		return err
	}

	if err := loadEnvInt(
		"FEEDBACK_MAX_ATTEMPTS", &c.FeedbackMaxAttempts, 0,
		MaxFeedbackAttempts,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"FEEDBACK_WAIT", &c.FeedbackWait, -1, MaxFeedbackWait,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"FANOUT_PARALLELISM", &c.FanOutParallelism, -1, MaxFanOutParallelism,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"MODEL_MAX_TOKENS", &c.ModelMaxTokens, 0, MaxModelMaxTokens,
	); err != nil {
		return err
	}

	var shutdownSec int
	if err := loadEnvInt(
		"SHUTDOWN_TIMEOUT", &shutdownSec, 0, MaxShutdownTimeoutSec,
	); err != nil {
		return err
	}
	if shutdownSec > 0 {
		c.ShutdownTimeout = time.Duration(shutdownSec) * time.Second
	}

	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: %s", ErrInvalidLogLevel, c.LogLevel)
	}

	if c.CallTimeout <= 0 {
		return ErrInvalidCallTimeout
	}

	if c.RunTimeout < 0 {
		return ErrInvalidRunTimeout
	}

	if c.RunRetention <= 0 {
		return ErrInvalidRunRetention
	}

	if c.Retry.MaxAttempts <= 0 {
		return ErrInvalidRetryMaxAttempts
	}

	if c.Retry.BackoffMs <= 0 {
		return ErrInvalidRetryInitBackoff
	}

	if c.Retry.MaxBackoffMs <= 0 {
		return ErrInvalidRetryMaxBackoff
	}

	if c.Retry.MaxBackoffMs < c.Retry.BackoffMs {
		return ErrRetryMaxBackoffTooSmall
	}

	if c.Retry.BackoffType != api.BackoffTypeFixed &&
		c.Retry.BackoffType != api.BackoffTypeLinear &&
		c.Retry.BackoffType != api.BackoffTypeExponential {
		return fmt.Errorf("%w: %s",
			ErrInvalidRetryBackoffType, c.Retry.BackoffType)
	}

	if c.RetryJitter < 0 || c.RetryJitter > MaxRetryJitter {
		return ErrInvalidRetryJitter
	}

	if c.FeedbackMaxAttempts <= 0 {
		return ErrInvalidFeedbackAttempts
	}

	if c.FeedbackWait < 0 {
		return ErrInvalidFeedbackWait
	}

	if c.FailurePolicy == "" || !c.FailurePolicy.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidFailurePolicy, c.FailurePolicy)
	}

	if c.FanOutParallelism < 0 {
		return ErrInvalidParallelism
	}

	return nil
}

// CallTimeoutDuration returns the default per-call timeout
func (c *Config) CallTimeoutDuration() time.Duration {
	return time.Duration(c.CallTimeout) * time.Millisecond
}

// RunRetentionDuration returns how long a finished run stays queryable
func (c *Config) RunRetentionDuration() time.Duration {
	return time.Duration(c.RunRetention) * time.Millisecond
}

// RunTimeoutDuration returns the default whole-run timeout, zero for none
func (c *Config) RunTimeoutDuration() time.Duration {
	return time.Duration(c.RunTimeout) * time.Millisecond
}

// ParseBuckets parses a comma separated list of name=url bucket bindings
func ParseBuckets(spec string) (map[string]string, error) {
	res := map[string]string{}
	for part := range strings.SplitSeq(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, url, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		url = strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidBucketSpec, part)
		}
		res[name] = url
	}
	return res, nil
}

func loadEnvString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range.
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}
