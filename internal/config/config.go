package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/talentsol/screening/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Model  ModelConfig  `yaml:"model" mapstructure:"model"`
	Batch  BatchConfig  `yaml:"batch" mapstructure:"batch"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Redis  RedisConfig  `yaml:"redis" mapstructure:"redis"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// ModelConfig configures the classifier artifact and the subprocess bridge.
type ModelConfig struct {
	Type              string  `yaml:"type" mapstructure:"type"`
	ArtifactPath      string  `yaml:"artifact_path" mapstructure:"artifact_path"`
	PythonBin         string  `yaml:"python_bin" mapstructure:"python_bin"`
	WrapperPath       string  `yaml:"wrapper_path" mapstructure:"wrapper_path"`
	PinnedLibVersion  string  `yaml:"pinned_lib_version" mapstructure:"pinned_lib_version"`
	ThresholdOverride float64 `yaml:"threshold_override" mapstructure:"threshold_override"`
	TimeoutMs         int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	InvokesPerSecond  float64 `yaml:"invokes_per_second" mapstructure:"invokes_per_second"`
	InvokeBurst       int     `yaml:"invoke_burst" mapstructure:"invoke_burst"`
}

// ModelType returns the configured model type as a domain value.
func (m ModelConfig) ModelType() model.ModelType {
	return model.ModelType(m.Type)
}

// Timeout returns the per-invocation bridge timeout.
func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

// BatchConfig configures batch scoring runs.
type BatchConfig struct {
	MaxItems           int `yaml:"max_items" mapstructure:"max_items"`
	MappingConcurrency int `yaml:"mapping_concurrency" mapstructure:"mapping_concurrency"`
	DefaultSweepLimit  int `yaml:"default_sweep_limit" mapstructure:"default_sweep_limit"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// RedisConfig configures the optional cache-aside layer. An empty Addr
// disables caching entirely.
type RedisConfig struct {
	Addr         string `yaml:"addr" mapstructure:"addr"`
	DB           int    `yaml:"db" mapstructure:"db"`
	MetricsTTLMs int    `yaml:"metrics_ttl_ms" mapstructure:"metrics_ttl_ms"`
}

// MetricsTTL returns the TTL for cached metrics aggregates.
func (r RedisConfig) MetricsTTL() time.Duration {
	return time.Duration(r.MetricsTTLMs) * time.Millisecond
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCREENING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key gets one so AutomaticEnv can bind it.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("model.type", string(model.ModelTypeDecisionTree))
	v.SetDefault("model.artifact_path", "")
	v.SetDefault("model.pinned_lib_version", "")
	v.SetDefault("model.threshold_override", 0.0)
	v.SetDefault("model.python_bin", "python3")
	v.SetDefault("model.wrapper_path", "ml-models/integration/predict_wrapper.py")
	v.SetDefault("model.timeout_ms", 2000)
	v.SetDefault("model.invokes_per_second", 50)
	v.SetDefault("model.invoke_burst", 10)
	v.SetDefault("batch.max_items", 100)
	v.SetDefault("batch.mapping_concurrency", 8)
	v.SetDefault("batch.default_sweep_limit", 50)
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:8080", "http://localhost:8081"})
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.metrics_ttl_ms", 60000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required to run the scoring pipeline.
func (c *Config) Validate() error {
	if !c.Model.ModelType().Valid() {
		return eris.Errorf("config: unknown model type %q", c.Model.Type)
	}
	if c.Model.ArtifactPath == "" {
		return eris.New("config: model.artifact_path is required")
	}
	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
