package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Ensemble  EnsembleConfig  `yaml:"ensemble" mapstructure:"ensemble"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Symbols   SymbolConfig    `yaml:"symbols" mapstructure:"symbols"`
	Validate  ValidateConfig  `yaml:"validate" mapstructure:"validate"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the formula repository backend.
type StoreConfig struct {
	Path            string `yaml:"path" mapstructure:"path"`
	CacheTTLMinutes int    `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
}

// CacheTTL returns the read-cache lifetime as a duration.
func (s StoreConfig) CacheTTL() time.Duration {
	if s.CacheTTLMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(s.CacheTTLMinutes) * time.Minute
}

// PipelineConfig configures the extraction driver and region consolidation.
type PipelineConfig struct {
	Workers       int     `yaml:"workers" mapstructure:"workers"`
	MergeIoU      float64 `yaml:"merge_iou" mapstructure:"merge_iou"`
	MergeGapPx    float64 `yaml:"merge_gap_px" mapstructure:"merge_gap_px"`
	MinConfidence float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
}

// EnsembleConfig configures per-method selection weights. Precedence breaks
// weighted-score ties, earlier entries winning.
type EnsembleConfig struct {
	Weights    map[string]float64 `yaml:"weights" mapstructure:"weights"`
	Precedence []string           `yaml:"precedence" mapstructure:"precedence"`
}

// NormalizeConfig configures expression repair behavior.
type NormalizeConfig struct {
	RepairPenalty float64 `yaml:"repair_penalty" mapstructure:"repair_penalty"`
}

// SymbolConfig configures the layered symbol table.
type SymbolConfig struct {
	// OverridePath points to an optional YAML file whose entries extend the
	// built-in actuarial table. Built-in entries are never replaced.
	OverridePath string `yaml:"override_path" mapstructure:"override_path"`
}

// ValidateConfig configures test generation, evaluation budgets and the
// confidence contributions applied after validation.
type ValidateConfig struct {
	EvalTimeoutMS int `yaml:"eval_timeout_ms" mapstructure:"eval_timeout_ms"`
	StepBudget    int `yaml:"step_budget" mapstructure:"step_budget"`

	// Independent confidence contributions, combined additively and clamped
	// to [0,1]. Tunable: the point values carry no derivation.
	StructureBonus float64 `yaml:"structure_bonus" mapstructure:"structure_bonus"`
	ExecBonus      float64 `yaml:"exec_bonus" mapstructure:"exec_bonus"`
	VariableBonus  float64 `yaml:"variable_bonus" mapstructure:"variable_bonus"`
}

// EvalTimeout returns the per-call evaluation budget as a duration.
func (v ValidateConfig) EvalTimeout() time.Duration {
	if v.EvalTimeoutMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(v.EvalTimeoutMS) * time.Millisecond
}

// ServerConfig configures the repository HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FORMULA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.path", "formulas.db")
	v.SetDefault("store.cache_ttl_minutes", 10)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.merge_iou", 0.3)
	v.SetDefault("pipeline.merge_gap_px", 10.0)
	v.SetDefault("pipeline.min_confidence", 0.5)
	v.SetDefault("ensemble.weights", map[string]float64{
		"mlrecognizer": 0.6,
		"ocr":          0.4,
		"korean":       0.5,
		"manual":       1.0,
	})
	v.SetDefault("ensemble.precedence", []string{"manual", "mlrecognizer", "korean", "ocr"})
	v.SetDefault("normalize.repair_penalty", 0.1)
	v.SetDefault("validate.eval_timeout_ms", 2000)
	v.SetDefault("validate.step_budget", 2000000)
	v.SetDefault("validate.structure_bonus", 0.1)
	v.SetDefault("validate.exec_bonus", 0.1)
	v.SetDefault("validate.variable_bonus", 0.05)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
