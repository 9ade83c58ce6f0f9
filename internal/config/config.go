// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. HARVESTER_INPUT_PATH.
const EnvPrefix = "HARVESTER"

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Input     InputConfig     `mapstructure:"input"`
	Output    OutputConfig    `mapstructure:"output"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	GCS       GCSConfig       `mapstructure:"gcs"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
}

// InputConfig locates the source workbook and its columns.
type InputConfig struct {
	Path           string `mapstructure:"path"`
	IndexColumn    string `mapstructure:"index_column"`
	DirectColumn   string `mapstructure:"direct_column"`
	FallbackColumn string `mapstructure:"fallback_column"`
	Limit          int    `mapstructure:"limit"`
}

// OutputConfig sets where reports and the metadata workbook land.
type OutputConfig struct {
	DownloadDir string `mapstructure:"download_dir"`
	MetadataDir string `mapstructure:"metadata_dir"`
}

// SchedulerConfig picks sequential or pooled execution.
type SchedulerConfig struct {
	Mode    string `mapstructure:"mode"`
	Workers int    `mapstructure:"workers"`
}

// HTTPConfig configures the direct download stage.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	ChunkSize int           `mapstructure:"chunk_size"`
	// PerHostRPS throttles direct downloads per host; 0 disables throttling.
	PerHostRPS   float64 `mapstructure:"per_host_rps"`
	PerHostBurst int     `mapstructure:"per_host_burst"`
}

// HeadlessConfig configures the HTML-to-PDF fallback.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxParallel int           `mapstructure:"max_parallel"`
	ExecPath    string        `mapstructure:"exec_path"`
	NoSandbox   bool          `mapstructure:"no_sandbox"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig names an optional Prometheus textfile written after the run.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// GCSConfig enables mirroring of outputs to a bucket when Bucket is set.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig enables per-record notifications when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// PostgresConfig enables the outcome ledger when DSN is set.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// Flags registers the command-line overrides understood by Load.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML/TOML/JSON config file")
	fs.String("input", "", "source workbook (input.path)")
	fs.IntP("limit", "n", 0, "process only the first N records (0 = all)")
	fs.BoolP("sequential", "s", false, "process records one at a time")
	fs.Int("workers", 0, "worker pool size (0 = number of CPUs)")
	fs.String("download-dir", "", "directory for report PDFs")
	fs.String("metadata-dir", "", "directory for the metadata workbook")
}

// Load builds a Config from defaults, an optional file, the environment, and
// any flags set on fs. Later sources win.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return Config{}, err
		}
		if path, _ := fs.GetString("config"); path != "" {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if fs != nil {
		if seq, _ := fs.GetBool("sequential"); seq && fs.Changed("sequential") {
			cfg.Scheduler.Mode = "sequential"
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	bindings := map[string]string{
		"input.path":          "input",
		"input.limit":         "limit",
		"scheduler.workers":   "workers",
		"output.download_dir": "download-dir",
		"output.metadata_dir": "metadata-dir",
	}
	for key, name := range bindings {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.path", "")
	v.SetDefault("input.index_column", "BRnum")
	v.SetDefault("input.direct_column", "Pdf_URL")
	v.SetDefault("input.fallback_column", "Report Html Address")
	v.SetDefault("input.limit", 0)
	v.SetDefault("output.download_dir", "downloads")
	v.SetDefault("output.metadata_dir", "metadata")
	v.SetDefault("scheduler.mode", "pool")
	v.SetDefault("scheduler.workers", runtime.NumCPU())
	v.SetDefault("http.timeout", 10*time.Second)
	v.SetDefault("http.user_agent", "report-harvester/0.1")
	v.SetDefault("http.chunk_size", 8192)
	v.SetDefault("http.per_host_rps", 0.0)
	v.SetDefault("http.per_host_burst", 1)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.timeout", 60*time.Second)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.no_sandbox", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.prefix", "reports")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "report_downloads")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Input.Path == "" {
		return fmt.Errorf("input.path must be set")
	}
	if c.Input.IndexColumn == "" || c.Input.DirectColumn == "" {
		return fmt.Errorf("input.index_column and input.direct_column must be set")
	}
	if c.Input.Limit < 0 {
		return fmt.Errorf("input.limit must be >= 0")
	}
	if c.Output.DownloadDir == "" {
		return fmt.Errorf("output.download_dir must be set")
	}
	if c.Output.MetadataDir == "" {
		return fmt.Errorf("output.metadata_dir must be set")
	}
	switch c.Scheduler.Mode {
	case "sequential", "pool":
	default:
		return fmt.Errorf("scheduler.mode must be sequential or pool, got %q", c.Scheduler.Mode)
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.ChunkSize <= 0 {
		return fmt.Errorf("http.chunk_size must be > 0")
	}
	if c.HTTP.PerHostRPS < 0 {
		return fmt.Errorf("http.per_host_rps must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Headless.Enabled && c.Headless.Timeout <= 0 {
		return fmt.Errorf("headless.timeout must be > 0 when headless is enabled")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	if c.Postgres.DSN != "" && c.Postgres.Table == "" {
		return fmt.Errorf("postgres.table must be set when postgres.dsn is set")
	}
	return nil
}
