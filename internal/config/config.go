// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Auth() AuthConfig
	Targets() TargetsConfig
	Resolver() ResolverConfig
	Classifier() ClassifierConfig
	Workflow() WorkflowConfig
	Pipeline() PipelineConfig
	Output() OutputConfig
	Metrics() MetricsConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	AuthCfg       AuthConfig       `mapstructure:"auth" yaml:"auth"`
	TargetsCfg    TargetsConfig    `mapstructure:"targets" yaml:"targets"`
	ResolverCfg   ResolverConfig   `mapstructure:"resolver" yaml:"resolver"`
	ClassifierCfg ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	WorkflowCfg   WorkflowConfig   `mapstructure:"workflow" yaml:"workflow"`
	PipelineCfg   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline"`
	OutputCfg     OutputConfig     `mapstructure:"output" yaml:"output"`
	MetricsCfg    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Auth() AuthConfig             { return c.AuthCfg }
func (c *Config) Targets() TargetsConfig       { return c.TargetsCfg }
func (c *Config) Resolver() ResolverConfig     { return c.ResolverCfg }
func (c *Config) Classifier() ClassifierConfig { return c.ClassifierCfg }
func (c *Config) Workflow() WorkflowConfig     { return c.WorkflowCfg }
func (c *Config) Pipeline() PipelineConfig     { return c.PipelineCfg }
func (c *Config) Output() OutputConfig         { return c.OutputCfg }
func (c *Config) Metrics() MetricsConfig       { return c.MetricsCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL disables the SQL sink.
type DatabaseConfig struct {
	URL   string `mapstructure:"url" yaml:"url"`
	Table string `mapstructure:"table" yaml:"table"`
}

// Browser modes.
const (
	BrowserModeChromedp = "chromedp"
	BrowserModeHTTP     = "http"
)

// BrowserConfig holds settings for the browser instance. Mode "http" drives the
// site with a script-free page over plain HTTP instead of launching Chrome.
type BrowserConfig struct {
	Mode           string        `mapstructure:"mode" yaml:"mode"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	Headless       bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath       string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	Locale         string        `mapstructure:"locale" yaml:"locale"`
	Debug          bool          `mapstructure:"debug" yaml:"debug"`
	NetworkIdle    time.Duration `mapstructure:"network_idle" yaml:"network_idle"`
	ViewportWidth  int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height" yaml:"viewport_height"`
}

// AuthConfig configures the login step.
type AuthConfig struct {
	Username            string        `mapstructure:"username" yaml:"username"`
	Password            string        `mapstructure:"password" yaml:"-"`
	LoginURL            string        `mapstructure:"login_url" yaml:"login_url"`
	SuccessMarkers      []string      `mapstructure:"success_markers" yaml:"success_markers"`
	FieldTimeout        time.Duration `mapstructure:"field_timeout" yaml:"field_timeout"`
	SettleTimeout       time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	ContinueOnUncertain bool          `mapstructure:"continue_on_uncertain" yaml:"continue_on_uncertain"`
}

// TargetsConfig lists the listing pages that feed discovery.
type TargetsConfig struct {
	BaseURL      string   `mapstructure:"base_url" yaml:"base_url"`
	PlanURL      string   `mapstructure:"plan_url" yaml:"plan_url"`
	PracticeURLs []string `mapstructure:"practice_urls" yaml:"practice_urls"`
}

// ResolverConfig tunes strategy resolution.
type ResolverConfig struct {
	StrategyTimeout time.Duration `mapstructure:"strategy_timeout" yaml:"strategy_timeout"`
	CatalogFile     string        `mapstructure:"catalog_file" yaml:"catalog_file"`
}

// ClassifierConfig overrides the marker vocabulary.
type ClassifierConfig struct {
	ColorKeywords []string `mapstructure:"color_keywords" yaml:"color_keywords"`
	ClassKeywords []string `mapstructure:"class_keywords" yaml:"class_keywords"`
}

// WorkflowConfig holds the per-phase budgets of the item workflow.
type WorkflowConfig struct {
	NavigationRetries int           `mapstructure:"navigation_retries" yaml:"navigation_retries"`
	NavigationBackoff time.Duration `mapstructure:"navigation_backoff" yaml:"navigation_backoff"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ReadyTimeout      time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	SettleTimeout     time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	StudyDwell        time.Duration `mapstructure:"study_dwell" yaml:"study_dwell"`
	DwellPoll         time.Duration `mapstructure:"dwell_poll" yaml:"dwell_poll"`
	DifficultyValue   string        `mapstructure:"difficulty_value" yaml:"difficulty_value"`
	UsefulnessValue   string        `mapstructure:"usefulness_value" yaml:"usefulness_value"`
	DebugDumps        bool          `mapstructure:"debug_dumps" yaml:"debug_dumps"`
}

// PipelineConfig controls sequencing, pacing and checkpointing of a run.
type PipelineConfig struct {
	PacingMin               time.Duration `mapstructure:"pacing_min" yaml:"pacing_min"`
	PacingMax               time.Duration `mapstructure:"pacing_max" yaml:"pacing_max"`
	FlushEvery              int           `mapstructure:"flush_every" yaml:"flush_every"`
	Resume                  bool          `mapstructure:"resume" yaml:"resume"`
	EmitSkipped             bool          `mapstructure:"emit_skipped" yaml:"emit_skipped"`
	MaxNavigationsPerMinute float64       `mapstructure:"max_navigations_per_minute" yaml:"max_navigations_per_minute"`
}

// OutputConfig holds the file sink locations.
type OutputConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`
	CSVFile  string `mapstructure:"csv_file" yaml:"csv_file"`
	JSONFile string `mapstructure:"json_file" yaml:"json_file"`
	// TextFile, when set, receives one line per result ("stdout" prints them).
	TextFile string `mapstructure:"text_file" yaml:"text_file"`
	DebugDir string `mapstructure:"debug_dir" yaml:"debug_dir"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables serving.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "studypilot")
	v.SetDefault("logger.log_file", "output/studypilot.log")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.debug", "cyan")

	// -- Database --
	v.SetDefault("database.table", "task_results")

	// -- Browser --
	v.SetDefault("browser.mode", BrowserModeChromedp)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.locale", "zh-CN")
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.network_idle", "500ms")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 900)

	// -- Auth --
	v.SetDefault("auth.login_url", "http://www.linuxstudio.cn/user/index.php")
	v.SetDefault("auth.success_markers", []string{"登录成功", "用户中心", "my_info"})
	v.SetDefault("auth.field_timeout", "15s")
	v.SetDefault("auth.settle_timeout", "20s")
	v.SetDefault("auth.continue_on_uncertain", true)

	// -- Targets --
	v.SetDefault("targets.base_url", "http://www.linuxstudio.cn/")
	v.SetDefault("targets.plan_url", "http://www.linuxstudio.cn/user/my_plan.php")
	v.SetDefault("targets.practice_urls", []string{
		"http://www.linuxstudio.cn/practice.php?chapter=Linux常用命令",
		"http://www.linuxstudio.cn/practice.php?chapter=Shell脚本编程基础",
		"http://www.linuxstudio.cn/practice.php?chapter=VI编辑器",
	})

	// -- Resolver --
	v.SetDefault("resolver.strategy_timeout", "3s")

	// -- Workflow --
	v.SetDefault("workflow.navigation_retries", 3)
	v.SetDefault("workflow.navigation_backoff", "3s")
	v.SetDefault("workflow.navigation_timeout", "30s")
	v.SetDefault("workflow.ready_timeout", "20s")
	v.SetDefault("workflow.settle_timeout", "15s")
	v.SetDefault("workflow.study_dwell", "65s")
	v.SetDefault("workflow.dwell_poll", "5s")
	v.SetDefault("workflow.difficulty_value", "1")
	v.SetDefault("workflow.usefulness_value", "2")
	v.SetDefault("workflow.debug_dumps", true)

	// -- Pipeline --
	v.SetDefault("pipeline.pacing_min", "1s")
	v.SetDefault("pipeline.pacing_max", "3s")
	v.SetDefault("pipeline.flush_every", 5)
	v.SetDefault("pipeline.resume", false)
	v.SetDefault("pipeline.emit_skipped", false)
	v.SetDefault("pipeline.max_navigations_per_minute", 30.0)

	// -- Output --
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.csv_file", "output/completed_courses.csv")
	v.SetDefault("output.json_file", "output/completed_courses.json")
	v.SetDefault("output.text_file", "")
	v.SetDefault("output.debug_dir", "output")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Credentials are commonly supplied through the environment.
	_ = v.BindEnv("auth.username", "STUDYPILOT_USER_NAME", "USER_NAME")
	_ = v.BindEnv("auth.password", "STUDYPILOT_PASSWORD", "PASSWORD")
	_ = v.BindEnv("database.url", "STUDYPILOT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("error expanding paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every filesystem path.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.LoggerCfg.LogFile,
		&c.ResolverCfg.CatalogFile,
		&c.OutputCfg.Dir,
		&c.OutputCfg.CSVFile,
		&c.OutputCfg.JSONFile,
		&c.OutputCfg.TextFile,
		&c.OutputCfg.DebugDir,
		&c.BrowserCfg.ExecPath,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
// Missing credentials are a startup error, never a runtime one.
func (c *Config) Validate() error {
	if c.AuthCfg.Username == "" {
		return fmt.Errorf("USER_NAME (auth.username) is a required configuration field")
	}
	if c.AuthCfg.Password == "" {
		return fmt.Errorf("PASSWORD (auth.password) is a required configuration field")
	}
	if err := c.TargetsCfg.Validate(); err != nil {
		return fmt.Errorf("targets configuration invalid: %w", err)
	}
	switch c.BrowserCfg.Mode {
	case BrowserModeChromedp, BrowserModeHTTP:
	default:
		return fmt.Errorf("browser.mode must be %q or %q, got %q", BrowserModeChromedp, BrowserModeHTTP, c.BrowserCfg.Mode)
	}
	if c.ResolverCfg.StrategyTimeout <= 0 {
		return fmt.Errorf("resolver.strategy_timeout must be a positive duration")
	}
	if err := c.WorkflowCfg.Validate(); err != nil {
		return fmt.Errorf("workflow configuration invalid: %w", err)
	}
	if err := c.PipelineCfg.Validate(); err != nil {
		return fmt.Errorf("pipeline configuration invalid: %w", err)
	}
	return nil
}

// Validate checks that the base origin is absolute.
func (t *TargetsConfig) Validate() error {
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url is not a valid URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("base_url must be absolute, got %q", t.BaseURL)
	}
	if t.PlanURL == "" && len(t.PracticeURLs) == 0 {
		return fmt.Errorf("at least one of plan_url or practice_urls is required")
	}
	return nil
}

// Validate checks the WorkflowConfig budgets.
func (w *WorkflowConfig) Validate() error {
	if w.NavigationRetries < 1 {
		return fmt.Errorf("navigation_retries must be at least 1")
	}
	if w.NavigationBackoff < 0 {
		return fmt.Errorf("navigation_backoff must not be negative")
	}
	if w.ReadyTimeout <= 0 || w.SettleTimeout <= 0 || w.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout, ready_timeout and settle_timeout must be positive durations")
	}
	if w.StudyDwell < 0 {
		return fmt.Errorf("study_dwell must not be negative")
	}
	return nil
}

// Validate checks the PipelineConfig settings.
func (p *PipelineConfig) Validate() error {
	if p.PacingMin < 0 || p.PacingMax < p.PacingMin {
		return fmt.Errorf("pacing range must satisfy 0 <= pacing_min <= pacing_max")
	}
	if p.FlushEvery <= 0 {
		return fmt.Errorf("flush_every must be a positive integer")
	}
	if p.MaxNavigationsPerMinute < 0 {
		return fmt.Errorf("max_navigations_per_minute must not be negative")
	}
	return nil
}
