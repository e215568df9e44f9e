// Package config loads vnc-use settings from defaults, an optional YAML file,
// .env files and VNCUSE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/PipeOpsHQ/vnc-use-go/planner"
)

const EnvPrefix = "VNCUSE"

type Config struct {
	Planner     PlannerConfig     `mapstructure:"planner" yaml:"planner"`
	Agent       AgentConfig       `mapstructure:"agent" yaml:"agent"`
	Desktop     DesktopConfig     `mapstructure:"desktop" yaml:"desktop"`
	Recorder    RecorderConfig    `mapstructure:"recorder" yaml:"recorder"`
	State       StateConfig       `mapstructure:"state" yaml:"state"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Tracing     TracingConfig     `mapstructure:"tracing" yaml:"tracing"`
}

type PlannerConfig struct {
	Provider        string `mapstructure:"provider" yaml:"provider"`
	APIKey          string `mapstructure:"api_key" yaml:"api_key"`
	Model           string `mapstructure:"model" yaml:"model"`
	BaseURL         string `mapstructure:"base_url" yaml:"base_url"`
	AzureEndpoint   string `mapstructure:"azure_endpoint" yaml:"azure_endpoint"`
	AzureDeployment string `mapstructure:"azure_deployment" yaml:"azure_deployment"`
	AzureAPIVersion string `mapstructure:"azure_api_version" yaml:"azure_api_version"`
	IncludeThoughts bool   `mapstructure:"include_thoughts" yaml:"include_thoughts"`
	// PromptDir holds prompt files that override the built-in prompts.
	PromptDir       string `mapstructure:"prompt_dir" yaml:"prompt_dir"`
}

type AgentConfig struct {
	StepLimit       int           `mapstructure:"step_limit" yaml:"step_limit"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	HITL            bool          `mapstructure:"hitl" yaml:"hitl"`
	ExcludedActions []string      `mapstructure:"excluded_actions" yaml:"excluded_actions"`
	Guards          bool          `mapstructure:"guards" yaml:"guards"`
	CaptureAttempts int           `mapstructure:"capture_attempts" yaml:"capture_attempts"`
	WaitDuration    time.Duration `mapstructure:"wait_duration" yaml:"wait_duration"`
}

type DesktopConfig struct {
	// Backend is "vnc" or "browser".
	Backend     string        `mapstructure:"backend" yaml:"backend"`
	Server      string        `mapstructure:"server" yaml:"server"`
	Password    string        `mapstructure:"password" yaml:"password"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	Browser     BrowserConfig `mapstructure:"browser" yaml:"browser"`
}

type BrowserConfig struct {
	StartURL string `mapstructure:"start_url" yaml:"start_url"`
	Headless bool   `mapstructure:"headless" yaml:"headless"`
	Width    int    `mapstructure:"width" yaml:"width"`
	Height   int    `mapstructure:"height" yaml:"height"`
	ExecPath string `mapstructure:"exec_path" yaml:"exec_path"`
}

type RecorderConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	RunsDir string `mapstructure:"runs_dir" yaml:"runs_dir"`
}

type StateConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"`
	SQLitePath    string        `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl" yaml:"redis_ttl"`
	RedisPrefix   string        `mapstructure:"redis_prefix" yaml:"redis_prefix"`
}

type CredentialsConfig struct {
	File         string `mapstructure:"file" yaml:"file"`
	IdentityFile string `mapstructure:"identity_file" yaml:"identity_file"`
	Passphrase   string `mapstructure:"passphrase" yaml:"passphrase"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxConcurrent   int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
}

type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// SetDefaults registers every key, which also lets AutomaticEnv see them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("planner.provider", string(planner.ProviderGemini))
	v.SetDefault("planner.api_key", "")
	v.SetDefault("planner.model", "")
	v.SetDefault("planner.base_url", "")
	v.SetDefault("planner.azure_endpoint", "")
	v.SetDefault("planner.azure_deployment", "")
	v.SetDefault("planner.azure_api_version", "")
	v.SetDefault("planner.include_thoughts", false)
	v.SetDefault("planner.prompt_dir", "~/.vnc-use/prompts")

	v.SetDefault("agent.step_limit", 40)
	v.SetDefault("agent.timeout", 300*time.Second)
	v.SetDefault("agent.hitl", true)
	v.SetDefault("agent.excluded_actions", append([]string(nil), planner.DefaultExcludedActions...))
	v.SetDefault("agent.guards", true)
	v.SetDefault("agent.capture_attempts", 1)
	v.SetDefault("agent.wait_duration", 5*time.Second)

	v.SetDefault("desktop.backend", "vnc")
	v.SetDefault("desktop.server", "")
	v.SetDefault("desktop.password", "")
	v.SetDefault("desktop.dial_timeout", 10*time.Second)
	v.SetDefault("desktop.browser.start_url", "about:blank")
	v.SetDefault("desktop.browser.headless", true)
	v.SetDefault("desktop.browser.width", 1440)
	v.SetDefault("desktop.browser.height", 900)
	v.SetDefault("desktop.browser.exec_path", "")

	v.SetDefault("recorder.enabled", true)
	v.SetDefault("recorder.runs_dir", "runs")

	v.SetDefault("state.backend", "sqlite")
	v.SetDefault("state.sqlite_path", ".vnc-use/state.db")
	v.SetDefault("state.redis_addr", "127.0.0.1:6379")
	v.SetDefault("state.redis_password", "")
	v.SetDefault("state.redis_db", 0)
	v.SetDefault("state.redis_ttl", 72*time.Hour)
	v.SetDefault("state.redis_prefix", "vnc-use")

	v.SetDefault("credentials.file", "~/.vnc-use/credentials.age")
	v.SetDefault("credentials.identity_file", "~/.vnc-use/identity.txt")
	v.SetDefault("credentials.passphrase", "")

	v.SetDefault("server.addr", "127.0.0.1:8088")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_concurrent", 1)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "vnc-use")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "vnc-use")
}

// Sources names where Load reads from. An empty ConfigFile searches for
// vnc-use.yaml in the working directory and ~/.vnc-use.
type Sources struct {
	ConfigFile string
	EnvFiles   []string
}

func Load(src Sources) (*Config, error) {
	envFiles := src.EnvFiles
	if envFiles == nil {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	SetDefaults(v)
	if src.ConfigFile != "" {
		path, err := homedir.Expand(src.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("vnc-use")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home + "/.vnc-use")
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("desktop.server", EnvPrefix+"_DESKTOP_SERVER", "VNC_SERVER")
	_ = v.BindEnv("desktop.password", EnvPrefix+"_DESKTOP_PASSWORD", "VNC_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return FromViper(v)
}

func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.Planner.PromptDir,
		&c.Recorder.RunsDir,
		&c.State.SQLitePath,
		&c.Credentials.File,
		&c.Credentials.IdentityFile,
		&c.Logger.LogFile,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

func (c *Config) Validate() error {
	if _, err := planner.ParseProvider(c.Planner.Provider); err != nil {
		return fmt.Errorf("planner.provider: %w", err)
	}
	if c.Agent.StepLimit <= 0 {
		return fmt.Errorf("agent.step_limit must be a positive integer")
	}
	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("agent.timeout must be positive")
	}
	if c.Agent.CaptureAttempts <= 0 {
		return fmt.Errorf("agent.capture_attempts must be a positive integer")
	}
	switch c.Desktop.Backend {
	case "vnc", "browser":
	default:
		return fmt.Errorf("desktop.backend must be vnc or browser, got %q", c.Desktop.Backend)
	}
	if c.Server.MaxConcurrent <= 0 {
		return fmt.Errorf("server.max_concurrent must be a positive integer")
	}
	return nil
}
