package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joon-park/storyforge/internal/episode"
	"github.com/joon-park/storyforge/internal/guard"
	"github.com/joon-park/storyforge/internal/retry"
	"github.com/joon-park/storyforge/internal/runner"
)

// Config holds all configuration for the engine
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Guards    GuardsConfig    `mapstructure:"guards"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider settings
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai, anthropic, gemini
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	JudgeModel  string        `mapstructure:"judge_model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Provider) == "" {
		return fmt.Errorf("llm.provider is required")
	}
	return nil
}

// GuardsConfig selects and tunes the validation chain
type GuardsConfig struct {
	Order           []string `mapstructure:"order"`
	Policy          string   `mapstructure:"policy"`  // collect-all or stop-on-fail
	StopOn          string   `mapstructure:"stop_on"` // target guard for stop-on-fail
	MinTTR          float64  `mapstructure:"min_ttr"`
	MaxTrigramDup   float64  `mapstructure:"max_trigram_dup"`
	MaxEmotionDelta float64  `mapstructure:"max_emotion_delta"`
	PacingAction    float64  `mapstructure:"pacing_action"`
	PacingDialogue  float64  `mapstructure:"pacing_dialogue"`
	PacingMonologue float64  `mapstructure:"pacing_monologue"`
	PacingDeviation float64  `mapstructure:"pacing_deviation"`
	BannedPatterns  []string `mapstructure:"banned_patterns"`
	ForeshadowSpan  int      `mapstructure:"foreshadow_span"`
	CritiqueFloor   float64  `mapstructure:"critique_floor"`
}

func (g GuardsConfig) Validate() error {
	switch g.Policy {
	case "", string(guard.PolicyCollectAll):
	case string(guard.PolicyStopOnFail):
		if strings.TrimSpace(g.StopOn) == "" {
			return fmt.Errorf("guards.stop_on required when policy is stop-on-fail")
		}
	default:
		return fmt.Errorf("guards.policy must be %q or %q", guard.PolicyCollectAll, guard.PolicyStopOnFail)
	}
	return nil
}

// Settings converts the section into guard thresholds, leaving zero
// values for the evaluators' own defaults.
func (g GuardsConfig) Settings() guard.Settings {
	s := guard.DefaultSettings()
	if g.MinTTR > 0 {
		s.Lexical.MinTTR = g.MinTTR
	}
	if g.MaxTrigramDup > 0 {
		s.Lexical.MaxTrigramDup = g.MaxTrigramDup
	}
	if g.MaxEmotionDelta > 0 {
		s.Emotion.MaxDelta = g.MaxEmotionDelta
	}
	if g.PacingAction > 0 || g.PacingDialogue > 0 || g.PacingMonologue > 0 {
		s.Pacing.Targets = map[episode.SceneKind]float64{
			episode.SceneAction:    g.PacingAction,
			episode.SceneDialogue:  g.PacingDialogue,
			episode.SceneMonologue: g.PacingMonologue,
		}
	}
	if g.PacingDeviation > 0 {
		s.Pacing.MaxDeviation = g.PacingDeviation
	}
	s.Rule.Patterns = g.BannedPatterns
	if g.ForeshadowSpan > 0 {
		s.Schedule.DefaultSpan = g.ForeshadowSpan
	}
	if g.CritiqueFloor > 0 {
		s.Critique.MinScore = g.CritiqueFloor
	}
	return s
}

// RetryConfig bounds the per-episode regeneration loop
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	Backoff         time.Duration `mapstructure:"backoff"`
	TemperatureStep float64       `mapstructure:"temperature_step"`
	MaxTemperature  float64       `mapstructure:"max_temperature"`
}

func (r RetryConfig) Validate() error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}
	return nil
}

// Controller converts the section into the retry loop's config.
func (r RetryConfig) Controller() retry.Config {
	return retry.Config{
		MaxRetries:      r.MaxRetries,
		Backoff:         r.Backoff,
		TemperatureStep: r.TemperatureStep,
		MaxTemperature:  r.MaxTemperature,
	}.Normalize()
}

// RunnerConfig tunes season runs
type RunnerConfig struct {
	Workers    int  `mapstructure:"workers"`
	StopOnFail bool `mapstructure:"stop_on_fail"`
}

// Season converts the section into the season runner's config.
func (r RunnerConfig) Season() runner.Config {
	return runner.Config{Workers: r.Workers, StopOnFail: r.StopOnFail}.Normalize()
}

// SchedulerConfig drives unattended season runs
type SchedulerConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Projects []ScheduledRun `mapstructure:"projects"`
	LockTTL  time.Duration  `mapstructure:"lock_ttl"`
}

// ScheduledRun is one project's recurring generation slot.
type ScheduledRun struct {
	ProjectID string `mapstructure:"project_id"`
	CronSpec  string `mapstructure:"cron_spec"`
	Episodes  int    `mapstructure:"episodes"` // episodes appended per tick
}

func (s SchedulerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	for _, p := range s.Projects {
		if strings.TrimSpace(p.ProjectID) == "" {
			return fmt.Errorf("scheduler.projects entries need project_id")
		}
		if strings.TrimSpace(p.CronSpec) == "" {
			return fmt.Errorf("scheduler project %s needs cron_spec", p.ProjectID)
		}
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN assembles the connection string when url is not given directly.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

func (r RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	viper.SetDefault("server.address", ":10001")
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("guards.policy", string(guard.PolicyCollectAll))
	viper.SetDefault("retry.max_retries", 2)
	viper.SetDefault("retry.backoff", "500ms")
	viper.SetDefault("retry.temperature_step", 0.1)
	viper.SetDefault("runner.workers", 1)
	viper.SetDefault("scheduler.lock_ttl", "10m")
	viper.SetDefault("storage.redis.ttl", "5m")
	viper.SetDefault("telemetry.enabled", true)

	if path == "" {
		viper.AddConfigPath("./app/config") // path to look for the config file in
		viper.AddConfigPath("./config")     // path to look for the config file in
		viper.AddConfigPath(".")            // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                                // bin/
		viper.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("STORYFORGE")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (STORYFORGE_*)

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	// unmarshal config
	var config Config

	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Guards.Validate(); err != nil {
		panic(err)
	}
	if err := config.Retry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Scheduler.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	return &config
}
