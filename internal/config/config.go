package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vigilsec/riskengine/internal/risk"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineSettings  `yaml:"engine"`
	Queue     QueueConfig     `yaml:"queue"`
	Store     StoreConfig     `yaml:"store"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Events    EventsConfig    `yaml:"events"`
	Stream    StreamConfig    `yaml:"stream"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

// EngineSettings is the YAML shape of the detector thresholds. Durations are
// unit-suffixed integers; zero values fall back to the engine defaults.
type EngineSettings struct {
	HighRiskThreshold               float64 `yaml:"high_risk_threshold"`
	MediumRiskThreshold             float64 `yaml:"medium_risk_threshold"`
	SequenceWindow                  int     `yaml:"sequence_window"`
	BehaviorWindowHours             int     `yaml:"behavior_window_hours"`
	TimingSigmaThreshold            float64 `yaml:"timing_sigma_threshold"`
	PrivilegeDriftThreshold         int     `yaml:"privilege_drift_threshold"`
	MultiActorWindowMinutes         int     `yaml:"multi_actor_window_minutes"`
	PivotDepthThreshold             int     `yaml:"pivot_depth_threshold"`
	AttackPredictionContamination   float64 `yaml:"attack_prediction_contamination"`
	AttackPredictionScoreMultiplier float64 `yaml:"attack_prediction_score_multiplier"`
}

// EngineConfig merges the file settings onto the engine defaults.
func (s EngineSettings) EngineConfig() risk.EngineConfig {
	cfg := risk.DefaultEngineConfig()
	if s.HighRiskThreshold != 0 {
		cfg.HighRiskThreshold = s.HighRiskThreshold
	}
	if s.MediumRiskThreshold != 0 {
		cfg.MediumRiskThreshold = s.MediumRiskThreshold
	}
	if s.SequenceWindow != 0 {
		cfg.SequenceWindow = s.SequenceWindow
	}
	if s.BehaviorWindowHours != 0 {
		cfg.BehaviorWindow = time.Duration(s.BehaviorWindowHours) * time.Hour
	}
	if s.TimingSigmaThreshold != 0 {
		cfg.TimingSigmaThreshold = s.TimingSigmaThreshold
	}
	if s.PrivilegeDriftThreshold != 0 {
		cfg.PrivilegeDriftThreshold = s.PrivilegeDriftThreshold
	}
	if s.MultiActorWindowMinutes != 0 {
		cfg.MultiActorWindow = time.Duration(s.MultiActorWindowMinutes) * time.Minute
	}
	if s.PivotDepthThreshold != 0 {
		cfg.PivotDepthThreshold = s.PivotDepthThreshold
	}
	if s.AttackPredictionContamination != 0 {
		cfg.AttackPredictionContamination = s.AttackPredictionContamination
	}
	if s.AttackPredictionScoreMultiplier != 0 {
		cfg.AttackPredictionScoreMultiplier = s.AttackPredictionScoreMultiplier
	}
	return cfg
}

type QueueConfig struct {
	BrokerURL        string `yaml:"broker_url"`
	ResultBackendURL string `yaml:"result_backend_url"`
	WorkerCount      int    `yaml:"worker_count"`
}

type StoreConfig struct {
	Backend  string `yaml:"backend"`
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type WebhooksConfig struct {
	Workers            int    `yaml:"workers"`
	SigningSecret      string `yaml:"signing_secret"`
	DefaultURL         string `yaml:"default_url"`
	CloudTasksProject  string `yaml:"cloud_tasks_project"`
	CloudTasksLocation string `yaml:"cloud_tasks_location"`
	CloudTasksQueue    string `yaml:"cloud_tasks_queue"`
}

type EventsConfig struct {
	PubSubProject string `yaml:"pubsub_project"`
	PubSubTopic   string `yaml:"pubsub_topic"`
}

type StreamConfig struct {
	// EnableLiveStream is a pointer so an absent key keeps the default (on)
	// while an explicit false disables the websocket feed.
	EnableLiveStream *bool  `yaml:"enable_live_stream"`
	RedisChannel     string `yaml:"redis_channel"`
}

// LiveStreamEnabled resolves the tri-state flag.
func (s StreamConfig) LiveStreamEnabled() bool {
	return s.EnableLiveStream == nil || *s.EnableLiveStream
}

type AuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	APIKeys []APIKeyEntry `yaml:"api_keys"`
}

type APIKeyEntry struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	SecretHash string `yaml:"secret_hash"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// DefaultConfig returns the configuration the service runs with when no file
// and no environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Queue: QueueConfig{
			BrokerURL:   "redis://redis:6379/0",
			WorkerCount: 4,
		},
		Store: StoreConfig{
			Backend:  "memory",
			Database: "suspicious_activity",
		},
		Webhooks: WebhooksConfig{Workers: 2},
		Events:   EventsConfig{PubSubTopic: "vigil-assessments"},
		Stream: StreamConfig{
			RedisChannel: "vigil:events:assessments",
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 120, Burst: 20},
	}
}

// LoadConfig reads one YAML file into a Config.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Load resolves the effective configuration: defaults, then the YAML file
// named by CONFIG_PATH (if any), then environment overrides. The result
// backend falls back to the broker when left unset.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		fileCfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg.merge(fileCfg)
	}

	cfg.applyEnvOverrides()
	if cfg.Queue.ResultBackendURL == "" {
		cfg.Queue.ResultBackendURL = cfg.Queue.BrokerURL
	}
	return cfg, nil
}
