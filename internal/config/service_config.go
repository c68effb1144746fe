package config

import "time"

type Config struct {
	Service    *ServiceConfig    `mapstructure:"service"`
	Database   *map[string]any   `mapstructure:"database"`
	Runs       *RunsConfig       `mapstructure:"runs"`
	Judge      *JudgeConfig      `mapstructure:"judge"`
	OpenRouter *OpenRouterConfig `mapstructure:"openrouter"`
	Gemini     *GeminiConfig     `mapstructure:"gemini"`
	Telemetry  *TelemetryConfig  `mapstructure:"telemetry"`
}

type ServiceConfig struct {
	Version         string `mapstructure:"version,omitempty"`
	Build           string `mapstructure:"build,omitempty"`
	BuildDate       string `mapstructure:"build_date,omitempty"`
	Port            int    `mapstructure:"port,omitempty"`
	ReadyFile       string `mapstructure:"ready_file"`
	TerminationFile string `mapstructure:"termination_file"`
	LocalMode       bool   `mapstructure:"local_mode,omitempty"`
}

// RunsConfig holds the limits applied to every run.
type RunsConfig struct {
	// MaxConcurrentParticipants bounds the execution tasks of one run that call providers at the same time
	MaxConcurrentParticipants int           `mapstructure:"max_concurrent_participants"`
	DefaultRepetitions        int           `mapstructure:"default_repetitions"`
	MaxRepetitions            int           `mapstructure:"max_repetitions"`
	MaxParticipants           int           `mapstructure:"max_participants"`
	RepetitionTimeout         time.Duration `mapstructure:"repetition_timeout"`
	AggregationTimeout        time.Duration `mapstructure:"aggregation_timeout"`
	// Retention is how long a terminal run stays in memory, its events are gone afterwards
	Retention         time.Duration `mapstructure:"retention"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type JudgeConfig struct {
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
	// Concurrency bounds the judge calls of one aggregation
	Concurrency int `mapstructure:"concurrency"`
}

type OpenRouterConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	SiteURL           string        `mapstructure:"site_url"`
	SiteName          string        `mapstructure:"site_name"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type TelemetryConfig struct {
	// Exporter is one of none, stdout, otlp-http or otlp-grpc
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// applyDefaults fills the sections and values that the configuration files left out.
func (c *Config) applyDefaults() {
	if c.Service == nil {
		c.Service = &ServiceConfig{}
	}
	if c.Service.Port == 0 {
		c.Service.Port = 8080
	}
	if c.Runs == nil {
		c.Runs = &RunsConfig{}
	}
	r := c.Runs
	if r.MaxConcurrentParticipants <= 0 {
		r.MaxConcurrentParticipants = 10
	}
	if r.DefaultRepetitions <= 0 {
		r.DefaultRepetitions = 1
	}
	if r.MaxRepetitions <= 0 {
		r.MaxRepetitions = 20
	}
	if r.MaxParticipants <= 0 {
		r.MaxParticipants = 32
	}
	if r.RepetitionTimeout <= 0 {
		r.RepetitionTimeout = 2 * time.Minute
	}
	if r.AggregationTimeout <= 0 {
		r.AggregationTimeout = 5 * time.Minute
	}
	if r.Retention <= 0 {
		r.Retention = 15 * time.Minute
	}
	if r.HeartbeatInterval <= 0 {
		r.HeartbeatInterval = 15 * time.Second
	}
	if c.Judge == nil {
		c.Judge = &JudgeConfig{}
	}
	if c.Judge.Model == "" {
		c.Judge.Model = "google/gemini-2.5-flash"
	}
	if c.Judge.Timeout <= 0 {
		c.Judge.Timeout = 90 * time.Second
	}
	if c.Judge.Concurrency <= 0 {
		c.Judge.Concurrency = 4
	}
	if c.OpenRouter == nil {
		c.OpenRouter = &OpenRouterConfig{}
	}
	if c.OpenRouter.BaseURL == "" {
		c.OpenRouter.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.OpenRouter.RequestsPerSecond <= 0 {
		c.OpenRouter.RequestsPerSecond = 5
	}
	if c.OpenRouter.Burst <= 0 {
		c.OpenRouter.Burst = 10
	}
	if c.OpenRouter.HTTPTimeout <= 0 {
		c.OpenRouter.HTTPTimeout = 5 * time.Minute
	}
	if c.Gemini == nil {
		c.Gemini = &GeminiConfig{}
	}
	if c.Telemetry == nil {
		c.Telemetry = &TelemetryConfig{}
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = "none"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "model-arena"
	}
	if c.Telemetry.SampleRatio <= 0 {
		c.Telemetry.SampleRatio = 1
	}
}
