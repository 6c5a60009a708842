package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is everything the fieldlink CLI needs to run one session.
type Config struct {
	URL         string     `yaml:"url"`
	Token       string     `yaml:"token"`
	SubjectID   string     `yaml:"subject_id"`
	Role        string     `yaml:"role"`
	MetricsAddr string     `yaml:"metrics_addr"`
	LogLevel    string     `yaml:"log_level"`
	LogFormat   string     `yaml:"log_format"`
	Supervisor  Supervisor `yaml:",inline"`
	Sensor      Sensor     `yaml:"sensor"`
}

// Supervisor holds the tunables of the connection supervisor.
type Supervisor struct {
	Backoff           Backoff       `yaml:"backoff"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	LatencyInterval   time.Duration `yaml:"latency_interval"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	// ResumeDelay is the short delay used when a foreground or online
	// signal short-circuits the backoff.
	ResumeDelay time.Duration `yaml:"resume_delay"`
}

// Backoff configures the reconnect delay curve.
type Backoff struct {
	Base        time.Duration `yaml:"base"`
	Cap         time.Duration `yaml:"cap"`
	Jitter      float64       `yaml:"jitter"`
	MaxAttempts int           `yaml:"max_attempts"` // 0 = retry forever
}

// Sensor configures visibility and network polling.
type Sensor struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// Flags carries CLI overrides. Empty / zero values mean "not set".
type Flags struct {
	URL         string
	Token       string
	SubjectID   string
	Role        string
	MetricsAddr string
	LogLevel    string
	MaxAttempts int
}

// DefaultSupervisor returns the reference tunables.
func DefaultSupervisor() Supervisor {
	return Supervisor{
		Backoff: Backoff{
			Base:        time.Second,
			Cap:         30 * time.Second,
			Jitter:      0.25,
			MaxAttempts: 10,
		},
		HeartbeatInterval: 25 * time.Second,
		LatencyInterval:   5 * time.Second,
		QueueCapacity:     100,
		HandshakeTimeout:  10 * time.Second,
		ResumeDelay:       250 * time.Millisecond,
	}
}

// Default returns a Config with every optional field populated.
func Default() *Config {
	return &Config{
		Role:       "technician",
		LogLevel:   "info",
		LogFormat:  "text",
		Supervisor: DefaultSupervisor(),
		Sensor: Sensor{
			PollInterval: 2 * time.Second,
			ProbeTimeout: 3 * time.Second,
		},
	}
}

// Load resolves configuration from flags > env > config file > defaults.
func Load(flags Flags) (*Config, error) {
	cfg := Default()

	// 1. Config file over defaults
	if cfgPath := configFilePath(); cfgPath != "" {
		data, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", cfgPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", cfgPath, err)
		}
	}

	// 2. Environment variables override config file
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	// 3. CLI flags override everything
	applyFlags(cfg, flags)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"FIELDLINK_URL":          &cfg.URL,
		"FIELDLINK_TOKEN":        &cfg.Token,
		"FIELDLINK_SUBJECT_ID":   &cfg.SubjectID,
		"FIELDLINK_ROLE":         &cfg.Role,
		"FIELDLINK_METRICS_ADDR": &cfg.MetricsAddr,
		"FIELDLINK_LOG_LEVEL":    &cfg.LogLevel,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"FIELDLINK_BACKOFF_BASE": &cfg.Supervisor.Backoff.Base,
		"FIELDLINK_BACKOFF_CAP":  &cfg.Supervisor.Backoff.Cap,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"FIELDLINK_MAX_ATTEMPTS":   &cfg.Supervisor.Backoff.MaxAttempts,
		"FIELDLINK_QUEUE_CAPACITY": &cfg.Supervisor.QueueCapacity,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

func applyFlags(cfg *Config, f Flags) {
	if f.URL != "" {
		cfg.URL = f.URL
	}
	if f.Token != "" {
		cfg.Token = f.Token
	}
	if f.SubjectID != "" {
		cfg.SubjectID = f.SubjectID
	}
	if f.Role != "" {
		cfg.Role = f.Role
	}
	if f.MetricsAddr != "" {
		cfg.MetricsAddr = f.MetricsAddr
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.MaxAttempts > 0 {
		cfg.Supervisor.Backoff.MaxAttempts = f.MaxAttempts
	}
}

// Validate checks required fields and the sanity of the tunables.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("server URL is required (--url, FIELDLINK_URL, or url in config file)")
	}
	if c.Token == "" {
		return fmt.Errorf("bearer token is required (--token, FIELDLINK_TOKEN, or token in config file)")
	}
	if c.SubjectID == "" {
		return fmt.Errorf("subject id is required (--subject, FIELDLINK_SUBJECT_ID, or subject_id in config file)")
	}
	if c.Sensor.PollInterval <= 0 || c.Sensor.ProbeTimeout <= 0 {
		return fmt.Errorf("sensor.poll_interval and sensor.probe_timeout must be positive")
	}
	return c.Supervisor.Validate()
}

// Validate checks that the supervisor tunables describe a usable schedule.
func (s Supervisor) Validate() error {
	b := s.Backoff
	if b.Base <= 0 {
		return fmt.Errorf("backoff.base must be positive, got %s", b.Base)
	}
	if b.Cap < b.Base {
		return fmt.Errorf("backoff.cap (%s) must not be below backoff.base (%s)", b.Cap, b.Base)
	}
	if b.Jitter < 0 || b.Jitter >= 1 {
		return fmt.Errorf("backoff.jitter must be in [0, 1), got %v", b.Jitter)
	}
	if b.MaxAttempts < 0 {
		return fmt.Errorf("backoff.max_attempts must not be negative, got %d", b.MaxAttempts)
	}
	if s.HeartbeatInterval <= 0 || s.LatencyInterval <= 0 {
		return fmt.Errorf("heartbeat_interval and latency_interval must be positive")
	}
	if s.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive, got %d", s.QueueCapacity)
	}
	if s.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive, got %s", s.HandshakeTimeout)
	}
	return nil
}

func configFilePath() string {
	if p := os.Getenv("FIELDLINK_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(home, ".fieldlink", "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}
