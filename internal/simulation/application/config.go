package application

import "time"

// Config holds simulator limits and defaults.
type Config struct {
	MaxRuns         int           `yaml:"max_runs"`
	DefaultDuration time.Duration `yaml:"default_duration"`
	DefaultInterval time.Duration `yaml:"default_interval"`
	StopTimeout     time.Duration `yaml:"stop_timeout"`
	Retention       time.Duration `yaml:"retention"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns the stock simulator settings.
func DefaultConfig() Config {
	return Config{
		MaxRuns:         50,
		DefaultDuration: 10 * time.Minute,
		DefaultInterval: 30 * time.Second,
		StopTimeout:     5 * time.Second,
		Retention:       time.Hour,
		SweepInterval:   5 * time.Minute,
	}
}

// withDefaults fills zero or negative fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRuns <= 0 {
		c.MaxRuns = d.MaxRuns
	}
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = d.DefaultDuration
	}
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = d.DefaultInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c
}
