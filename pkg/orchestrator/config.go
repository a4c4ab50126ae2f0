package orchestrator

import "time"

// DefaultNightlySchedule disables enabled pipelines at midnight.
const DefaultNightlySchedule = "0 0 * * *"

// Config controls the periodic loops.
type Config struct {
	TriggerInterval   time.Duration
	ReconcileInterval time.Duration

	// Workers bounds the per-item concurrency of one tick.
	Workers int

	// DisableNightly turns every ENABLED pipeline DISABLED on NightlySchedule.
	DisableNightly  bool
	NightlySchedule string
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		TriggerInterval:   time.Minute,
		ReconcileInterval: time.Minute,
		Workers:           4,
		NightlySchedule:   DefaultNightlySchedule,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TriggerInterval <= 0 {
		c.TriggerInterval = d.TriggerInterval
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = d.ReconcileInterval
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.NightlySchedule == "" {
		c.NightlySchedule = d.NightlySchedule
	}
	return c
}
