package config

import "time"

// Inspection config accessor methods with default fallbacks.

// GetBatchWorkers returns the number of candidates inspected concurrently.
func (c *Config) GetBatchWorkers() int {
	if c.Inspection.BatchWorkers <= 0 {
		return 4 // Default: 4 workers
	}
	return c.Inspection.BatchWorkers
}

// GetActivityWindow returns how long after the last inspection keep-alives keep running.
func (c *Config) GetActivityWindow() time.Duration {
	if c.Inspection.ActivityWindow <= 0 {
		return 2 * time.Minute
	}
	return c.Inspection.ActivityWindow
}

// GetMaxDecodedBytes returns the per-segment yEnc output cap. Zero disables the cap.
func (c *Config) GetMaxDecodedBytes() int {
	if c.Inspection.MaxDecodedBytes < 0 {
		return 8 << 20
	}
	return int(c.Inspection.MaxDecodedBytes)
}

// GetAPIPrefix returns the route prefix of the diagnostic API.
func (c *Config) GetAPIPrefix() string {
	if c.API.Prefix == "" {
		return "/api"
	}
	return c.API.Prefix
}
