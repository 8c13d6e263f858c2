package logger

// Config logging configuration
type Config struct {
	Level string `json:"level"` // Log level: debug, info, warn, error (default: info)

	// Optional rotating file output, tee'd with stdout
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.File != "" {
		if c.MaxSizeMB <= 0 {
			c.MaxSizeMB = 100
		}
		if c.MaxBackups <= 0 {
			c.MaxBackups = 7
		}
		if c.MaxAgeDays <= 0 {
			c.MaxAgeDays = 30
		}
	}
}
