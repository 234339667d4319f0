package config

import "time"

// Config holds runtime settings for the CryptexDrive CLI.
//
// Fields:
//   - ServerEndpointAddr: base URL of the backend (scheme://host:port).
//   - RequestTimeout: per-request HTTP timeout.
//   - SessionDBPath: path of the local session database.
//   - DownloadDir: subdirectory (under the working dir) downloads are saved to.
type Config struct {
	ServerEndpointAddr string
	RequestTimeout     time.Duration
	SessionDBPath      string
	DownloadDir        string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:5000"
	c.RequestTimeout = 30 * time.Second
	c.SessionDBPath = "session.db"
	c.DownloadDir = "downloads"
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
