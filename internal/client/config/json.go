package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/cryptexdrive/cryptexdrive/internal/flagx"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. The timeout
// is given in seconds so the file stays readable:
//
//	{
//	  "server_endpoint_addr": "http://vault.example.com:5000",
//	  "request_timeout_seconds": 60,
//	  "session_db_path": "session.db",
//	  "download_dir": "downloads"
//	}
type JsonConfig struct {
	ServerEndpointAddr    string `json:"server_endpoint_addr"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	SessionDBPath         string `json:"session_db_path"`
	DownloadDir           string `json:"download_dir"`
}

// parseJson overlays Config with values loaded from a JSON file resolved
// via the -c/-config flags. Absent file means no overlay; unset fields keep
// their previous values. Read or unmarshal errors panic (caller may recover).
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointAddr != "" {
		cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	}
	if jc.RequestTimeoutSeconds > 0 {
		cfg.RequestTimeout = time.Duration(jc.RequestTimeoutSeconds) * time.Second
	}
	if jc.SessionDBPath != "" {
		cfg.SessionDBPath = jc.SessionDBPath
	}
	if jc.DownloadDir != "" {
		cfg.DownloadDir = jc.DownloadDir
	}
}
