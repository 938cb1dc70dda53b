package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all flowgraph server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr     string `json:"listen_addr"`
	DBPath         string `json:"db_path"`
	LogLevel       string `json:"log_level"`
	LogFormat      string `json:"log_format"`
	RedisAddr      string `json:"redis_addr"`
	RedisPassword  string `json:"redis_password"`
	RedisDB        int    `json:"redis_db"`
	RedisChannel   string `json:"redis_channel"`
	SweepSpec      string `json:"sweep_spec"`
	InstanceTTL    string `json:"instance_ttl"`
	EventRetention string `json:"event_retention"`
	InboxSize      int    `json:"inbox_size"`
	MaxEndNodes    int    `json:"max_end_nodes"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:   ":4200",
		DBPath:       filepath.Join(flowgraphDir(), "flowgraph.db"),
		LogLevel:     "info",
		LogFormat:    "text",
		RedisChannel: "flowgraph:status",
		SweepSpec:    "*/5 * * * *",
		InstanceTTL:  "1h",
		InboxSize:    1024,
		MaxEndNodes:  1,
	}
}

// flowgraphDir is ~/.flowgraph unless FLOWGRAPH_HOME points elsewhere.
func flowgraphDir() string {
	if dir := os.Getenv("FLOWGRAPH_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowgraph"
	}
	return filepath.Join(home, ".flowgraph")
}

func settingsPath() string {
	return filepath.Join(flowgraphDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWGRAPH_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FLOWGRAPH_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWGRAPH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWGRAPH_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("FLOWGRAPH_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("FLOWGRAPH_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("FLOWGRAPH_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("FLOWGRAPH_REDIS_CHANNEL"); v != "" {
		cfg.RedisChannel = v
	}
	if v := os.Getenv("FLOWGRAPH_SWEEP_SPEC"); v != "" {
		cfg.SweepSpec = v
	}
	if v := os.Getenv("FLOWGRAPH_INSTANCE_TTL"); v != "" {
		cfg.InstanceTTL = v
	}
	if v := os.Getenv("FLOWGRAPH_EVENT_RETENTION"); v != "" {
		cfg.EventRetention = v
	}
	if v := os.Getenv("FLOWGRAPH_INBOX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.InboxSize = n
		}
	}
	if v := os.Getenv("FLOWGRAPH_MAX_END_NODES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxEndNodes = n
		}
	}
	return cfg
}

// maxEndNodes is the per-graph end node limit. Zero removes the limit;
// negative values fall back to one.
func (c Config) maxEndNodes() int {
	if c.MaxEndNodes < 0 {
		return 1
	}
	return c.MaxEndNodes
}

// instanceTTL parses InstanceTTL, falling back to one hour.
func (c Config) instanceTTL() time.Duration {
	if d, err := time.ParseDuration(c.InstanceTTL); err == nil && d > 0 {
		return d
	}
	return time.Hour
}

// eventRetention parses EventRetention. Zero keeps events forever.
func (c Config) eventRetention() time.Duration {
	if d, err := time.ParseDuration(c.EventRetention); err == nil && d > 0 {
		return d
	}
	return 0
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.LogFormat != new.LogFormat {
		d.RestartNeeded = append(d.RestartNeeded, "log_format")
	}
	if old.RedisAddr != new.RedisAddr || old.RedisPassword != new.RedisPassword ||
		old.RedisDB != new.RedisDB || old.RedisChannel != new.RedisChannel {
		d.RestartNeeded = append(d.RestartNeeded, "redis")
	}
	if old.SweepSpec != new.SweepSpec || old.InstanceTTL != new.InstanceTTL || old.EventRetention != new.EventRetention {
		d.RestartNeeded = append(d.RestartNeeded, "retention")
	}
	if old.InboxSize != new.InboxSize {
		d.RestartNeeded = append(d.RestartNeeded, "inbox_size")
	}
	if old.MaxEndNodes != new.MaxEndNodes {
		d.RestartNeeded = append(d.RestartNeeded, "max_end_nodes")
	}
	return d
}
