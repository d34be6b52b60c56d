// Package config loads and holds all pipeline configuration.
// Settings are layered: defaults → config file (JSON) → environment variables
// (env vars win). Two top-level shapes are loaded this way: InitConfig (the
// client-side SDK configuration: mode, batching, privacy) and ServerConfig
// (the ingest daemon's listen address, API key, store path, CORS origins).
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
)

// CaptureLevel controls how much of a content class reaches the event store.
type CaptureLevel string

// Capture level constants, from least to most revealing.
const (
	CaptureNone      CaptureLevel = "none"
	CaptureMetadata  CaptureLevel = "metadata"
	CaptureSanitized CaptureLevel = "sanitized"
	CaptureFull      CaptureLevel = "full"
)

// Mode selects the transport the SDK uses to deliver events.
type Mode string

// Mode constants.
const (
	ModeLocal  Mode = "local"
	ModeServer Mode = "server"
)

// PrivacyConfig controls the Privacy Controller's redaction behavior.
type PrivacyConfig struct {
	DefaultLevel CaptureLevel `json:"defaultLevel"`

	// Per-class overrides. Empty string falls back to DefaultLevel.
	PromptsLevel   CaptureLevel `json:"promptsLevel,omitempty"`
	ResponsesLevel CaptureLevel `json:"responsesLevel,omitempty"`
	ErrorsLevel    CaptureLevel `json:"errorsLevel,omitempty"`
	MetadataLevel  CaptureLevel `json:"metadataLevel,omitempty"`

	BuiltinPII   bool     `json:"builtinPII"`
	CustomPatterns []string `json:"customPatterns,omitempty"`

	HashInsteadOfRedact bool   `json:"hashInsteadOfRedact"`
	HashSalt            string `json:"hashSalt,omitempty"`

	// CustomSanitizer runs after pattern redaction on already-redacted text.
	// Not JSON-serializable; set programmatically by embedders.
	CustomSanitizer func(string) string `json:"-"`
}

// LevelFor resolves the effective capture level for a content class,
// falling back to DefaultLevel when no override is set.
func (p PrivacyConfig) LevelFor(class string) CaptureLevel {
	var override CaptureLevel
	switch class {
	case "prompts":
		override = p.PromptsLevel
	case "responses":
		override = p.ResponsesLevel
	case "errors":
		override = p.ErrorsLevel
	case "metadata":
		override = p.MetadataLevel
	}
	if override != "" {
		return override
	}
	if p.DefaultLevel != "" {
		return p.DefaultLevel
	}
	return CaptureSanitized
}

// InitConfig is the client SDK's top-level configuration.
type InitConfig struct {
	Mode     Mode   `json:"mode"`
	UserID   string `json:"userId"`
	Endpoint string `json:"endpoint,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	Debug    bool   `json:"debug"`

	Privacy PrivacyConfig `json:"privacy"`

	BatchSize       int `json:"batchSize"`
	FlushIntervalMS int `json:"flushIntervalMs"`
	MaxBatches      int `json:"maxBatches"`

	TimeoutMS  int `json:"timeoutMs"`
	MaxRetries int `json:"maxRetries"`

	// StorePath is the local durable queue/event store file. Empty means
	// in-memory only (no restart survival).
	StorePath string `json:"storePath,omitempty"`
}

// Capacity returns the Event Queue's hard cap: batch_size × max_batches.
func (c InitConfig) Capacity() int {
	return c.BatchSize * c.MaxBatches
}

// DefaultInitConfig returns the documented defaults, overridable by file/env.
func DefaultInitConfig() *InitConfig {
	return &InitConfig{
		Mode:   ModeLocal,
		Debug:  false,
		Privacy: PrivacyConfig{
			DefaultLevel: CaptureSanitized,
			BuiltinPII:   true,
		},
		BatchSize:       10,
		FlushIntervalMS: 5000,
		MaxBatches:      10,
		TimeoutMS:       30000,
		MaxRetries:      2,
		StorePath:       "bilan-queue.db",
	}
}

// LoadInitConfig layers defaults, an optional JSON file, then env vars.
func LoadInitConfig(path string) *InitConfig {
	cfg := DefaultInitConfig()
	loadJSONFile(cfg, path)
	loadInitEnv(cfg)
	return cfg
}

func loadInitEnv(cfg *InitConfig) {
	if v := os.Getenv("BILAN_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("BILAN_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv("BILAN_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("BILAN_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("BILAN_DEBUG"); v == "true" {
		cfg.Debug = true
	}
	if v := os.Getenv("BILAN_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("BILAN_FLUSH_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FlushIntervalMS = n
		}
	}
	if v := os.Getenv("BILAN_MAX_BATCHES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxBatches = n
		}
	}
	if v := os.Getenv("BILAN_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TimeoutMS = n
		}
	}
	if v := os.Getenv("BILAN_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("BILAN_PRIVACY_DEFAULT_LEVEL"); v != "" {
		cfg.Privacy.DefaultLevel = CaptureLevel(v)
	}
	if v := os.Getenv("BILAN_PRIVACY_BUILTIN_PII"); v == "false" {
		cfg.Privacy.BuiltinPII = false
	}
	if v := os.Getenv("BILAN_PRIVACY_HASH"); v == "true" {
		cfg.Privacy.HashInsteadOfRedact = true
	}
	if v := os.Getenv("BILAN_PRIVACY_HASH_SALT"); v != "" {
		cfg.Privacy.HashSalt = v
	}
	if v := os.Getenv("BILAN_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
}

// ServerConfig is the ingest daemon's configuration.
type ServerConfig struct {
	ListenAddr  string   `json:"listenAddr"`
	APIKey      string   `json:"apiKey"`
	SQLitePath  string   `json:"sqlitePath"`
	CORSOrigins []string `json:"corsOrigins"`
	BatchCap    int      `json:"batchCap"`
	LogLevel    string   `json:"logLevel"`
	Environment string   `json:"environment"`
}

// AllowRawSQL reports whether raw-SQL execution paths may be enabled: only
// in the "development" and "test" environments, so production/hosted and
// any other deployment have them disabled (spec §6).
func (s ServerConfig) AllowRawSQL() bool {
	env := strings.ToLower(s.Environment)
	return env == "development" || env == "test"
}

// DefaultServerConfig returns the documented server-side defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:  ":8089",
		SQLitePath:  "bilan-events.db",
		CORSOrigins: []string{"*"},
		BatchCap:    1000,
		LogLevel:    "info",
		Environment: "development",
	}
}

// LoadServerConfig layers defaults, an optional JSON file, then env vars.
func LoadServerConfig(path string) *ServerConfig {
	cfg := DefaultServerConfig()
	loadJSONFile(cfg, path)
	loadServerEnv(cfg)
	return cfg
}

func loadServerEnv(cfg *ServerConfig) {
	if v := os.Getenv("BILAN_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BILAN_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("BILAN_SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := os.Getenv("BILAN_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("BILAN_BATCH_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchCap = n
		}
	}
	if v := os.Getenv("BILAN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BILAN_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
}

func loadJSONFile(cfg any, path string) {
	if path == "" {
		return
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-supplied config path, not user input
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}
