package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestDefaultInitConfig(t *testing.T) {
	cfg := DefaultInitConfig()

	if cfg.Mode != ModeLocal {
		t.Errorf("Mode: got %s, want local", cfg.Mode)
	}
	if cfg.Debug {
		t.Error("Debug should default to false")
	}
	if cfg.BatchSize != 10 {
		t.Errorf("BatchSize: got %d, want 10", cfg.BatchSize)
	}
	if cfg.FlushIntervalMS != 5000 {
		t.Errorf("FlushIntervalMS: got %d, want 5000", cfg.FlushIntervalMS)
	}
	if cfg.MaxBatches != 10 {
		t.Errorf("MaxBatches: got %d, want 10", cfg.MaxBatches)
	}
	if cfg.TimeoutMS != 30000 {
		t.Errorf("TimeoutMS: got %d, want 30000", cfg.TimeoutMS)
	}
	if cfg.MaxRetries != 2 {
		t.Errorf("MaxRetries: got %d, want 2", cfg.MaxRetries)
	}
	if cfg.Privacy.DefaultLevel != CaptureSanitized {
		t.Errorf("Privacy.DefaultLevel: got %s, want sanitized", cfg.Privacy.DefaultLevel)
	}
	if !cfg.Privacy.BuiltinPII {
		t.Error("Privacy.BuiltinPII should default to true")
	}
}

func TestInitConfig_Capacity(t *testing.T) {
	cfg := &InitConfig{BatchSize: 3, MaxBatches: 2}
	if got := cfg.Capacity(); got != 6 {
		t.Errorf("Capacity: got %d, want 6", got)
	}
}

func TestPrivacyConfig_LevelFor_Override(t *testing.T) {
	p := PrivacyConfig{DefaultLevel: CaptureSanitized, PromptsLevel: CaptureFull}
	if got := p.LevelFor("prompts"); got != CaptureFull {
		t.Errorf("LevelFor(prompts): got %s, want full", got)
	}
	if got := p.LevelFor("responses"); got != CaptureSanitized {
		t.Errorf("LevelFor(responses): got %s, want sanitized (fallback)", got)
	}
}

func TestLoadInitEnv_Mode(t *testing.T) {
	t.Setenv("BILAN_MODE", "server")
	cfg := DefaultInitConfig()
	loadInitEnv(cfg)
	if cfg.Mode != ModeServer {
		t.Errorf("Mode: got %s, want server", cfg.Mode)
	}
}

func TestLoadInitEnv_UserID(t *testing.T) {
	t.Setenv("BILAN_USER_ID", "user-42")
	cfg := DefaultInitConfig()
	loadInitEnv(cfg)
	if cfg.UserID != "user-42" {
		t.Errorf("UserID: got %s", cfg.UserID)
	}
}

func TestLoadInitEnv_BatchSize(t *testing.T) {
	t.Setenv("BILAN_BATCH_SIZE", "25")
	cfg := DefaultInitConfig()
	loadInitEnv(cfg)
	if cfg.BatchSize != 25 {
		t.Errorf("BatchSize: got %d, want 25", cfg.BatchSize)
	}
}

func TestLoadInitEnv_InvalidBatchSize_Ignored(t *testing.T) {
	t.Setenv("BILAN_BATCH_SIZE", "not-a-number")
	cfg := DefaultInitConfig()
	loadInitEnv(cfg)
	if cfg.BatchSize != 10 {
		t.Errorf("BatchSize: got %d, want 10 (invalid env should be ignored)", cfg.BatchSize)
	}
}

func TestLoadInitEnv_MaxRetriesZero_Accepted(t *testing.T) {
	t.Setenv("BILAN_MAX_RETRIES", "0")
	cfg := DefaultInitConfig()
	loadInitEnv(cfg)
	if cfg.MaxRetries != 0 {
		t.Errorf("MaxRetries: got %d, want 0", cfg.MaxRetries)
	}
}

func TestLoadInitEnv_StorePath(t *testing.T) {
	t.Setenv("BILAN_STORE_PATH", "/tmp/custom-queue.db")
	cfg := DefaultInitConfig()
	loadInitEnv(cfg)
	if cfg.StorePath != "/tmp/custom-queue.db" {
		t.Errorf("StorePath: got %s", cfg.StorePath)
	}
}

func TestLoadInitEnv_PrivacyHashSalt(t *testing.T) {
	t.Setenv("BILAN_PRIVACY_HASH", "true")
	t.Setenv("BILAN_PRIVACY_HASH_SALT", "pepper")
	cfg := DefaultInitConfig()
	loadInitEnv(cfg)
	if !cfg.Privacy.HashInsteadOfRedact {
		t.Error("HashInsteadOfRedact should be true")
	}
	if cfg.Privacy.HashSalt != "pepper" {
		t.Errorf("HashSalt: got %s", cfg.Privacy.HashSalt)
	}
}

func TestLoadJSONFile_ValidJSON(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.json")
	if err != nil {
		t.Fatal(err)
	}

	data, marshalErr := json.Marshal(map[string]any{
		"batchSize": 99,
		"mode":      "server",
		"debug":     true,
	})
	if marshalErr != nil {
		t.Fatal(marshalErr)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultInitConfig()
	loadJSONFile(cfg, f.Name())

	if cfg.BatchSize != 99 {
		t.Errorf("BatchSize: got %d, want 99", cfg.BatchSize)
	}
	if cfg.Mode != ModeServer {
		t.Errorf("Mode: got %s, want server", cfg.Mode)
	}
	if !cfg.Debug {
		t.Error("Debug should be true after file load")
	}
}

func TestLoadJSONFile_Missing_IsNoOp(t *testing.T) {
	cfg := DefaultInitConfig()
	loadJSONFile(cfg, "/nonexistent/path/config.json")
	if cfg.BatchSize != 10 {
		t.Errorf("BatchSize changed unexpectedly: %d", cfg.BatchSize)
	}
}

func TestLoadJSONFile_InvalidJSON_PreservesDefaults(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-bad-*.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{this is not json}"); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultInitConfig()
	loadJSONFile(cfg, f.Name())
	if cfg.BatchSize != 10 {
		t.Errorf("BatchSize changed on bad JSON: %d", cfg.BatchSize)
	}
}

func TestLoadInitConfig_ReturnsNonNil(t *testing.T) {
	cfg := LoadInitConfig("")
	if cfg == nil {
		t.Fatal("LoadInitConfig() returned nil")
	}
	if cfg.BatchSize <= 0 {
		t.Errorf("BatchSize should be positive, got %d", cfg.BatchSize)
	}
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	if cfg.ListenAddr == "" {
		t.Error("ListenAddr should not be empty")
	}
	if cfg.BatchCap != 1000 {
		t.Errorf("BatchCap: got %d, want 1000", cfg.BatchCap)
	}
	if !cfg.AllowRawSQL() {
		t.Error("development environment should allow raw SQL")
	}
}

func TestServerConfig_AllowRawSQL_Production(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Environment = "production"
	if cfg.AllowRawSQL() {
		t.Error("production environment must not allow raw SQL")
	}
}

func TestLoadServerEnv_CORSOrigins(t *testing.T) {
	t.Setenv("BILAN_CORS_ORIGINS", "https://a.example,https://b.example")
	cfg := DefaultServerConfig()
	loadServerEnv(cfg)
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "https://a.example" {
		t.Errorf("CORSOrigins: got %v", cfg.CORSOrigins)
	}
}

func TestLoadServerEnv_BatchCap(t *testing.T) {
	t.Setenv("BILAN_BATCH_CAP", "500")
	cfg := DefaultServerConfig()
	loadServerEnv(cfg)
	if cfg.BatchCap != 500 {
		t.Errorf("BatchCap: got %d, want 500", cfg.BatchCap)
	}
}
