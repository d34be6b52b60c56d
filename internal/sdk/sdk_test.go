package sdk

import (
	"context"
	"errors"
	"testing"

	"bilan/internal/config"
	"bilan/internal/event"
)

func testConfig(t *testing.T) *config.InitConfig {
	cfg := config.DefaultInitConfig()
	cfg.UserID = "user-1"
	cfg.StorePath = "" // in-memory, no file fixture needed
	cfg.FlushIntervalMS = 3_600_000
	return cfg
}

func TestInit_MissingUserID(t *testing.T) {
	cfg := config.DefaultInitConfig()
	_, err := Init(cfg)
	var ie *InitError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *InitError, got %v", err)
	}
}

func TestInit_ServerModeRequiresEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = config.ModeServer
	_, err := Init(cfg)
	var ie *InitError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *InitError, got %v", err)
	}
}

func TestInit_LocalMode_Succeeds(t *testing.T) {
	sdk, err := Init(testConfig(t))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer sdk.Shutdown(context.Background())

	if GetInstance() != sdk {
		t.Error("Init should install the process-wide singleton")
	}
}

func TestTrack_EnqueuesEvent(t *testing.T) {
	sdk, err := Init(testConfig(t))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer sdk.Shutdown(context.Background())

	if err := sdk.Track(event.TypeUserAction, map[string]any{"action": "click"}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	stats, _ := sdk.Stats()
	if stats.QueueSize != 1 {
		t.Errorf("QueueSize: got %d, want 1", stats.QueueSize)
	}
}

func TestVote_Success(t *testing.T) {
	sdk, err := Init(testConfig(t))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer sdk.Shutdown(context.Background())

	if err := sdk.Vote("turn-1", 1, "great answer"); err != nil {
		t.Fatalf("Vote: %v", err)
	}
}

func TestVote_InvalidValue_ReturnsVoteError(t *testing.T) {
	sdk, err := Init(testConfig(t))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer sdk.Shutdown(context.Background())

	err = sdk.Vote("turn-1", 5, "")
	var ve *VoteError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *VoteError, got %v", err)
	}
}

func TestTrackTurn_Success(t *testing.T) {
	sdk, err := Init(testConfig(t))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer sdk.Shutdown(context.Background())

	result, err := sdk.TrackTurn(context.Background(), "Hi", func(ctx context.Context) (any, error) {
		return "Hello", nil
	}, map[string]any{"model_used": "m1"})
	if err != nil {
		t.Fatalf("TrackTurn: %v", err)
	}
	if result != "Hello" {
		t.Errorf("result: got %v", result)
	}

	stats, _ := sdk.Stats()
	if stats.QueueSize != 2 {
		t.Errorf("expected 2 queued events (turn_created, turn_completed), got %d", stats.QueueSize)
	}
}

func TestTrackTurn_FailurePropagates(t *testing.T) {
	sdk, err := Init(testConfig(t))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer sdk.Shutdown(context.Background())

	wantErr := errors.New("503 service down")
	_, err = sdk.TrackTurn(context.Background(), "X", func(ctx context.Context) (any, error) {
		return nil, wantErr
	}, map[string]any{})
	if err == nil {
		t.Fatal("expected error to propagate to caller")
	}
}

func TestGetStats_UninitializedReturnsZeroValue(t *testing.T) {
	instanceMu.Lock()
	instance = nil
	instanceMu.Unlock()

	stats, err := GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats != (Stats{}) {
		t.Errorf("expected zero-value Stats, got %+v", stats)
	}
}

func TestVote_PackageLevel_UninitializedIsNoOp(t *testing.T) {
	instanceMu.Lock()
	instance = nil
	instanceMu.Unlock()

	if err := Vote("turn-1", 1, ""); err != nil {
		t.Errorf("expected nil (safe fallback) when uninitialized, got %v", err)
	}
}

func TestShutdown_PackageLevel_UninitializedIsNoOp(t *testing.T) {
	instanceMu.Lock()
	instance = nil
	instanceMu.Unlock()

	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("expected nil when uninitialized, got %v", err)
	}
}

func TestVote_PackageLevel_UninitializedDebugModeReturnsError(t *testing.T) {
	instanceMu.Lock()
	instance = nil
	instanceMu.Unlock()
	t.Setenv("BILAN_DEBUG", "true")

	err := Vote("turn-1", 1, "")
	var ve *VoteError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *VoteError in debug mode, got %v", err)
	}
}

func TestGetStats_PackageLevel_UninitializedDebugModeReturnsError(t *testing.T) {
	instanceMu.Lock()
	instance = nil
	instanceMu.Unlock()
	t.Setenv("BILAN_DEBUG", "true")

	_, err := GetStats()
	var se *StatsError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatsError in debug mode, got %v", err)
	}
}

func TestFlush_PackageLevel_UninitializedIsNoOp(t *testing.T) {
	instanceMu.Lock()
	instance = nil
	instanceMu.Unlock()

	if err := Flush(context.Background()); err != nil {
		t.Errorf("expected nil when uninitialized, got %v", err)
	}
}

func TestFlush_DeliversQueuedEvents(t *testing.T) {
	sdk, err := Init(testConfig(t))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer sdk.Shutdown(context.Background())

	if err := sdk.Track(event.TypeUserAction, map[string]any{"action": "click"}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := sdk.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	stats, _ := sdk.Stats()
	if stats.QueueSize != 0 {
		t.Errorf("expected queue drained after Flush, got size %d", stats.QueueSize)
	}
	if stats.FlushSuccess < 1 {
		t.Errorf("expected at least one flush success recorded, got %d", stats.FlushSuccess)
	}
}

func TestFlush_SinkFailureReturnsNetworkError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = config.ModeServer
	cfg.Endpoint = "http://127.0.0.1:1" // nothing listening; Send must fail
	sdk, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer sdk.Shutdown(context.Background())

	if err := sdk.Track(event.TypeUserAction, map[string]any{"action": "click"}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	err = sdk.Flush(context.Background())
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected *NetworkError, got %v", err)
	}
}
