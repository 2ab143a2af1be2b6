package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Tracker.LandmarkCount != 21 {
		t.Fatalf("expected 21 tracked landmarks by default, got %d", cfg.Tracker.LandmarkCount)
	}
	if cfg.Segmenter.OffsetEnergy >= cfg.Segmenter.OnsetEnergy {
		t.Fatalf("default offset energy must sit below onset energy")
	}
	if cfg.Aggregator.EndLabel != "STOP" {
		t.Fatalf("expected STOP end label, got %q", cfg.Aggregator.EndLabel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIGN_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SIGN_TRACKER_LANDMARK_COUNT", "33")
	t.Setenv("SIGN_TRACKER_QUALITY_FLOOR", "0.25")
	t.Setenv("SIGN_SEGMENTER_ONSET_ENERGY", "0.05")
	t.Setenv("SIGN_SEGMENTER_OFFSET_ENERGY", "0.01")
	t.Setenv("SIGN_CLASSIFIER_MODE", "mock")
	t.Setenv("SIGN_DEBOUNCE_ACCEPT_CONFIDENCE", "0.85")
	t.Setenv("SIGN_AGGREGATOR_COMMIT_TIMEOUT_MS", "900")
	t.Setenv("SIGN_AGGREGATOR_END_LABEL", "DONE")
	t.Setenv("SIGN_SESSION_LOG_PATH", "./tmp.db")
	t.Setenv("SIGN_SESSION_LOG_RETENTION_MODE", "persistent")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Tracker.LandmarkCount != 33 {
		t.Fatalf("expected landmark count override, got %d", cfg.Tracker.LandmarkCount)
	}
	if cfg.Tracker.QualityFloor != 0.25 {
		t.Fatalf("expected quality floor override, got %f", cfg.Tracker.QualityFloor)
	}
	if cfg.Segmenter.OnsetEnergy != 0.05 || cfg.Segmenter.OffsetEnergy != 0.01 {
		t.Fatalf("expected segmenter energy overrides")
	}
	if cfg.Classifier.Mode != "mock" {
		t.Fatalf("expected classifier mode override")
	}
	if cfg.Debounce.AcceptConfidence != 0.85 {
		t.Fatalf("expected debounce confidence override")
	}
	if cfg.Aggregator.CommitTimeoutMS != 900 {
		t.Fatalf("expected commit timeout override")
	}
	if cfg.Aggregator.EndLabel != "DONE" {
		t.Fatalf("expected end label override")
	}
	if cfg.SessionLog.Path != "./tmp.db" {
		t.Fatalf("expected session log path override")
	}
	if cfg.SessionLog.RetentionMode != "persistent" {
		t.Fatalf("expected session log retention mode override")
	}
}

func TestValidateRejectsBadSegmenter(t *testing.T) {
	t.Setenv("SIGN_SEGMENTER_OFFSET_ENERGY", "0.5")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error when offset energy exceeds onset energy")
	}
}
