package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/zlp/pool-engine/internal/config"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.log")
	logger, closer := New(config.LogConfig{Level: "warn", File: path, MaxSizeMB: 1})

	logger.Info("dropped")
	logger.Warn("kept", "height", 42)
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("expected a single JSON record, got %q: %v", data, err)
	}
	if rec["msg"] != "kept" || rec["height"] != float64(42) {
		t.Errorf("unexpected record %v", rec)
	}
}
