package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
)

func TestInitWritesJSONToConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "debooklet.log")

	if err := Init(Options{Level: "debug", File: file, MaxSizeMB: 1, Console: &console}); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer Close()

	jl := ForJob("job-123")
	jl.Info().Int("page", 3).Int("sheet", 1).Str("side", "right").Msg("extracting page")

	var ev map[string]interface{}
	line := strings.TrimSpace(console.String())
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("console output is not JSON: %q", line)
	}
	if ev["job_id"] != "job-123" || ev["service"] != serviceName || ev["side"] != "right" {
		t.Errorf("unexpected fields: %v", ev)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	if !strings.Contains(string(data), `"job_id":"job-123"`) {
		t.Errorf("log file missing event: %s", data)
	}
}

func TestInitLevelFiltering(t *testing.T) {
	var console bytes.Buffer
	if err := Init(Options{Level: "warn", Console: &console}); err != nil {
		t.Fatal(err)
	}
	defer Close()

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	out := console.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestInitBadLevelFallsBackToInfo(t *testing.T) {
	var console bytes.Buffer
	if err := Init(Options{Level: "loud", Console: &console}); err != nil {
		t.Fatal(err)
	}
	defer Close()

	log.Debug().Msg("debug line")
	log.Info().Msg("info line")
	if strings.Contains(console.String(), "debug line") {
		t.Error("debug should be filtered at info level")
	}
	if !strings.Contains(console.String(), "info line") {
		t.Error("info should be logged")
	}
}
