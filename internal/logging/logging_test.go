package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigure_JSONComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: "debug", JSON: true, Output: &buf})
	t.Cleanup(func() { Configure(Options{}) })

	Component("backend").Debug("loaded", "model", "m")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not JSON: %v: %q", err, buf.String())
	}
	if rec["component"] != "backend" || rec["model"] != "m" || rec["msg"] != "loaded" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestInitFromEnv(t *testing.T) {
	t.Setenv(EnvLevel, "error")
	t.Setenv(EnvJSON, "true")
	InitFromEnv()
	t.Cleanup(func() { Configure(Options{}) })
	if L().Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("warn should be disabled at error level")
	}
}
