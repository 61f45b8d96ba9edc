package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Warn("fetch failed", String("source", "NVD"), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["comp"] != "test" || m["source"] != "NVD" {
		t.Fatalf("missing fields: %v", m)
	}
	if m["message"] != "fetch failed" {
		t.Fatalf("message = %v", m["message"])
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("nothing happens")
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	got := formatTelegramJSON([]byte(`{"level":"error","message":"send failed","source":"CISA","time":"x"}`))
	if !strings.HasPrefix(got, "[ERROR] send failed") {
		t.Fatalf("unexpected prefix: %q", got)
	}
	if !strings.Contains(got, "- source=CISA") {
		t.Fatalf("missing field: %q", got)
	}
	if strings.Contains(got, "time=") {
		t.Fatalf("time should be dropped: %q", got)
	}
}

func TestParseLevelDefault(t *testing.T) {
	t.Parallel()
	if got := parseLevel("nope", LevelWarn); got != LevelWarn {
		t.Fatalf("got %v", got)
	}
	if got := parseLevel(" warning ", LevelInfo); got != LevelWarn {
		t.Fatalf("got %v", got)
	}
}
