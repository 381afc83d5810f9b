package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestGetForComponent_JSON(t *testing.T) {
	var buf bytes.Buffer
	InitializeWriter("info", "json", &buf)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	l := GetForComponent("router")
	l.Info().Str("pool", "SAFE").Msg("admitted")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if rec["component"] != "router" {
		t.Errorf("component = %v, want router", rec["component"])
	}
	if rec["pool"] != "SAFE" {
		t.Errorf("pool = %v, want SAFE", rec["pool"])
	}
	if rec["message"] != "admitted" {
		t.Errorf("message = %v", rec["message"])
	}
}
