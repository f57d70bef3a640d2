package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

// TestFromContextAddsTraceID verifies the trace ID and component end up in the JSON output
func TestFromContextAddsTraceID(t *testing.T) {
	var buf bytes.Buffer
	base := WithComponent(zerolog.New(&buf), "PositionEngine")

	ctx := WithTraceID(context.Background(), "abc-123")
	l := FromContext(ctx, base)
	l.Info().Msg("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log line: %v", err)
	}
	if entry["trace_id"] != "abc-123" {
		t.Errorf("Expected trace_id abc-123, got %v", entry["trace_id"])
	}
	if entry["component"] != "PositionEngine" {
		t.Errorf("Expected component PositionEngine, got %v", entry["component"])
	}
}

func TestFromContextWithoutTraceID(t *testing.T) {
	var buf bytes.Buffer
	l := FromContext(context.Background(), zerolog.New(&buf))
	l.Info().Msg("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log line: %v", err)
	}
	if _, ok := entry["trace_id"]; ok {
		t.Error("Expected no trace_id field")
	}
}
