package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerWithFieldsOrder(t *testing.T) {
	var buf bytes.Buffer
	l := FromZerolog(zerolog.New(&buf)).With(String("comp", "scheduler"))
	l.Info("tick", Int64("item_id", 7), String("comp", "override"))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if m["message"] != "tick" {
		t.Fatalf("message = %v", m["message"])
	}
	if m["item_id"] != float64(7) {
		t.Fatalf("item_id = %v", m["item_id"])
	}
	if caller, _ := m["caller"].(string); !strings.HasPrefix(caller, "logx_test.go:") {
		t.Fatalf("caller = %q, want logx_test.go:<line>", caller)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("nothing happens")
}

func TestFormatTelegramLine(t *testing.T) {
	got := formatTelegramLine([]byte(`{"level":"warn","message":"publish failed","item_id":3,"err":"boom","time":"x"}`))
	want := "[WARN] publish failed\n- err=boom\n- item_id=3"
	if got != want {
		t.Fatalf("formatTelegramLine = %q, want %q", got, want)
	}
	if got := formatTelegramLine([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("non-json line = %q", got)
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "debug", "WARN", "warning"} {
		if !ValidLevel(s) {
			t.Fatalf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true")
	}
}
