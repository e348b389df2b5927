package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/proxypool/proxypool/internal/core/domain"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestJSONHandler_WritesValidJSONLines(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo, ReplaceAttr: replaceTimestamp})
	l := slog.New(h)
	l.Info("upstream promoted", "host", "10.0.0.1", "port", 1080)

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid JSON line, got error: %v, line: %s", err, buf.String())
	}
	if decoded["msg"] != "upstream promoted" {
		t.Fatalf("expected msg field, got %v", decoded["msg"])
	}
}

func TestMultiHandler_FansOutToEveryHandler(t *testing.T) {
	var bufA, bufB bytes.Buffer
	ha := slog.NewJSONHandler(&bufA, &slog.HandlerOptions{Level: slog.LevelInfo})
	hb := slog.NewJSONHandler(&bufB, &slog.HandlerOptions{Level: slog.LevelInfo})

	l := slog.New(newMultiHandler(ha, hb))
	l.Info("hello")

	if !strings.Contains(bufA.String(), "hello") {
		t.Error("expected first handler to receive the record")
	}
	if !strings.Contains(bufB.String(), "hello") {
		t.Error("expected second handler to receive the record")
	}
}

func TestMultiHandler_RespectsPerHandlerLevel(t *testing.T) {
	var bufDebugOff, bufDebugOn bytes.Buffer
	hOff := slog.NewJSONHandler(&bufDebugOff, &slog.HandlerOptions{Level: slog.LevelWarn})
	hOn := slog.NewJSONHandler(&bufDebugOn, &slog.HandlerOptions{Level: slog.LevelDebug})

	l := slog.New(newMultiHandler(hOff, hOn))
	l.Debug("quiet message")

	if bufDebugOff.Len() != 0 {
		t.Error("expected warn-level handler to drop a debug record")
	}
	if bufDebugOn.Len() == 0 {
		t.Error("expected debug-level handler to receive the record")
	}
}

func TestStyledLogger_InfoUpstreamState_IncludesStateAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	styled := NewStyled(slog.New(h))

	styled.InfoUpstreamState("10.0.0.1", 1080, domain.StateResting, "upstream resting")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid JSON line: %v", err)
	}
	if decoded["state"] != "resting" {
		t.Fatalf("expected state=resting, got %v", decoded["state"])
	}
}
