package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerJSONLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("crop", "wheat").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("期望只输出 1 行, 实际 %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("日志应为 JSON: %v", err)
	}
	if entry["crop"] != "wheat" || entry["message"] != "shown" || entry["level"] != "warn" {
		t.Fatalf("日志字段不符合预期: %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatal("日志缺少时间戳")
	}
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "nonsense"}, &buf)
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("非法级别应回退为 info, 实际 %s", logger.GetLevel())
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Format: "console"}, &buf)
	logger.Info().Msg("hello")
	if !strings.Contains(buf.String(), "hello") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("console 格式应输出可读文本: %q", buf.String())
	}
}
