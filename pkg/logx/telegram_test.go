package logx

import (
	"strings"
	"testing"
)

func TestFormatTelegramLine(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","message":"rate limited","channel_id":-100,"comp":"rotation"}` + "\n")
	got := formatTelegramLine(line)
	want := "[WARN] rate limited\n- channel_id=-100\n- comp=rotation"
	if got != want {
		t.Fatalf("formatTelegramLine = %q, want %q", got, want)
	}
}

func TestFormatTelegramLineNotJSON(t *testing.T) {
	t.Parallel()
	got := formatTelegramLine([]byte("  plain text \n"))
	if got != "plain text" {
		t.Fatalf("formatTelegramLine = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 50)
	if got := truncate(s, 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 20); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}

func TestParseLevelDefault(t *testing.T) {
	t.Parallel()
	if got := parseLevel("nope", LevelInfo); got != LevelInfo {
		t.Fatalf("parseLevel = %v", got)
	}
	if got := parseLevel(" warning ", LevelInfo); got != LevelWarn {
		t.Fatalf("parseLevel = %v", got)
	}
}
