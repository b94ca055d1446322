package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDebugLoggerFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	logger, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger failed: %v", err)
	}

	logger.SetFilter("provider")
	logger.Log("provider", "state Connecting")
	logger.Log("replay", "row 12")
	logger.Log("mqtt", "publish dropped")
	logger.Close()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	str := string(content)

	if !strings.Contains(str, "[provider] state Connecting") {
		t.Error("expected provider line")
	}
	if !strings.Contains(str, "[replay] row 12") {
		t.Error("expected replay line through related filter")
	}
	if strings.Contains(str, "publish dropped") {
		t.Error("mqtt line should have been filtered")
	}
	if !strings.Contains(str, "Debug logging ended") {
		t.Error("expected footer")
	}
}

func TestDebugLoggerRX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	logger, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger failed: %v", err)
	}
	SetGlobalDebugLogger(logger)
	defer SetGlobalDebugLogger(nil)

	DebugRX("bridge", []byte(`{"Speed":12.5}`))
	DebugLog("bridge", "frame %d", 7)
	logger.Close()

	content, _ := os.ReadFile(path)
	str := string(content)
	if !strings.Contains(str, "RX (14 bytes)") {
		t.Errorf("expected RX header, got: %s", str)
	}
	if !strings.Contains(str, `{"Speed":12.5}`) {
		t.Error("expected ASCII column in hex dump")
	}
	if !strings.Contains(str, "frame 7") {
		t.Error("expected global DebugLog line")
	}
}

func TestHexDump(t *testing.T) {
	if got := hexDump(nil); got != "    (empty)" {
		t.Errorf("hexDump(nil) = %q", got)
	}

	data := make([]byte, 20)
	data[0] = 'A'
	lines := strings.Split(hexDump(data), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "    0000: 41 00") {
		t.Errorf("unexpected first line %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "    0010: ") {
		t.Errorf("unexpected second line %q", lines[1])
	}
}

func TestNilDebugLogger(t *testing.T) {
	SetGlobalDebugLogger(nil)
	DebugLog("provider", "ignored")
	DebugError("provider", "poll", os.ErrClosed)

	var l *DebugLogger
	l.SetFilter("mqtt")
	if err := l.Close(); err != nil {
		t.Errorf("Close on nil logger returned %v", err)
	}
}
