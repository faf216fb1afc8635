package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupRenamesKeysAndTagsService(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := Setup("autorepayd", "test", WithOutput(&buf), WithLevel("debug"))
	defer closer.Close()

	logger.Debug("sweep committed", "accounts", 3)

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]any{"message": "sweep committed", "severity": "DEBUG", "service": "autorepayd", "env": "test"} {
		if line[key] != want {
			t.Fatalf("unexpected %s: got %v want %v", key, line[key], want)
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp key missing: %v", line)
	}
}

func TestSetupWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autorepayd.log")
	var buf bytes.Buffer
	logger, closer := Setup("autorepayd", "", WithOutput(&buf), WithFile(path, 1, 1, 1))
	logger.Info("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), `"message":"hello"`) {
		t.Fatalf("log file missing line: %s", raw)
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("jwtSecret", "s3cret").Value.String(); got != RedactedValue {
		t.Fatalf("secret not masked: %q", got)
	}
	if got := MaskField("component", "keeper").Value.String(); got != "keeper" {
		t.Fatalf("allowlisted key masked: %q", got)
	}
	if got := MaskField("hmacSecret", "  ").Value.String(); got != "  " {
		t.Fatalf("blank value should pass through, got %q", got)
	}
}

func TestMaskAttributesOrdersAndMasks(t *testing.T) {
	got := MaskAttributes(map[string]string{"fee": "3", "account": "0xaa", "token": "abc"})
	if len(got) != 3 {
		t.Fatalf("unexpected attrs %v", got)
	}
	want := []string{"account=0xaa", "fee=3", "token=" + RedactedValue}
	for i, attr := range got {
		if s := attr.(slog.Attr).String(); s != want[i] {
			t.Fatalf("attr %d: got %q want %q", i, s, want[i])
		}
	}
}

func TestEngineAmountsAreNotMasked(t *testing.T) {
	for _, key := range []string{"amount", "totalApplied", "pooledBalance", "runId"} {
		if got := MaskField(key, "42").Value.String(); got != "42" {
			t.Fatalf("%s should be allowlisted, got %q", key, got)
		}
	}
}
