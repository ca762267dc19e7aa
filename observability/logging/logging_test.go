package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupWriterRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWriter("dealsd", "test", &buf)
	logger.Info("deal transition", slog.String("op", "claim"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env", "op"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing key %q in %v", key, line)
		}
	}
	if line["severity"] != "INFO" || line["service"] != "dealsd" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("signature", "0xdeadbeef"); got.Value.String() != RedactedValue {
		t.Fatalf("signature must be redacted, got %q", got.Value.String())
	}
	if got := MaskField("offer_id", "0x01"); got.Value.String() != "0x01" {
		t.Fatalf("offer_id is allowlisted, got %q", got.Value.String())
	}
	if got := MaskField("permit", " "); got.Value.String() != " " {
		t.Fatalf("empty values pass through, got %q", got.Value.String())
	}
	if !IsAllowlisted(" Status ") {
		t.Fatalf("allowlist must be case insensitive")
	}
}
