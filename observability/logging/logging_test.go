package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("escrowd", "dev", Options{Level: "debug", Output: &buf})
	logger.Debug("unit claimed", "operation", "claim")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env", "operation"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("expected key %q in %v", key, line)
		}
	}
	if line["severity"] != "DEBUG" {
		t.Fatalf("unexpected severity %v", line["severity"])
	}
	if line["service"] != "escrowd" {
		t.Fatalf("unexpected service %v", line["service"])
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("escrowd", "", Options{Output: &buf})
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line emitted at info level: %q", buf.String())
	}
	if ParseLevel("WARN") != slog.LevelWarn || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unexpected level parsing")
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("hmacSecret", "s3cr3t"); attr.Value.String() != RedactedValue {
		t.Fatalf("secret not masked: %v", attr)
	}
	if attr := MaskField("operation", "claim"); attr.Value.String() != "claim" {
		t.Fatalf("plain field masked: %v", attr)
	}
	if attr := MaskField("ownerPassphrase", ""); attr.Value.String() != "" {
		t.Fatalf("empty value should stay empty: %v", attr)
	}
}

func TestRedactDSN(t *testing.T) {
	cases := map[string]string{
		"postgres://escrow:hunter2@db:5432/audit?sslmode=disable": "postgres://escrow:" + RedactedValue + "@db:5432/audit?sslmode=disable",
		"host=db user=escrow password=hunter2 dbname=audit":       "host=db user=escrow password=" + RedactedValue + " dbname=audit",
		"file:audit.db?cache=shared":                              "file:audit.db?cache=shared",
		"":                                                        "",
	}
	for in, want := range cases {
		if got := RedactDSN(in); got != want {
			t.Fatalf("RedactDSN(%q) = %q, want %q", in, got, want)
		}
	}
}
