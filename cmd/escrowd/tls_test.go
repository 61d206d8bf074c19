package main

import (
	"errors"
	"path/filepath"
	"testing"

	"workescrow/gateway/config"
)

func TestIsLoopbackAddress(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:8080": true,
		"[::1]:8080":     true,
		"0.0.0.0:8080":   false,
		":8080":          false,
		"10.1.2.3:8080":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddress(addr); got != want {
			t.Fatalf("isLoopbackAddress(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestBuildTLSConfig(t *testing.T) {
	cfg, err := buildTLSConfig(t.TempDir(), config.SecurityConfig{})
	if err != nil || cfg != nil {
		t.Fatalf("expected no TLS without files, got %v %v", cfg, err)
	}
	_, err = buildTLSConfig(t.TempDir(), config.SecurityConfig{TLSCertFile: "gateway.crt"})
	if !errors.Is(err, errPartialTLS) {
		t.Fatalf("expected partial TLS error, got %v", err)
	}
	if _, err := buildTLSConfig(t.TempDir(), config.SecurityConfig{TLSCertFile: "a.crt", TLSKeyFile: "a.key"}); err == nil {
		t.Fatalf("expected missing key pair to fail")
	}
}

func TestResolvePath(t *testing.T) {
	if got := resolvePath("/etc/escrowd", "tls/gw.crt"); got != filepath.Join("/etc/escrowd", "tls/gw.crt") {
		t.Fatalf("relative path not anchored: %q", got)
	}
	if got := resolvePath("/etc/escrowd", "/abs/gw.crt"); got != "/abs/gw.crt" {
		t.Fatalf("absolute path rewritten: %q", got)
	}
	if got := resolvePath("/etc/escrowd", "  "); got != "" {
		t.Fatalf("blank path should stay blank: %q", got)
	}
}
