package passphrase

import (
	"strings"
	"testing"
)

func scripted(answers ...string) func(string) (string, bool, error) {
	return func(string) (string, bool, error) {
		if len(answers) == 0 {
			return "", true, nil
		}
		next := answers[0]
		answers = answers[1:]
		return next, true, nil
	}
}

func TestEnvironmentWins(t *testing.T) {
	t.Setenv("TEST_OWNER_PASSPHRASE", "from-env")
	src := NewSource("TEST_OWNER_PASSPHRASE", "owner keystore")
	src.prompt = func(string) (string, bool, error) {
		t.Fatalf("prompt should not run when the variable is set")
		return "", false, nil
	}
	got, err := src.Get()
	if err != nil || got != "from-env" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestEmptyEnvironmentRejected(t *testing.T) {
	t.Setenv("TEST_OWNER_PASSPHRASE", "  ")
	if _, err := NewSource("TEST_OWNER_PASSPHRASE", "owner keystore").Get(); err == nil {
		t.Fatalf("expected blank variable to be rejected")
	}
}

func TestNoTerminalNamesVariable(t *testing.T) {
	src := NewSource("TEST_UNSET_PASSPHRASE", "owner keystore")
	src.prompt = func(string) (string, bool, error) { return "", false, nil }
	_, err := src.Get()
	if err == nil || !strings.Contains(err.Error(), "TEST_UNSET_PASSPHRASE") {
		t.Fatalf("expected error naming the variable, got %v", err)
	}
}

func TestGetNewConfirms(t *testing.T) {
	src := NewSource("", "signer keystore")
	src.prompt = scripted("secret", "other")
	if _, err := src.GetNew(); err == nil {
		t.Fatalf("expected mismatch error")
	}

	src = NewSource("", "signer keystore")
	src.prompt = scripted("secret", "secret")
	got, err := src.GetNew()
	if err != nil || got != "secret" {
		t.Fatalf("got %q, %v", got, err)
	}
	// Cached after the first resolution.
	src.prompt = scripted("changed")
	if again, _ := src.Get(); again != "secret" {
		t.Fatalf("expected cached value, got %q", again)
	}
}
