package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a keystore passphrase from an environment variable or
// by prompting the operator. The value is cached after the first successful
// retrieval.
type Source struct {
	envVar string
	label  string

	once  sync.Once
	value string
	err   error

	// prompt reads a secret from the terminal; replaced in tests.
	prompt func(message string) (string, bool, error)
}

// NewSource constructs a passphrase source that checks envVar before
// interactively prompting on the terminal. label names the keystore in
// prompts and errors, e.g. "owner keystore".
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "keystore"
	}
	return &Source{envVar: strings.TrimSpace(envVar), label: label, prompt: terminalPrompt}
}

// Get returns the cached passphrase or resolves it if this is the first call.
// Whitespace-only passphrases are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve(false)
	})
	return s.value, s.err
}

// GetNew resolves a passphrase for a keystore that is about to be created.
// Interactive operators are asked to type it twice.
func (s *Source) GetNew() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve(true)
	})
	return s.value, s.err
}

func (s *Source) resolve(confirm bool) (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}

	value, interactive, err := s.prompt(fmt.Sprintf("Enter %s passphrase: ", s.label))
	if !interactive {
		if s.envVar != "" {
			return "", fmt.Errorf("%s passphrase required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s passphrase required and no terminal available", s.label)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s passphrase cannot be empty", s.label)
	}
	if confirm {
		again, _, err := s.prompt(fmt.Sprintf("Repeat %s passphrase: ", s.label))
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		if again != value {
			return "", errors.New("passphrases do not match")
		}
	}
	return value, nil
}

func terminalPrompt(message string) (string, bool, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", false, nil
	}
	fmt.Fprint(os.Stderr, message)
	bytes, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	return string(bytes), true, err
}
