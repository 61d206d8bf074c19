package main

import (
	"fmt"
	"io"
	"strings"

	"workescrow/cmd/internal/passphrase"
	"workescrow/crypto"
)

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	var out string
	var light bool
	fs.StringVar(&out, "out", "", "keystore file to create")
	fs.BoolVar(&light, "light", false, "use the fast scrypt cost (test keys only)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(out) == "" {
		return printError(stderr, "--out is required")
	}
	pass, err := passphrase.NewSource(passphraseEnv, "signer keystore").GetNew()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	params := crypto.StandardKeystoreParams
	if light {
		params = crypto.LightKeystoreParams
	}
	if err := crypto.SaveToKeystoreWithParams(out, key, pass, params); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, key.Address().Hex())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	var keyPath string
	fs.StringVar(&keyPath, "key", "", "keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey(keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, key.Address().Hex())
	return 0
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("--key is required")
	}
	pass, err := passphrase.NewSource(passphraseEnv, "signer keystore").Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}
