package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

type challengeResponse struct {
	Nonce   string `json:"nonce"`
	Message string `json:"message"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Scopes    []string  `json:"scopes"`
}

type gatewayError struct {
	Status  int
	Message string
}

func (e *gatewayError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned %d", e.Status)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

// do sends body to the gateway and returns the raw response payload. Non-2xx
// responses become a gatewayError carrying the server's error message.
func (g globals) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.gateway+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case g.token != "":
		req.Header.Set("Authorization", "Bearer "+g.token)
	case g.caller != "":
		req.Header.Set("X-Caller", g.caller)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(payload, &apiErr)
		return nil, &gatewayError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	return payload, nil
}

func runLogin(g globals, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("login", stderr)
	keyPath := fs.String("key", "", "keystore of the account logging in")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ctx := context.Background()
	account := key.Address()

	reqBody, _ := json.Marshal(map[string]string{"account": account.Hex()})
	raw, err := g.do(ctx, http.MethodPost, "/v1/auth/challenge", reqBody)
	if err != nil {
		return printError(stderr, err.Error())
	}
	var challenge challengeResponse
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return printError(stderr, fmt.Sprintf("decode challenge: %v", err))
	}
	sig, err := key.SignMessage([]byte(challenge.Message))
	if err != nil {
		return printError(stderr, err.Error())
	}
	reqBody, _ = json.Marshal(map[string]string{
		"account":   account.Hex(),
		"nonce":     challenge.Nonce,
		"signature": hexutil.Encode(sig),
	})
	raw, err = g.do(ctx, http.MethodPost, "/v1/auth/login", reqBody)
	if err != nil {
		return printError(stderr, err.Error())
	}
	var session sessionResponse
	if err := json.Unmarshal(raw, &session); err != nil {
		return printError(stderr, fmt.Sprintf("decode session: %v", err))
	}
	fmt.Fprintln(stdout, session.Token)
	fmt.Fprintf(stderr, "Logged in as %s (scopes: %s, expires %s)\n",
		account.Hex(), strings.Join(session.Scopes, " "), session.ExpiresAt.Format(time.RFC3339))
	return 0
}

func runRequest(g globals, method string, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return printError(stderr, fmt.Sprintf("%s requires a path", strings.ToLower(method)))
	}
	path := args[0]
	fs := newFlagSet(strings.ToLower(method), stderr)
	bodyArg := fs.String("body", "", "JSON body or @file")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	var body []byte
	if method == http.MethodPost {
		var err error
		body, err = readBody(*bodyArg)
		if err != nil {
			return printError(stderr, err.Error())
		}
	} else if *bodyArg != "" {
		return printError(stderr, "--body is only accepted by post")
	}
	raw, err := g.do(context.Background(), method, path, body)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if len(raw) == 0 {
		return 0
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		stdout.Write(raw)
		return 0
	}
	pretty.WriteByte('\n')
	stdout.Write(pretty.Bytes())
	return 0
}

func readBody(arg string) ([]byte, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return []byte("{}"), nil
	}
	if strings.HasPrefix(arg, "@") {
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		arg = string(data)
	}
	if !json.Valid([]byte(arg)) {
		return nil, fmt.Errorf("--body is not valid JSON")
	}
	return []byte(arg), nil
}
