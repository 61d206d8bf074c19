package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	gatewayEnv    = "ESCROW_GATEWAY_URL"
	tokenEnv      = "ESCROW_TOKEN"
	callerEnv     = "ESCROW_CALLER"
	passphraseEnv = "ESCROW_KEY_PASSPHRASE"
)

var cliNow = time.Now

// globals holds the connection settings shared by every subcommand.
type globals struct {
	gateway string
	token   string
	caller  string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	g, rest, err := parseGlobals(args)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch rest[0] {
	case "keygen":
		return runKeygen(rest[1:], stdout, stderr)
	case "address":
		return runAddress(rest[1:], stdout, stderr)
	case "commitment":
		return runCommitment(rest[1:], stdout, stderr)
	case "sign-deposit":
		return runSignDeposit(rest[1:], stdout, stderr)
	case "sign-submit":
		return runSignSubmit(rest[1:], stdout, stderr)
	case "login":
		return runLogin(g, rest[1:], stdout, stderr)
	case "get":
		return runRequest(g, "GET", rest[1:], stdout, stderr)
	case "post":
		return runRequest(g, "POST", rest[1:], stdout, stderr)
	case "delete":
		return runRequest(g, "DELETE", rest[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

// parseGlobals consumes leading --gateway, --token and --caller flags.
func parseGlobals(args []string) (globals, []string, error) {
	g := globals{
		gateway: envOr(gatewayEnv, "http://127.0.0.1:8080"),
		token:   strings.TrimSpace(os.Getenv(tokenEnv)),
		caller:  strings.TrimSpace(os.Getenv(callerEnv)),
	}
	fs := flag.NewFlagSet("escrow-cli", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&g.gateway, "gateway", g.gateway, "gateway base URL")
	fs.StringVar(&g.token, "token", g.token, "bearer token from login")
	fs.StringVar(&g.caller, "caller", g.caller, "X-Caller address for gateways running without auth")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return g, []string{"help"}, nil
		}
		return g, nil, err
	}
	g.gateway = strings.TrimRight(strings.TrimSpace(g.gateway), "/")
	return g, fs.Args(), nil
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func usage() string {
	return strings.TrimSpace(`
Usage: escrow-cli [--gateway URL] [--token JWT] [--caller ADDRESS] <command> [flags]

Keys:
  keygen        --out PATH                      create an encrypted keystore
  address       --key PATH                      print the keystore address
Signing:
  commitment    --contractor ADDR --data D --salt S
  sign-deposit  --key PATH --instance ADDR --client ADDR --contract-id N --token ADDR
                --unit CONTRACTOR,AMOUNT,FEECONFIG[,DATAHASH] ... [--start-index N] [--expires +1h]
  sign-submit   --key PATH --instance ADDR --contractor ADDR --contract-id N --unit-id N
                --data-hash HASH [--expires +1h]
Gateway:
  login         --key PATH                      wallet login, prints a bearer token
  get PATH | post PATH [--body JSON|@file] | delete PATH`)
}
