package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"autorepay/cmd/internal/credential"
)

const (
	envURL   = "AUTOREPAY_URL"
	envToken = "AUTOREPAY_TOKEN"
)

type globals struct {
	url   string
	token string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	g := globals{url: defaultEndpoint()}
	rest, err := applyGlobalFlags(args, &g)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(rest) == 0 {
		printUsage(stderr)
		return 1
	}

	tokens := credential.NewSource(envToken)
	if g.token != "" {
		tokens = credential.Static(g.token)
	}
	c := newClient(g.url, tokens)

	switch rest[0] {
	case "deposit":
		return runDeposit(c, rest[1:], stdout, stderr)
	case "withdraw":
		return runWithdraw(c, rest[1:], stdout, stderr)
	case "position":
		return runPosition(c, rest[1:], stdout, stderr)
	case "positions":
		return runPositions(c, rest[1:], stdout, stderr)
	case "quote":
		return runQuote(c, rest[1:], stdout, stderr)
	case "sweep-status":
		return runSweepStatus(c, rest[1:], stdout, stderr)
	case "sweep-run":
		return runSweepRun(c, rest[1:], stdout, stderr)
	case "journal":
		return runJournal(c, rest[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: autorepay-cli [--url URL] [--token TOKEN] <command> [options]")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  deposit       --account ADDR --amount AMT [--idempotency-key KEY]")
	fmt.Fprintln(w, "  withdraw      --account ADDR --amount AMT [--idempotency-key KEY]")
	fmt.Fprintln(w, "  position      --account ADDR")
	fmt.Fprintln(w, "  positions")
	fmt.Fprintln(w, "  quote         --account ADDR --amount AMT")
	fmt.Fprintln(w, "  sweep-status")
	fmt.Fprintln(w, "  sweep-run     [--idempotency-key KEY]")
	fmt.Fprintln(w, "  journal       --account ADDR [--limit N]")
	fmt.Fprintln(w, "Amounts are integer base units and accept the 1.5e18 shorthand.")
	fmt.Fprintf(w, "The endpoint defaults to $%s; the token is read from $%s or prompted.\n", envURL, envToken)
}

func defaultEndpoint() string {
	if v := strings.TrimSpace(os.Getenv(envURL)); v != "" {
		return v
	}
	return "http://127.0.0.1:7080"
}

func applyGlobalFlags(args []string, g *globals) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		matched := false
		for _, name := range []string{"url", "token"} {
			flag := "--" + name
			var value string
			switch {
			case arg == flag:
				if i+1 >= len(args) {
					return nil, fmt.Errorf("missing value for %s", flag)
				}
				value = args[i+1]
				i++
			case strings.HasPrefix(arg, flag+"="):
				value = strings.TrimPrefix(arg, flag+"=")
			default:
				continue
			}
			if name == "url" {
				g.url = value
			} else {
				g.token = value
			}
			matched = true
			break
		}
		if !matched {
			out = append(out, arg)
		}
	}
	return out, nil
}
