package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runDeposit(c *client, args []string, stdout, stderr io.Writer) int {
	return runMovement(c, "deposit", args, stdout, stderr)
}

func runWithdraw(c *client, args []string, stdout, stderr io.Writer) int {
	return runMovement(c, "withdraw", args, stdout, stderr)
}

func runMovement(c *client, action string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(action, stderr)
	var account, amountStr, key string
	fs.StringVar(&account, "account", "", "account address (0x-prefixed)")
	fs.StringVar(&amountStr, "amount", "", "amount in base units (supports 1e18 shorthand)")
	fs.StringVar(&key, "idempotency-key", "", "optional idempotency key")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := parseAccount(account)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	amount, err := parseAmount(amountStr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	path := "/v1/positions/" + addr.Hex() + "/" + action
	data, err := c.call(context.Background(), http.MethodPost, path, map[string]string{"amount": amount.String()}, key)
	return emit(data, err, stdout, stderr)
}

func runPosition(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("position", stderr)
	var account string
	fs.StringVar(&account, "account", "", "account address (0x-prefixed)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := parseAccount(account)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	data, err := c.call(context.Background(), http.MethodGet, "/v1/positions/"+addr.Hex(), nil, "")
	return emit(data, err, stdout, stderr)
}

func runPositions(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("positions", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	data, err := c.call(context.Background(), http.MethodGet, "/v1/positions", nil, "")
	return emit(data, err, stdout, stderr)
}

func runQuote(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("quote", stderr)
	var account, amountStr string
	fs.StringVar(&account, "account", "", "account address (0x-prefixed)")
	fs.StringVar(&amountStr, "amount", "", "gross deposit in base units (supports 1e18 shorthand)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := parseAccount(account)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	amount, err := parseAmount(amountStr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	payload := map[string]string{"account": addr.Hex(), "amount": amount.String()}
	data, err := c.call(context.Background(), http.MethodPost, "/v1/quotes/deposit", payload, "")
	return emit(data, err, stdout, stderr)
}

func runSweepStatus(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("sweep-status", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	data, err := c.call(context.Background(), http.MethodGet, "/v1/sweep", nil, "")
	return emit(data, err, stdout, stderr)
}

func runSweepRun(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("sweep-run", stderr)
	var key string
	fs.StringVar(&key, "idempotency-key", "", "optional idempotency key")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	data, err := c.call(context.Background(), http.MethodPost, "/v1/sweep/run", nil, key)
	return emit(data, err, stdout, stderr)
}

func runJournal(c *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("journal", stderr)
	var account string
	var limit int
	fs.StringVar(&account, "account", "", "account address (0x-prefixed)")
	fs.IntVar(&limit, "limit", 0, "maximum entries to return (server default when 0)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := parseAccount(account)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if limit < 0 {
		fmt.Fprintln(stderr, "Error: --limit must not be negative")
		return 1
	}
	path := "/v1/journal/" + addr.Hex()
	if limit > 0 {
		path += "?" + url.Values{"limit": []string{strconv.Itoa(limit)}}.Encode()
	}
	data, err := c.call(context.Background(), http.MethodGet, path, nil, "")
	return emit(data, err, stdout, stderr)
}

func emit(data []byte, err error, stdout, stderr io.Writer) int {
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") != nil {
		stdout.Write(data)
		return 0
	}
	pretty.WriteByte('\n')
	stdout.Write(pretty.Bytes())
	return 0
}

func parseAccount(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("--account is required")
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("--account must be a 0x-prefixed 20-byte hex address")
	}
	return common.HexToAddress(trimmed), nil
}

// parseAmount accepts plain integers and the mantissa-exponent shorthand
// (1.5e18). The result must be a positive integer.
func parseAmount(value string) (*big.Int, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if cleaned == "" {
		return nil, fmt.Errorf("--amount is required")
	}
	base, exp := cleaned, 0
	if idx := strings.IndexAny(cleaned, "eE"); idx >= 0 {
		parsed, err := strconv.Atoi(cleaned[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid exponent in %q", value)
		}
		base, exp = cleaned[:idx], parsed
	}
	if whole, frac, ok := strings.Cut(base, "."); ok {
		frac = strings.TrimRight(frac, "0")
		base = whole + frac
		exp -= len(frac)
	}
	if base == "" || strings.HasPrefix(base, "-") {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	amount, ok := new(big.Int).SetString(strings.TrimPrefix(base, "+"), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if exp < 0 {
		return nil, fmt.Errorf("amount %q is not an integer", value)
	}
	if exp > 0 {
		amount.Mul(amount, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}
