package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testAccount = "0x00000000000000000000000000000000000000aa"

type capturedRequest struct {
	method string
	path   string
	query  string
	auth   string
	key    string
	body   map[string]string
}

func newTestServer(t *testing.T, status int, response string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var seen []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := capturedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			key:    r.Header.Get("Idempotency-Key"),
		}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			if err := json.Unmarshal(raw, &req.body); err != nil {
				t.Errorf("decode body: %v", err)
			}
		}
		seen = append(seen, req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func runCLI(t *testing.T, srv *httptest.Server, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--url", srv.URL, "--token=tok"}, args...)
	code := run(full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestDepositSendsAmountAndHeaders(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `{"net":"999700000000000000"}`)
	code, stdout, stderr := runCLI(t, srv, "deposit", "--account", testAccount, "--amount", "1e18", "--idempotency-key", "k-1")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if len(*seen) != 1 {
		t.Fatalf("expected one request, got %d", len(*seen))
	}
	req := (*seen)[0]
	wantPath := "/v1/positions/0x00000000000000000000000000000000000000AA/deposit"
	if req.method != http.MethodPost || !strings.EqualFold(req.path, wantPath) {
		t.Fatalf("unexpected request %s %s", req.method, req.path)
	}
	if req.auth != "Bearer tok" || req.key != "k-1" {
		t.Fatalf("unexpected headers auth=%q key=%q", req.auth, req.key)
	}
	if req.body["amount"] != "1000000000000000000" {
		t.Fatalf("unexpected amount %q", req.body["amount"])
	}
	if !strings.Contains(stdout, `"net": "999700000000000000"`) {
		t.Fatalf("expected indented output, got %q", stdout)
	}
}

func TestWithdrawOmitsIdempotencyKeyWhenUnset(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `{}`)
	if code, _, stderr := runCLI(t, srv, "withdraw", "--account", testAccount, "--amount", "250"); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	req := (*seen)[0]
	if !strings.HasSuffix(req.path, "/withdraw") || req.key != "" {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.body["amount"] != "250" {
		t.Fatalf("unexpected amount %q", req.body["amount"])
	}
}

func TestReadCommandsHitExpectedRoutes(t *testing.T) {
	cases := []struct {
		args   []string
		method string
		path   string
		query  string
	}{
		{args: []string{"positions"}, method: http.MethodGet, path: "/v1/positions"},
		{args: []string{"position", "--account", testAccount}, method: http.MethodGet, path: "/v1/positions/" + testAccount},
		{args: []string{"quote", "--account", testAccount, "--amount", "0.5e18"}, method: http.MethodPost, path: "/v1/quotes/deposit"},
		{args: []string{"sweep-status"}, method: http.MethodGet, path: "/v1/sweep"},
		{args: []string{"sweep-run"}, method: http.MethodPost, path: "/v1/sweep/run"},
		{args: []string{"journal", "--account", testAccount, "--limit", "5"}, method: http.MethodGet, path: "/v1/journal/" + testAccount, query: "limit=5"},
	}
	for _, tc := range cases {
		t.Run(tc.args[0], func(t *testing.T) {
			srv, seen := newTestServer(t, http.StatusOK, `{"ok":true}`)
			if code, _, stderr := runCLI(t, srv, tc.args...); code != 0 {
				t.Fatalf("exit %d: %s", code, stderr)
			}
			req := (*seen)[0]
			if req.method != tc.method || !strings.EqualFold(req.path, tc.path) || req.query != tc.query {
				t.Fatalf("unexpected request %+v", req)
			}
		})
	}
}

func TestQuoteBody(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `{}`)
	if code, _, stderr := runCLI(t, srv, "quote", "--account", testAccount, "--amount", "0.5e18"); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	body := (*seen)[0].body
	if body["amount"] != "500000000000000000" || !strings.EqualFold(body["account"], testAccount) {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestServerErrorIsReported(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusUnprocessableEntity, `{"error":"insufficient collateral"}`)
	code, stdout, stderr := runCLI(t, srv, "withdraw", "--account", testAccount, "--amount", "1")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if stdout != "" {
		t.Fatalf("unexpected stdout %q", stdout)
	}
	if !strings.Contains(stderr, "422") || !strings.Contains(stderr, "insufficient collateral") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
}

func TestArgumentValidation(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `{}`)
	cases := []struct {
		name string
		args []string
		want string
	}{
		{name: "no_command", args: nil, want: "Usage:"},
		{name: "unknown", args: []string{"borrow"}, want: "Unknown command: borrow"},
		{name: "missing_account", args: []string{"deposit", "--amount", "1"}, want: "--account is required"},
		{name: "bad_account", args: []string{"position", "--account", "0x1234"}, want: "20-byte hex address"},
		{name: "missing_amount", args: []string{"deposit", "--account", testAccount}, want: "--amount is required"},
		{name: "fractional_amount", args: []string{"withdraw", "--account", testAccount, "--amount", "1.23e-1"}, want: "not an integer"},
		{name: "negative_limit", args: []string{"journal", "--account", testAccount, "--limit", "-1"}, want: "must not be negative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, srv, tc.args...)
			if code != 1 {
				t.Fatalf("expected exit 1, got %d", code)
			}
			if !strings.Contains(stderr, tc.want) {
				t.Fatalf("stderr %q does not contain %q", stderr, tc.want)
			}
		})
	}
	if len(*seen) != 0 {
		t.Fatalf("invalid arguments must not reach the server")
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "100", want: "100"},
		{input: "00100", want: "100"},
		{input: "1_000", want: "1000"},
		{input: "100e18", want: "100000000000000000000"},
		{input: "0.5e18", want: "500000000000000000"},
		{input: "1.0", want: "1"},
		{input: "1.23e-1", wantErr: true},
		{input: "-10", wantErr: true},
		{input: "0", wantErr: true},
		{input: "abc", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := parseAmount(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got.String() != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	g := globals{url: "default"}
	rest, err := applyGlobalFlags([]string{"--url=http://x", "positions", "--token", "abc"}, &g)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if g.url != "http://x" || g.token != "abc" {
		t.Fatalf("unexpected globals %+v", g)
	}
	if len(rest) != 1 || rest[0] != "positions" {
		t.Fatalf("unexpected rest %v", rest)
	}
	if _, err := applyGlobalFlags([]string{"--url"}, &g); err == nil {
		t.Fatalf("expected missing value error")
	}
}
