package credential

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves an API bearer token from an environment variable or an
// interactive prompt. The first result is cached.
type Source struct {
	envVar string
	prompt string

	lookupEnv  func(string) (string, bool)
	isTerminal func() bool
	readSecret func() ([]byte, error)
	promptOut  io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource returns a token source that checks envVar before prompting on
// stderr.
func NewSource(envVar string) *Source {
	return &Source{
		envVar:     strings.TrimSpace(envVar),
		prompt:     "API token: ",
		lookupEnv:  os.LookupEnv,
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
		readSecret: func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) },
		promptOut:  os.Stderr,
	}
}

// Static returns a source that always yields token. An empty token means no
// Authorization header is sent.
func Static(token string) *Source {
	s := &Source{}
	s.once.Do(func() { s.value = strings.TrimSpace(token) })
	return s
}

// Get returns the cached token or resolves it on first use.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookupEnv(s.envVar); ok {
				value = strings.TrimSpace(value)
				if value == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		if !s.isTerminal() {
			if s.envVar != "" {
				s.err = fmt.Errorf("api token required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("api token required and no terminal available")
			}
			return
		}

		fmt.Fprint(s.promptOut, s.prompt)
		raw, err := s.readSecret()
		fmt.Fprintln(s.promptOut)
		if err != nil {
			s.err = fmt.Errorf("read token: %w", err)
			return
		}
		token := strings.TrimSpace(string(raw))
		if token == "" {
			s.err = errors.New("api token cannot be empty")
			return
		}
		s.value = token
	})
	return s.value, s.err
}
