package keysource

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a secret from a key-source spec:
//
//	env:NAME    read the named environment variable
//	file:PATH   read the file contents, trailing whitespace trimmed
//	prompt      read interactively from the terminal, echo disabled
//
// Anything else is treated as the literal secret, which is only sensible
// for development configs. The value is cached after the first successful
// resolution so repeated calls reuse the same secret.
type Source struct {
	spec   string
	label  string
	prompt func(label string) (string, error)

	once  sync.Once
	value string
	err   error
}

// New constructs a source for the given spec. The label names the secret
// in prompts and error messages ("fee payer seed", "gateway auth secret").
func New(spec, label string) *Source {
	return &Source{
		spec:   strings.TrimSpace(spec),
		label:  label,
		prompt: promptTerminal,
	}
}

// Get returns the cached secret or resolves it on first call. Empty or
// whitespace-only secrets are rejected no matter where they came from.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
		if s.err == nil && strings.TrimSpace(s.value) == "" {
			s.value, s.err = "", fmt.Errorf("%s resolved to an empty value", s.label)
		}
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	switch {
	case s.spec == "":
		return "", fmt.Errorf("%s not configured", s.label)
	case strings.HasPrefix(s.spec, "env:"):
		name := strings.TrimPrefix(s.spec, "env:")
		value, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("%s: environment variable %s is not set", s.label, name)
		}
		return value, nil
	case strings.HasPrefix(s.spec, "file:"):
		path := strings.TrimPrefix(s.spec, "file:")
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("%s: %w", s.label, err)
		}
		return strings.TrimRight(string(raw), "\r\n"), nil
	case s.spec == "prompt":
		return s.prompt(s.label)
	default:
		return s.spec, nil
	}
}

func promptTerminal(label string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New(label + " requires an interactive terminal; use env: or file: instead")
	}
	fmt.Fprintf(os.Stderr, "Enter %s: ", label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	return string(raw), nil
}
