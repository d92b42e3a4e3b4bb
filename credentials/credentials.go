// Package credentials resolves the four strings a session needs to talk to
// the encryption service: host, access key, secret signing key, and the
// RSA passphrase (srsa). Credentials are either supplied programmatically
// via functional options, or loaded from an INI-style profile file with
// environment-variable substitution.
package credentials

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sage-x-project/ubiq/internal/errs"
)

// Credentials bundles what a session factory needs to authenticate to the
// REST API and unwrap the data key it gets back.
type Credentials struct {
	Host             string
	AccessKeyID      string
	SecretSigningKey string
	SRSA             string
}

// Option mutates a Credentials under construction.
type Option func(*Credentials)

func WithHost(host string) Option { return func(c *Credentials) { c.Host = host } }
func WithAccessKeyID(id string) Option { return func(c *Credentials) { c.AccessKeyID = id } }
func WithSecretSigningKey(k string) Option { return func(c *Credentials) { c.SecretSigningKey = k } }
func WithSRSA(passphrase string) Option { return func(c *Credentials) { c.SRSA = passphrase } }

// New builds Credentials from options, for callers who don't want a
// profile file at all.
func New(opts ...Option) (Credentials, error) {
	var c Credentials
	for _, opt := range opts {
		opt(&c)
	}
	return c, validate(c)
}

func validate(c Credentials) error {
	switch {
	case c.Host == "":
		return errs.New(errs.InvalidArgument, "credentials: host is required")
	case c.AccessKeyID == "":
		return errs.New(errs.InvalidArgument, "credentials: access key id is required")
	case c.SecretSigningKey == "":
		return errs.New(errs.InvalidArgument, "credentials: secret signing key is required")
	case c.SRSA == "":
		return errs.New(errs.InvalidArgument, "credentials: srsa passphrase is required")
	}
	return nil
}

// profileEnvVar selects which profile to load from the credentials file
// when the caller doesn't pick one explicitly.
const profileEnvVar = "UBIQ_PROFILE"
const defaultProfile = "default"

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// substituteEnvVars replaces ${VAR} / ${VAR:default} references with the
// named environment variable's value, or the given default if it's unset.
func substituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name, def := parts[1], ""
		if len(parts) > 2 {
			def = parts[2]
		}
		if v := os.Getenv(name); v != "" {
			return v
		}
		return def
	})
}

// DefaultPath returns ~/.ubiq/credentials, the conventional profile file
// location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errs.Wrap(errs.InvalidArgument, "credentials: cannot resolve home directory", err)
	}
	return filepath.Join(home, ".ubiq", "credentials"), nil
}

// FromProfile loads Credentials for the named profile out of an INI-style
// file (sections in brackets, KEY=VALUE lines). profile may be empty, in
// which case UBIQ_PROFILE is consulted and "default" is the final fallback.
func FromProfile(path, profile string) (Credentials, error) {
	if profile == "" {
		profile = os.Getenv(profileEnvVar)
	}
	if profile == "" {
		profile = defaultProfile
	}

	f, err := os.Open(path)
	if err != nil {
		return Credentials{}, errs.Wrap(errs.InvalidArgument, "credentials: cannot open profile file", err)
	}
	defer f.Close()

	fields, err := parseSection(f, profile)
	if err != nil {
		return Credentials{}, err
	}

	c := Credentials{
		Host:             substituteEnvVars(fields["SERVER"]),
		AccessKeyID:      substituteEnvVars(fields["ACCESS_KEY_ID"]),
		SecretSigningKey: substituteEnvVars(fields["SECRET_SIGNING_KEY"]),
		SRSA:             substituteEnvVars(fields["SECRET_CRYPTO_ACCESS_KEY"]),
	}
	return c, validate(c)
}

func parseSection(f *os.File, profile string) (map[string]string, error) {
	wantHeader := fmt.Sprintf("[%s]", profile)
	fields := make(map[string]string)

	scanner := bufio.NewScanner(f)
	inSection := false
	found := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inSection = line == wantHeader
			if inSection {
				found = true
			}
			continue
		}
		if !inSection {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.TransportFailure, "credentials: error reading profile file", err)
	}
	if !found {
		return nil, errs.New(errs.InvalidArgument, "credentials: profile not found: "+profile)
	}
	return fields, nil
}
