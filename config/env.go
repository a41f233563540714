// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"bytes"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable read by LoadFromEnv.
const EnvPrefix = "RPLOGIN_"

// Google endpoints used when the corresponding variables are unset.
const (
	GoogleAuthorizationURL = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenURL         = "https://oauth2.googleapis.com/token"
	GoogleTokenInfoURL     = "https://oauth2.googleapis.com/tokeninfo"
)

// providerEnv holds raw env values for the provider configuration. Blank
// endpoints fall back to the Google constants above.
type providerEnv struct {
	AuthorizationURL    string        `env:"AUTHORIZATION_URL"`
	TokenURL            string        `env:"TOKEN_URL"`
	TokenInfoURL        string        `env:"TOKEN_INFO_URL"`
	ClientID            string        `env:"CLIENT_ID"`
	ClientSecret        string        `env:"CLIENT_SECRET"`
	DefaultRedirectURL  string        `env:"DEFAULT_REDIRECT_URL"`
	AllowedRedirectURLs []string      `env:"ALLOWED_REDIRECT_URLS" envSeparator:","`
	Scopes              []string      `env:"SCOPES"                envSeparator:","`
	Issuers             []string      `env:"ISSUERS"               envSeparator:","`
	JWKSURL             string        `env:"JWKS_URL"`
	JWKSPublicKeys      string        `env:"JWKS_PUBLIC_KEYS"`
	ProviderCA          string        `env:"PROVIDER_CA"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT"       envDefault:"5s"`
	StateTTL            time.Duration `env:"STATE_TTL"             envDefault:"10m"`
}

// LoadFromEnv builds a validated Config from RPLOGIN_* environment variables.
// Provider endpoints default to Google's. Any blank required value fails.
func LoadFromEnv() (*Config, error) {
	const op = "config.LoadFromEnv"
	var raw providerEnv
	if err := env.ParseWithOptions(&raw, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("%s: unable to parse environment: %w", op, err)
	}

	publicKeys, err := splitPEM(raw.JWKSPublicKeys)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	opts := []Option{
		WithAllowedRedirectURLs(trimCSV(raw.AllowedRedirectURLs)),
		WithJWKSPublicKeys(publicKeys),
		WithIssuers(trimCSV(raw.Issuers)),
		WithJWKSURL(strings.TrimSpace(raw.JWKSURL)),
		WithProviderCA(raw.ProviderCA),
		WithRequestTimeout(raw.RequestTimeout),
		WithStateTTL(raw.StateTTL),
	}
	if scopes := trimCSV(raw.Scopes); len(scopes) > 0 {
		opts = append(opts, WithScopes(scopes))
	}

	c, err := New(
		orDefault(raw.AuthorizationURL, GoogleAuthorizationURL),
		orDefault(raw.TokenURL, GoogleTokenURL),
		orDefault(raw.TokenInfoURL, GoogleTokenInfoURL),
		strings.TrimSpace(raw.ClientID),
		ClientSecret(raw.ClientSecret),
		strings.TrimSpace(raw.DefaultRedirectURL),
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// trimCSV removes empty entries from a string slice.
func trimCSV(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// orDefault returns the trimmed value, or def when it is blank.
func orDefault(value, def string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return def
}

// splitPEM splits one or more concatenated PEM blocks into one string per
// block. Text that is not a PEM block is an error.
func splitPEM(data string) ([]string, error) {
	const op = "config.splitPEM"
	rest := []byte(strings.TrimSpace(data))
	var blocks []string
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("%s: jwks public keys are not PEM encoded: %w", op, ErrInvalidParameter)
		}
		blocks = append(blocks, string(pem.EncodeToMemory(block)))
		rest = bytes.TrimSpace(rest)
	}
	return blocks, nil
}
