// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-multierror"
)

// ClientSecret is an oauth client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

const (
	// DefaultRequestTimeout bounds each outbound call to the provider.
	DefaultRequestTimeout = 5 * time.Second

	// DefaultStateTTL is how long an issued login state stays valid.
	DefaultStateTTL = 10 * time.Minute

	// MaxRedirectURLLength is the longest redirect URL accepted from callers.
	MaxRedirectURLLength = 500
)

// DefaultScopes are requested on every authorization URL unless overridden
// with WithScopes.
var DefaultScopes = []string{"openid", "email", "profile"}

// Config is the relying party configuration for a single identity provider.
// It is built once at startup by New or LoadFromEnv, validated, and then
// shared by pointer. Callers must not modify a Config after construction.
type Config struct {
	// AuthorizationURL is the provider's authorization endpoint.
	AuthorizationURL string

	// TokenURL is the provider's token endpoint used for the code exchange.
	TokenURL string

	// TokenInfoURL is the provider's id_token introspection endpoint.
	TokenInfoURL string

	// ClientID is the relying party id registered with the provider. It is
	// also the only audience accepted in identity tokens.
	ClientID string

	// ClientSecret is the relying party secret
	ClientSecret ClientSecret

	// DefaultRedirectURL is used when a login is started without an explicit
	// redirect URL. It is always a registered redirect URL.
	DefaultRedirectURL string

	// AllowedRedirectURLs are additional registered redirect URLs.
	AllowedRedirectURLs []string

	// Scopes requested of the provider.
	Scopes []string

	// Issuers is an optional list of trusted "iss" claim values.
	Issuers []string

	// JWKSURL is an optional JSON Web Key Set URL. When set, identity tokens
	// are also verified locally against the provider's signing keys.
	JWKSURL string

	// JWKSPublicKeys are optional PEM-encoded public keys used instead of
	// JWKSURL to verify identity tokens locally.
	JWKSPublicKeys []string

	// ProviderCA is an optional CA cert to use when sending requests to the provider.
	ProviderCA string

	// RequestTimeout bounds each outbound provider request.
	RequestTimeout time.Duration

	// StateTTL is the lifetime of an issued login state.
	StateTTL time.Duration
}

// New composes a new Config and validates it.
// Supported options:
//   - WithAllowedRedirectURLs
//   - WithScopes
//   - WithIssuers
//   - WithJWKSURL
//   - WithJWKSPublicKeys
//   - WithProviderCA
//   - WithRequestTimeout
//   - WithStateTTL
func New(authorizationURL, tokenURL, tokenInfoURL, clientID string, clientSecret ClientSecret, defaultRedirectURL string, opt ...Option) (*Config, error) {
	const op = "config.New"
	opts := getConfigOpts(opt...)
	c := &Config{
		AuthorizationURL:    authorizationURL,
		TokenURL:            tokenURL,
		TokenInfoURL:        tokenInfoURL,
		ClientID:            clientID,
		ClientSecret:        clientSecret,
		DefaultRedirectURL:  defaultRedirectURL,
		AllowedRedirectURLs: opts.withAllowedRedirectURLs,
		Scopes:              opts.withScopes,
		Issuers:             opts.withIssuers,
		JWKSURL:             opts.withJWKSURL,
		JWKSPublicKeys:      opts.withJWKSPublicKeys,
		ProviderCA:          opts.withProviderCA,
		RequestTimeout:      opts.withRequestTimeout,
		StateTTL:            opts.withStateTTL,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the configuration. Every required field must be non-blank and
// every URL must parse; all violations are reported together.
func (c *Config) Validate() error {
	const op = "config.(Config).Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	required := []struct {
		name  string
		value string
	}{
		{"authorization URL", c.AuthorizationURL},
		{"token URL", c.TokenURL},
		{"token info URL", c.TokenInfoURL},
		{"client id", c.ClientID},
		{"client secret", string(c.ClientSecret)},
		{"default redirect URL", c.DefaultRedirectURL},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			result = multierror.Append(result, fmt.Errorf("%s: %s is empty: %w", op, r.name, ErrInvalidParameter))
		}
	}
	for _, u := range []string{c.AuthorizationURL, c.TokenURL, c.TokenInfoURL, c.JWKSURL} {
		if u == "" {
			continue
		}
		if err := validateEndpoint(u); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", op, err))
		}
	}
	for _, u := range c.RegisteredRedirectURLs() {
		if err := validateRedirect(u); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", op, err))
		}
	}
	if c.JWKSURL != "" && len(c.JWKSPublicKeys) > 0 {
		result = multierror.Append(result, fmt.Errorf("%s: jwks URL and jwks public keys are both set: %w", op, ErrInvalidParameter))
	}
	for i, k := range c.JWKSPublicKeys {
		if block, _ := pem.Decode([]byte(k)); block == nil {
			result = multierror.Append(result, fmt.Errorf("%s: jwks public key %d is not PEM encoded: %w", op, i, ErrInvalidParameter))
		}
	}
	if len(c.Scopes) == 0 {
		result = multierror.Append(result, fmt.Errorf("%s: scopes are empty: %w", op, ErrInvalidParameter))
	}
	if c.RequestTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("%s: request timeout not greater than zero: %w", op, ErrInvalidParameter))
	}
	if c.StateTTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("%s: state ttl not greater than zero: %w", op, ErrInvalidParameter))
	}
	return result.ErrorOrNil()
}

// RegisteredRedirectURLs returns the default redirect URL followed by any
// additional allowed redirect URLs.
func (c *Config) RegisteredRedirectURLs() []string {
	urls := make([]string, 0, len(c.AllowedRedirectURLs)+1)
	if c.DefaultRedirectURL != "" {
		urls = append(urls, c.DefaultRedirectURL)
	}
	for _, u := range c.AllowedRedirectURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// CheckRedirectURL verifies that u is an https URL of bounded length that
// exactly matches one of the registered redirect URLs.
func (c *Config) CheckRedirectURL(u string) error {
	const op = "config.(Config).CheckRedirectURL"
	if err := validateRedirect(u); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, registered := range c.RegisteredRedirectURLs() {
		if registered == u {
			return nil
		}
	}
	return fmt.Errorf("%s: redirect URL is not registered: %w", op, ErrInvalidRedirectURL)
}

// HTTPClient creates a new http client for the provider configured. The
// client uses a pooled cleanhttp transport and, when ProviderCA is set, trusts
// only that CA.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "config.(Config).HTTPClient"
	tr := cleanhttp.DefaultPooledTransport()
	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}
	return &http.Client{
		Transport: tr,
		Timeout:   c.RequestTimeout,
	}, nil
}

func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("endpoint %q is invalid: %w", raw, ErrInvalidParameter)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("endpoint %q scheme is not http or https: %w", raw, ErrInvalidParameter)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint %q has no host: %w", raw, ErrInvalidParameter)
	}
	return nil
}

func validateRedirect(raw string) error {
	if len(raw) > MaxRedirectURLLength {
		return fmt.Errorf("redirect URL longer than %d characters: %w", MaxRedirectURLLength, ErrInvalidRedirectURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("redirect URL is invalid: %w", ErrInvalidRedirectURL)
	}
	if u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("redirect URL %q is not an https URL: %w", raw, ErrInvalidRedirectURL)
	}
	if u.Fragment != "" {
		return fmt.Errorf("redirect URL %q contains a fragment: %w", raw, ErrInvalidRedirectURL)
	}
	return nil
}
