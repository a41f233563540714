// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/rplogin/config"
	"golang.org/x/oauth2"
)

const (
	// MaxCodeLength is the longest authorization code accepted by Exchange.
	MaxCodeLength = 1000

	// maxTokenInfoBody limits how much of a token info response is read.
	maxTokenInfoBody = 1 << 20
)

// Client performs the outbound calls to the identity provider: building the
// authorization URL, exchanging an authorization code for tokens, and
// introspecting an id_token. It performs no retries.
type Client struct {
	config *config.Config
	oauth2 oauth2.Config
	http   *http.Client
	logger hclog.Logger
}

// NewClient creates a Client for the provider described by c.
// Supported options: WithLogger, WithHTTPClient
func NewClient(c *config.Config, opt ...Option) (*Client, error) {
	const op = "provider.NewClient"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	opts := getClientOpts(opt...)

	httpClient := opts.withHTTPClient
	if httpClient == nil {
		var err error
		if httpClient, err = c.HTTPClient(); err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}

	return &Client{
		config: c,
		oauth2: oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: string(c.ClientSecret),
			RedirectURL:  c.DefaultRedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   c.AuthorizationURL,
				TokenURL:  c.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: c.Scopes,
		},
		http:   httpClient,
		logger: opts.withLogger,
	}, nil
}

// AuthURL returns the provider authorization URL for a login attempt
// identified by state. An empty redirectURL selects the configured default.
// Offline access is always requested.
func (c *Client) AuthURL(state, redirectURL string) (string, error) {
	const op = "provider.(Client).AuthURL"
	if state == "" {
		return "", fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	}
	if redirectURL == "" {
		redirectURL = c.config.DefaultRedirectURL
	}
	if err := c.config.CheckRedirectURL(redirectURL); err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
	}
	return c.oauth2.AuthCodeURL(
		state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("redirect_uri", redirectURL),
	), nil
}

// Exchange trades an authorization code for a TokenSet with a single form
// encoded POST to the token endpoint. A 4xx answer from the provider is
// reported as ErrInvalidCode; every other failure, including a success
// response without an id_token, is ErrProviderUnavailable.
func (c *Client) Exchange(ctx context.Context, code, redirectURL string) (*TokenSet, error) {
	const op = "provider.(Client).Exchange"
	if code == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidCode)
	}
	if len(code) > MaxCodeLength {
		return nil, fmt.Errorf("%s: authorization code longer than %d characters: %w", op, MaxCodeLength, ErrInvalidParameter)
	}
	if err := c.config.CheckRedirectURL(redirectURL); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	tk, err := c.oauth2.Exchange(ctx, code, oauth2.SetAuthURLParam("redirect_uri", redirectURL))
	if err != nil {
		return nil, c.exchangeError(op, err)
	}

	idToken, _ := tk.Extra("id_token").(string)
	if idToken == "" {
		c.logger.Error("token response is missing id_token")
		return nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrProviderUnavailable)
	}
	scope, _ := tk.Extra("scope").(string)

	return &TokenSet{
		AccessToken:  AccessToken(tk.AccessToken),
		IDToken:      IDToken(idToken),
		RefreshToken: RefreshToken(tk.RefreshToken),
		ExpiresIn:    int64Extra(tk.Extra("expires_in")),
		TokenType:    tk.TokenType,
		Scope:        scope,
	}, nil
}

// exchangeError classifies a failed exchange without repeating the
// provider's response body, which may echo request parameters.
func (c *Client) exchangeError(op string, err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		status := rErr.Response.StatusCode
		switch {
		case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
			// the provider is busy, the code may still be good
		case status >= 400 && status < 500:
			c.logger.Warn("provider rejected authorization code", "status", status, "error_code", rErr.ErrorCode)
			return fmt.Errorf("%s: provider rejected authorization code with status %d: %w", op, status, ErrInvalidCode)
		}
		c.logger.Error("provider token endpoint failed", "status", status)
		return fmt.Errorf("%s: token endpoint returned status %d: %w", op, status, ErrProviderUnavailable)
	}
	c.logger.Error("token exchange request failed", "error", transportError(err))
	return fmt.Errorf("%s: unable to exchange auth code with provider: %w", op, ErrProviderUnavailable)
}

// FetchIdentityClaims asks the provider's token info endpoint to validate
// idToken and returns the claims it reports. An empty token or any non 2xx
// or empty response is ErrInvalidToken; a request that cannot complete is
// ErrProviderUnavailable.
func (c *Client) FetchIdentityClaims(ctx context.Context, idToken IDToken) (Claims, error) {
	const op = "provider.(Client).FetchIdentityClaims"
	if idToken == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidToken)
	}

	u, err := url.Parse(c.config.TokenInfoURL)
	if err != nil {
		return nil, fmt.Errorf("%s: token info URL is invalid: %w", op, ErrInvalidParameter)
	}
	q := u.Query()
	q.Set("id_token", string(idToken))
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create token info request: %w", op, ErrProviderUnavailable)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// the request URL carries the id_token, so only the cause is logged
		c.logger.Error("token info request failed", "error", transportError(err))
		return nil, fmt.Errorf("%s: token info request failed: %w", op, ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxTokenInfoBody))
		c.logger.Warn("provider rejected id_token", "status", resp.StatusCode)
		return nil, fmt.Errorf("%s: token info returned status %d: %w", op, resp.StatusCode, ErrInvalidToken)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenInfoBody))
	if err != nil {
		c.logger.Error("unable to read token info response", "error", transportError(err))
		return nil, fmt.Errorf("%s: unable to read token info response: %w", op, ErrProviderUnavailable)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%s: token info response is empty: %w", op, ErrInvalidToken)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var claims Claims
	if err := dec.Decode(&claims); err != nil {
		return nil, fmt.Errorf("%s: token info response is not a json object: %w", op, ErrInvalidToken)
	}
	if len(claims) == 0 {
		return nil, fmt.Errorf("%s: token info response has no claims: %w", op, ErrInvalidToken)
	}
	return claims, nil
}

// transportError strips the request URL from err.
func transportError(err error) string {
	var uErr *url.Error
	if errors.As(err, &uErr) && uErr.Err != nil {
		return uErr.Err.Error()
	}
	return err.Error()
}

func int64Extra(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}
