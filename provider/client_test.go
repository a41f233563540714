// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/rplogin/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)

	tests := []struct {
		name      string
		config    *config.Config
		opts      []Option
		wantErr   bool
		wantIsErr error
	}{
		{
			name:   "valid",
			config: tp.TestConfig(t),
		},
		{
			name:   "valid-with-options",
			config: tp.TestConfig(t),
			opts:   []Option{WithLogger(hclog.NewNullLogger()), nil},
		},
		{
			name:      "nil-config",
			wantErr:   true,
			wantIsErr: ErrNilParameter,
		},
		{
			name:      "invalid-config",
			config:    &config.Config{},
			wantErr:   true,
			wantIsErr: config.ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewClient(tt.config, tt.opts...)
			if tt.wantErr {
				require.Error(err)
				assert.Nil(got)
				if tt.wantIsErr != nil {
					assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				}
				return
			}
			require.NoError(err)
			assert.NotNil(got)
		})
	}
}

func TestClient_AuthURL(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)
	const other = "https://app.example.com/other"
	c, err := NewClient(tp.TestConfig(t, config.WithAllowedRedirectURLs([]string{other})))
	require.NoError(t, err)

	tests := []struct {
		name         string
		state        string
		redirectURL  string
		wantRedirect string
		wantErr      bool
		wantIsErr    error
	}{
		{
			name:         "default-redirect",
			state:        "state-value",
			wantRedirect: TestRedirectURL,
		},
		{
			name:         "allowed-redirect",
			state:        "state-value",
			redirectURL:  other,
			wantRedirect: other,
		},
		{
			name:      "missing-state",
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:        "unregistered-redirect",
			state:       "state-value",
			redirectURL: "https://evil.example.com/callback",
			wantErr:     true,
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:        "http-redirect",
			state:       "state-value",
			redirectURL: "http://app.example.com/callback",
			wantErr:     true,
			wantIsErr:   ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := c.AuthURL(tt.state, tt.redirectURL)
			if tt.wantErr {
				require.Error(err)
				assert.Empty(got)
				if tt.wantIsErr != nil {
					assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				}
				return
			}
			require.NoError(err)
			u, err := url.Parse(got)
			require.NoError(err)
			assert.True(strings.HasPrefix(got, tp.Addr()+"/auth?"))
			q := u.Query()
			assert.Equal(TestClientID, q.Get("client_id"))
			assert.Equal(tt.wantRedirect, q.Get("redirect_uri"))
			assert.Equal("openid email profile", q.Get("scope"))
			assert.Equal("code", q.Get("response_type"))
			assert.Equal(tt.state, q.Get("state"))
			assert.Equal("offline", q.Get("access_type"))
			assert.Empty(q.Get("client_secret"))
		})
	}
}

func TestClient_Exchange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c, err := NewClient(tp.TestConfig(t))
		require.NoError(err)

		got, err := c.Exchange(ctx, TestAuthCode, TestRedirectURL)
		require.NoError(err)
		assert.NotEmpty(got.IDToken)
		assert.Equal(AccessToken("test-access-token"), got.AccessToken)
		assert.Equal(RefreshToken("test-refresh-token"), got.RefreshToken)
		assert.Equal(int64(3599), got.ExpiresIn)
		assert.Equal("Bearer", got.TokenType)
		assert.Equal("openid email profile", got.Scope)
		assert.Equal(1, tp.TokenRequests())
	})
	t.Run("precondition-failures", func(t *testing.T) {
		tp := StartTestProvider(t)
		c, err := NewClient(tp.TestConfig(t))
		require.NoError(t, err)

		tests := []struct {
			name        string
			code        string
			redirectURL string
			wantIsErr   error
		}{
			{name: "empty-code", redirectURL: TestRedirectURL, wantIsErr: ErrInvalidCode},
			{name: "long-code", code: strings.Repeat("c", MaxCodeLength+1), redirectURL: TestRedirectURL, wantIsErr: ErrInvalidParameter},
			{name: "empty-redirect", code: TestAuthCode, wantIsErr: ErrInvalidParameter},
			{name: "unregistered-redirect", code: TestAuthCode, redirectURL: "https://evil.example.com/cb", wantIsErr: ErrInvalidParameter},
			{name: "long-redirect", code: TestAuthCode, redirectURL: "https://app.example.com/" + strings.Repeat("a", config.MaxRedirectURLLength), wantIsErr: ErrInvalidParameter},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert := assert.New(t)
				got, err := c.Exchange(ctx, tt.code, tt.redirectURL)
				assert.Nil(got)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
			})
		}
		assert.Equal(t, 0, tp.TokenRequests())
	})
	t.Run("provider-rejects-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c, err := NewClient(tp.TestConfig(t))
		require.NoError(err)

		got, err := c.Exchange(ctx, "not-the-code", TestRedirectURL)
		require.Error(err)
		assert.Nil(got)
		assert.Truef(errors.Is(err, ErrInvalidCode), "wanted \"%s\" but got \"%s\"", ErrInvalidCode, err)
		assert.False(errors.Is(err, ErrProviderUnavailable))
	})
	t.Run("forced-status", func(t *testing.T) {
		tests := []struct {
			status    int
			wantIsErr error
		}{
			{status: 400, wantIsErr: ErrInvalidCode},
			{status: 401, wantIsErr: ErrInvalidCode},
			{status: 403, wantIsErr: ErrInvalidCode},
			{status: 408, wantIsErr: ErrProviderUnavailable},
			{status: 429, wantIsErr: ErrProviderUnavailable},
			{status: 500, wantIsErr: ErrProviderUnavailable},
			{status: 502, wantIsErr: ErrProviderUnavailable},
			{status: 503, wantIsErr: ErrProviderUnavailable},
		}
		tp := StartTestProvider(t)
		c, err := NewClient(tp.TestConfig(t))
		require.NoError(t, err)
		for _, tt := range tests {
			t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
				assert := assert.New(t)
				tp.SetTokenStatus(tt.status)
				got, err := c.Exchange(ctx, TestAuthCode, TestRedirectURL)
				assert.Nil(got)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
			})
		}
	})
	t.Run("timeout", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetTokenDelay(2 * time.Second)
		c, err := NewClient(tp.TestConfig(t, config.WithRequestTimeout(50*time.Millisecond)))
		require.NoError(err)

		start := time.Now()
		got, err := c.Exchange(ctx, TestAuthCode, TestRedirectURL)
		assert.Nil(got)
		assert.Truef(errors.Is(err, ErrProviderUnavailable), "wanted \"%s\" but got \"%s\"", ErrProviderUnavailable, err)
		assert.Less(time.Since(start), time.Second)
	})
	t.Run("caller-cancelled", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetTokenDelay(2 * time.Second)
		c, err := NewClient(tp.TestConfig(t))
		require.NoError(err)

		cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		got, err := c.Exchange(cancelCtx, TestAuthCode, TestRedirectURL)
		assert.Nil(got)
		assert.Truef(errors.Is(err, ErrProviderUnavailable), "wanted \"%s\" but got \"%s\"", ErrProviderUnavailable, err)
	})
	t.Run("missing-id-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.OmitIDTokens()
		c, err := NewClient(tp.TestConfig(t))
		require.NoError(err)

		got, err := c.Exchange(ctx, TestAuthCode, TestRedirectURL)
		assert.Nil(got)
		assert.Truef(errors.Is(err, ErrProviderUnavailable), "wanted \"%s\" but got \"%s\"", ErrProviderUnavailable, err)
	})
	t.Run("provider-down", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c, err := NewClient(tp.TestConfig(t))
		require.NoError(err)
		tp.Stop()

		got, err := c.Exchange(ctx, TestAuthCode, TestRedirectURL)
		assert.Nil(got)
		assert.Truef(errors.Is(err, ErrProviderUnavailable), "wanted \"%s\" but got \"%s\"", ErrProviderUnavailable, err)
	})
	t.Run("secret-not-in-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetTokenStatus(400)
		var buf bytes.Buffer
		logger := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Trace})
		c, err := NewClient(tp.TestConfig(t), WithLogger(logger))
		require.NoError(err)

		_, err = c.Exchange(ctx, TestAuthCode, TestRedirectURL)
		require.Error(err)
		assert.NotContains(err.Error(), TestClientSecret)
		assert.NotContains(err.Error(), TestAuthCode)
		assert.NotContains(buf.String(), TestClientSecret)
		assert.NotContains(buf.String(), TestAuthCode)
	})
}

func TestClient_FetchIdentityClaims(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	exchange := func(t *testing.T, tp *TestProvider, c *Client) IDToken {
		t.Helper()
		tk, err := c.Exchange(ctx, TestAuthCode, TestRedirectURL)
		require.NoError(t, err)
		return tk.IDToken
	}

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c, err := NewClient(tp.TestConfig(t))
		require.NoError(err)

		got, err := c.FetchIdentityClaims(ctx, exchange(t, tp, c))
		require.NoError(err)
		assert.Equal(TestSubject, got["sub"])
		assert.Equal(TestEmail, got["email"])
		assert.Equal(TestClientID, got["aud"])
		assert.Equal("true", got["email_verified"])
		assert.Equal(1, tp.TokenInfoRequests())
	})
	t.Run("empty-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c, err := NewClient(tp.TestConfig(t))
		require.NoError(err)

		got, err := c.FetchIdentityClaims(ctx, "")
		assert.Nil(got)
		assert.Truef(errors.Is(err, ErrInvalidToken), "wanted \"%s\" but got \"%s\"", ErrInvalidToken, err)
		assert.Equal(0, tp.TokenInfoRequests())
	})
	t.Run("unknown-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c, err := NewClient(tp.TestConfig(t))
		require.NoError(err)

		got, err := c.FetchIdentityClaims(ctx, "not-a-token")
		assert.Nil(got)
		assert.Truef(errors.Is(err, ErrInvalidToken), "wanted \"%s\" but got \"%s\"", ErrInvalidToken, err)
	})
	t.Run("forced-status", func(t *testing.T) {
		for _, status := range []int{400, 401, 500, 503} {
			t.Run(fmt.Sprintf("%d", status), func(t *testing.T) {
				assert, require := assert.New(t), require.New(t)
				tp := StartTestProvider(t)
				c, err := NewClient(tp.TestConfig(t))
				require.NoError(err)
				idToken := exchange(t, tp, c)
				tp.SetTokenInfoStatus(status)

				got, err := c.FetchIdentityClaims(ctx, idToken)
				assert.Nil(got)
				assert.Truef(errors.Is(err, ErrInvalidToken), "wanted \"%s\" but got \"%s\"", ErrInvalidToken, err)
			})
		}
	})
	t.Run("empty-claims", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c, err := NewClient(tp.TestConfig(t))
		require.NoError(err)
		idToken := exchange(t, tp, c)
		tp.SetTokenInfoClaims(map[string]interface{}{})

		got, err := c.FetchIdentityClaims(ctx, idToken)
		assert.Nil(got)
		assert.Truef(errors.Is(err, ErrInvalidToken), "wanted \"%s\" but got \"%s\"", ErrInvalidToken, err)
	})
	t.Run("numbers-preserved", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c, err := NewClient(tp.TestConfig(t))
		require.NoError(err)
		idToken := exchange(t, tp, c)
		tp.SetTokenInfoClaims(map[string]interface{}{"sub": "1", "exp": 1893456000})

		got, err := c.FetchIdentityClaims(ctx, idToken)
		require.NoError(err)
		assert.Equal(json.Number("1893456000"), got["exp"])
	})
	t.Run("provider-down", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		var buf bytes.Buffer
		logger := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Trace})
		c, err := NewClient(tp.TestConfig(t), WithLogger(logger))
		require.NoError(err)
		idToken := exchange(t, tp, c)
		tp.Stop()

		got, err := c.FetchIdentityClaims(ctx, idToken)
		assert.Nil(got)
		assert.Truef(errors.Is(err, ErrProviderUnavailable), "wanted \"%s\" but got \"%s\"", ErrProviderUnavailable, err)
		assert.NotContains(err.Error(), string(idToken))
		assert.NotContains(buf.String(), string(idToken))
	})
}

func TestTokens_Redaction(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	ts := TokenSet{
		AccessToken:  "access",
		IDToken:      "id",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
	}
	assert.Equal(RedactedAccessToken, ts.AccessToken.String())
	assert.Equal(RedactedIDToken, ts.IDToken.String())
	assert.Equal(RedactedRefreshToken, ts.RefreshToken.String())
	assert.Contains(fmt.Sprintf("%v", ts), RedactedRefreshToken)
	assert.NotContains(fmt.Sprintf("%v", ts), "refresh ")

	b, err := json.Marshal(ts)
	require.NoError(err)
	assert.Contains(string(b), RedactedAccessToken)
	assert.Contains(string(b), RedactedIDToken)
	assert.Contains(string(b), RedactedRefreshToken)
	assert.NotContains(string(b), "\"refresh\"")
}

func Test_int64Extra(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal(int64(3599), int64Extra(float64(3599)))
	assert.Equal(int64(42), int64Extra(json.Number("42")))
	assert.Equal(int64(7), int64Extra("7"))
	assert.Equal(int64(0), int64Extra("seven"))
	assert.Equal(int64(0), int64Extra(nil))
}
