// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package login

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/rplogin/config"
	"github.com/hashicorp/rplogin/identity"
	"github.com/hashicorp/rplogin/provider"
	"github.com/hashicorp/rplogin/session"
	"github.com/hashicorp/rplogin/state"
	"github.com/hashicorp/rplogin/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testFlow struct {
	flow     *Flow
	tp       *provider.TestProvider
	config   *config.Config
	states   *state.MemoryStore
	repo     *user.MemoryRepository
	sessions *session.JWTIssuer
	logs     *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestFlow(t *testing.T, cfgOpts ...config.Option) *testFlow {
	t.Helper()
	require := require.New(t)

	tf := &testFlow{
		tp:   provider.StartTestProvider(t),
		repo: user.NewMemoryRepository(),
		logs: &syncBuffer{},
	}
	logger := hclog.New(&hclog.LoggerOptions{Output: tf.logs, Level: hclog.Trace, JSONFormat: true})
	tf.config = tf.tp.TestConfig(t, cfgOpts...)

	var err error
	tf.states, err = state.NewMemoryStore()
	require.NoError(err)
	client, err := provider.NewClient(tf.config, provider.WithLogger(logger))
	require.NoError(err)
	v, err := identity.NewValidator(tf.config.ClientID)
	require.NoError(err)
	users, err := user.NewProvisioner(tf.repo, user.WithPasswordHashCost(bcrypt.MinCost), user.WithLogger(logger))
	require.NoError(err)
	tf.sessions, err = session.NewJWTIssuer([]byte(strings.Repeat("s", session.MinSigningKeyLength)))
	require.NoError(err)

	tf.flow, err = NewFlow(tf.config, tf.states, client, v, users, tf.sessions, WithLogger(logger))
	require.NoError(err)
	return tf
}

// logEntry returns the last JSON log line whose message is msg.
func (tf *testFlow) logEntry(t *testing.T, msg string) map[string]interface{} {
	t.Helper()
	var found map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(tf.logs.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		if entry["@message"] == msg {
			found = entry
		}
	}
	require.NotNilf(t, found, "no log line with message %q", msg)
	return found
}

func (tf *testFlow) begin(t *testing.T) string {
	t.Helper()
	u, err := tf.flow.BeginLogin(context.Background(), "")
	require.NoError(t, err)
	parsed, err := url.Parse(u)
	require.NoError(t, err)
	return parsed.Query().Get("state")
}

func (tf *testFlow) request(t *testing.T) CompleteRequest {
	t.Helper()
	return CompleteRequest{
		Code:        provider.TestAuthCode,
		RedirectURL: provider.TestRedirectURL,
		State:       tf.begin(t),
		ClientIP:    "203.0.113.7",
	}
}

func requireKind(t *testing.T, want Kind, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equalf(t, want, KindOf(err), "wanted kind %q but got %q: %s", want, KindOf(err), err)
}

func TestNewFlow(t *testing.T) {
	t.Parallel()
	tp := provider.StartTestProvider(t)
	c := tp.TestConfig(t)
	states, err := state.NewMemoryStore()
	require.NoError(t, err)
	client, err := provider.NewClient(c)
	require.NoError(t, err)
	v, err := identity.NewValidator(c.ClientID)
	require.NoError(t, err)
	users, err := user.NewProvisioner(user.NewMemoryRepository())
	require.NoError(t, err)
	sessions, err := session.NewJWTIssuer([]byte(strings.Repeat("s", session.MinSigningKeyLength)))
	require.NoError(t, err)

	tests := []struct {
		name      string
		build     func() (*Flow, error)
		wantErr   bool
		wantIsErr error
	}{
		{name: "valid", build: func() (*Flow, error) { return NewFlow(c, states, client, v, users, sessions) }},
		{name: "nil-config", build: func() (*Flow, error) { return NewFlow(nil, states, client, v, users, sessions) }, wantErr: true, wantIsErr: ErrNilParameter},
		{name: "nil-states", build: func() (*Flow, error) { return NewFlow(c, nil, client, v, users, sessions) }, wantErr: true, wantIsErr: ErrNilParameter},
		{name: "nil-provider", build: func() (*Flow, error) { return NewFlow(c, states, nil, v, users, sessions) }, wantErr: true, wantIsErr: ErrNilParameter},
		{name: "nil-validator", build: func() (*Flow, error) { return NewFlow(c, states, client, nil, users, sessions) }, wantErr: true, wantIsErr: ErrNilParameter},
		{name: "nil-users", build: func() (*Flow, error) { return NewFlow(c, states, client, v, nil, sessions) }, wantErr: true, wantIsErr: ErrNilParameter},
		{name: "nil-sessions", build: func() (*Flow, error) { return NewFlow(c, states, client, v, users, nil) }, wantErr: true, wantIsErr: ErrNilParameter},
		{name: "invalid-config", build: func() (*Flow, error) { return NewFlow(&config.Config{}, states, client, v, users, sessions) }, wantErr: true, wantIsErr: config.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := tt.build()
			if tt.wantErr {
				require.Error(err)
				assert.Nil(got)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.NotNil(got)
		})
	}
}

func TestFlow_BeginLogin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const other = "https://app.example.com/other"
	tf := newTestFlow(t, config.WithAllowedRedirectURLs([]string{other}))

	t.Run("default-redirect", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := tf.flow.BeginLogin(ctx, "")
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		q := u.Query()
		assert.Equal(provider.TestClientID, q.Get("client_id"))
		assert.Equal(provider.TestRedirectURL, q.Get("redirect_uri"))
		assert.Equal("openid email profile", q.Get("scope"))
		assert.Equal("code", q.Get("response_type"))
		assert.Equal("offline", q.Get("access_type"))
		assert.GreaterOrEqual(len(q.Get("state")), 16)
		assert.Regexp(regexp.MustCompile(`^[A-Za-z0-9_-]+$`), q.Get("state"))
	})
	t.Run("allowed-redirect", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := tf.flow.BeginLogin(ctx, other)
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		assert.Equal(other, u.Query().Get("redirect_uri"))
	})
	t.Run("fresh-state-each-time", func(t *testing.T) {
		assert.NotEqual(t, tf.begin(t), tf.begin(t))
	})
	t.Run("rejected-redirect", func(t *testing.T) {
		for _, r := range []string{"https://evil.example.com/cb", "http://app.example.com/callback", "not a url"} {
			got, err := tf.flow.BeginLogin(ctx, r)
			assert.Empty(t, got)
			requireKind(t, InvalidRequest, err)
		}
	})
	t.Run("state-store-down", func(t *testing.T) {
		f := *tf.flow
		f.states = &brokenStore{}
		got, err := f.BeginLogin(ctx, "")
		assert.Empty(t, got)
		requireKind(t, ProviderUnavailable, err)
	})
}

func TestFlow_CompleteLogin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tf := newTestFlow(t)

		got, err := tf.flow.CompleteLogin(ctx, tf.request(t))
		require.NoError(err)
		require.NotNil(got.User)
		assert.Equal("a@b.com", got.User.Email)
		assert.Equal([]user.Role{user.RoleUser}, got.User.Roles)
		assert.Equal(user.ProviderGoogle, got.User.Provider)
		assert.Equal(provider.TestSubject, got.User.ProviderID)
		assert.True(got.User.EmailVerified)
		assert.Equal("Bearer", got.TokenType)
		assert.Equal(int64(3600), got.ExpiresIn)

		claims, err := tf.sessions.Parse(string(got.SessionToken))
		require.NoError(err)
		assert.Equal("a@b.com", claims.Subject)
		assert.Equal([]string{"USER"}, claims.Roles)
		refresh, err := tf.sessions.Parse(string(got.RefreshToken))
		require.NoError(err)
		assert.True(refresh.Refresh)

		assert.Equal(1, tf.tp.TokenRequests())
		assert.Equal(1, tf.tp.TokenInfoRequests())

		logs := tf.logs.String()
		// a@b.com is too short in the local part to show any of it
		assert.Equal("***", tf.logEntry(t, "login completed")["email"])
		assert.NotContains(logs, "a@b.com")
		assert.Contains(logs, "203.0.113.7")
		assert.NotContains(logs, provider.TestClientSecret)
		assert.NotContains(logs, string(got.SessionToken))
	})
	t.Run("success-masks-long-email", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tf := newTestFlow(t)
		tf.tp.SetSubjectAndEmail("456", "alice@example.com")

		got, err := tf.flow.CompleteLogin(context.Background(), tf.request(t))
		require.NoError(err)
		assert.Equal("alice@example.com", got.User.Email)

		entry := tf.logEntry(t, "login completed")
		assert.Equal("al***@example.com", entry["email"])
		assert.Equal(MaskEmail("alice@example.com"), entry["email"])
		assert.Equal("203.0.113.7", entry["client_ip"])
		assert.NotContains(tf.logs.String(), "alice@example.com")
	})
	t.Run("second-login-same-user", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tf := newTestFlow(t)

		first, err := tf.flow.CompleteLogin(ctx, tf.request(t))
		require.NoError(err)
		second, err := tf.flow.CompleteLogin(ctx, tf.request(t))
		require.NoError(err)
		assert.Equal(first.User.ID, second.User.ID)
		assert.Equal(1, tf.repo.Len())
	})
	t.Run("state-replay", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tf := newTestFlow(t)

		req := tf.request(t)
		_, err := tf.flow.CompleteLogin(ctx, req)
		require.NoError(err)
		got, err := tf.flow.CompleteLogin(ctx, req)
		assert.Nil(got)
		requireKind(t, InvalidState, err)
		assert.Equal(1, tf.tp.TokenRequests())
	})
	t.Run("unissued-state", func(t *testing.T) {
		assert := assert.New(t)
		tf := newTestFlow(t)

		for _, st := range []string{"never-issued", "", strings.Repeat("s", state.MaxTokenLength+1)} {
			got, err := tf.flow.CompleteLogin(ctx, CompleteRequest{
				Code:        provider.TestAuthCode,
				RedirectURL: provider.TestRedirectURL,
				State:       st,
			})
			assert.Nil(got)
			requireKind(t, InvalidState, err)
		}
		assert.Equal(0, tf.tp.TokenRequests())
		assert.Equal(0, tf.tp.TokenInfoRequests())
	})
	t.Run("bad-input-keeps-state", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tf := newTestFlow(t)
		req := tf.request(t)

		tests := []struct {
			name   string
			mutate func(r *CompleteRequest)
		}{
			{name: "empty-code", mutate: func(r *CompleteRequest) { r.Code = " " }},
			{name: "long-code", mutate: func(r *CompleteRequest) { r.Code = strings.Repeat("c", provider.MaxCodeLength+1) }},
			{name: "http-redirect", mutate: func(r *CompleteRequest) { r.RedirectURL = "http://app.example.com/callback" }},
			{name: "unregistered-redirect", mutate: func(r *CompleteRequest) { r.RedirectURL = "https://evil.example.com/callback" }},
			{name: "long-redirect", mutate: func(r *CompleteRequest) {
				r.RedirectURL = "https://app.example.com/" + strings.Repeat("a", config.MaxRedirectURLLength)
			}},
		}
		for _, tt := range tests {
			bad := req
			tt.mutate(&bad)
			got, err := tf.flow.CompleteLogin(ctx, bad)
			assert.Nil(got, tt.name)
			requireKind(t, InvalidRequest, err)
		}
		assert.Equal(0, tf.tp.TokenRequests())

		// the state was not consumed by the rejected attempts
		_, err := tf.flow.CompleteLogin(ctx, req)
		require.NoError(err)
	})
	t.Run("provider-rejects-code", func(t *testing.T) {
		assert := assert.New(t)
		tf := newTestFlow(t)
		req := tf.request(t)
		req.Code = "stale-code"

		got, err := tf.flow.CompleteLogin(ctx, req)
		assert.Nil(got)
		requireKind(t, InvalidCode, err)
		assert.Equal(0, tf.tp.TokenInfoRequests())
		assert.Equal(0, tf.repo.Len())
	})
	t.Run("token-endpoint-status", func(t *testing.T) {
		tests := []struct {
			status int
			want   Kind
		}{
			{status: 400, want: InvalidCode},
			{status: 401, want: InvalidCode},
			{status: 500, want: ProviderUnavailable},
			{status: 503, want: ProviderUnavailable},
		}
		for _, tt := range tests {
			t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
				tf := newTestFlow(t)
				tf.tp.SetTokenStatus(tt.status)
				got, err := tf.flow.CompleteLogin(ctx, tf.request(t))
				assert.Nil(t, got)
				requireKind(t, tt.want, err)
				assert.Equal(t, 0, tf.tp.TokenInfoRequests())
			})
		}
	})
	t.Run("token-endpoint-timeout", func(t *testing.T) {
		assert := assert.New(t)
		tf := newTestFlow(t, config.WithRequestTimeout(50*time.Millisecond))
		tf.tp.SetTokenDelay(2 * time.Second)

		got, err := tf.flow.CompleteLogin(ctx, tf.request(t))
		assert.Nil(got)
		requireKind(t, ProviderUnavailable, err)
		assert.Equal(0, tf.tp.TokenInfoRequests())
	})
	t.Run("caller-cancels", func(t *testing.T) {
		assert := assert.New(t)
		tf := newTestFlow(t)
		tf.tp.SetTokenDelay(2 * time.Second)
		req := tf.request(t)

		cancelCtx, cancel := context.WithCancel(ctx)
		time.AfterFunc(50*time.Millisecond, cancel)
		start := time.Now()
		got, err := tf.flow.CompleteLogin(cancelCtx, req)
		assert.Nil(got)
		requireKind(t, ProviderUnavailable, err)
		assert.Less(time.Since(start), time.Second)
	})
	t.Run("missing-id-token", func(t *testing.T) {
		tf := newTestFlow(t)
		tf.tp.OmitIDTokens()
		got, err := tf.flow.CompleteLogin(ctx, tf.request(t))
		assert.Nil(t, got)
		requireKind(t, ProviderUnavailable, err)
	})
	t.Run("token-info-rejects", func(t *testing.T) {
		tf := newTestFlow(t)
		tf.tp.SetTokenInfoStatus(400)
		got, err := tf.flow.CompleteLogin(ctx, tf.request(t))
		assert.Nil(t, got)
		requireKind(t, InvalidToken, err)
		assert.Equal(t, 0, tf.repo.Len())
	})
	t.Run("audience-mismatch", func(t *testing.T) {
		assert := assert.New(t)
		tf := newTestFlow(t)
		tf.tp.SetCustomAudience("someone-else")

		got, err := tf.flow.CompleteLogin(ctx, tf.request(t))
		assert.Nil(got)
		requireKind(t, InvalidAudience, err)
		assert.Equal(0, tf.repo.Len())
	})
	t.Run("expired-token", func(t *testing.T) {
		assert := assert.New(t)
		tf := newTestFlow(t)
		tf.tp.SetIDTokenExpiry(-time.Minute)

		got, err := tf.flow.CompleteLogin(ctx, tf.request(t))
		assert.Nil(got)
		requireKind(t, TokenExpired, err)
		assert.Equal(0, tf.repo.Len())
	})
	t.Run("missing-email", func(t *testing.T) {
		tf := newTestFlow(t)
		tf.tp.SetSubjectAndEmail("123", "")
		got, err := tf.flow.CompleteLogin(ctx, tf.request(t))
		assert.Nil(t, got)
		requireKind(t, InvalidToken, err)
	})
	t.Run("provisioning-fails", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tf := newTestFlow(t)
		// another account already owns the email
		require.NoError(tf.repo.Create(ctx, &user.User{ID: "u-1", Email: provider.TestEmail, Provider: "LOCAL", ProviderID: "x"}))

		got, err := tf.flow.CompleteLogin(ctx, tf.request(t))
		assert.Nil(got)
		requireKind(t, ProvisioningFailed, err)
	})
	t.Run("collaborator-panics", func(t *testing.T) {
		assert := assert.New(t)
		tf := newTestFlow(t)
		req := tf.request(t)
		f := *tf.flow
		f.users = panicResolver{}

		got, err := f.CompleteLogin(ctx, req)
		assert.Nil(got)
		requireKind(t, Unclassified, err)
		assert.NotContains(tf.logs.String(), "secret panic detail")
	})
	t.Run("session-issue-fails", func(t *testing.T) {
		tf := newTestFlow(t)
		req := tf.request(t)
		f := *tf.flow
		f.sessions = brokenIssuer{}

		got, err := f.CompleteLogin(ctx, req)
		assert.Nil(t, got)
		requireKind(t, Unclassified, err)
	})
	t.Run("state-store-fails", func(t *testing.T) {
		tf := newTestFlow(t)
		f := *tf.flow
		f.states = &brokenStore{}

		got, err := f.CompleteLogin(ctx, CompleteRequest{Code: "c", RedirectURL: provider.TestRedirectURL, State: "s"})
		assert.Nil(t, got)
		requireKind(t, Unclassified, err)
		assert.Equal(t, 0, tf.tp.TokenRequests())
	})
}

func TestFlow_CompleteLogin_signatureVerification(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	tf := newTestFlow(t)

	ks, err := identity.NewJSONWebKeySet(ctx, tf.tp.JWKSURL(), tf.tp.CACert())
	require.NoError(err)
	v, err := identity.NewValidator(tf.config.ClientID, identity.WithKeySet(ks))
	require.NoError(err)
	f := *tf.flow
	f.validator = v

	got, err := f.CompleteLogin(ctx, tf.request(t))
	require.NoError(err)
	assert.Equal(provider.TestEmail, got.User.Email)

	// introspection reporting a different subject than the signed token
	tf.tp.SetTokenInfoClaims(map[string]interface{}{
		"aud":   tf.config.ClientID,
		"sub":   "someone-else",
		"email": provider.TestEmail,
		"exp":   fmt.Sprintf("%d", time.Now().Add(time.Hour).Unix()),
	})
	got, err = f.CompleteLogin(ctx, tf.request(t))
	assert.Nil(got)
	requireKind(t, InvalidToken, err)
}

func TestFlow_CompleteLogin_concurrentFirstLogin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	tf := newTestFlow(t)

	const n = 8
	reqs := make([]CompleteRequest, n)
	for i := range reqs {
		reqs[i] = tf.request(t)
	}
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := tf.flow.CompleteLogin(ctx, reqs[i])
			errs[i] = err
			if out != nil {
				ids[i] = out.User.ID
			}
		}(i)
	}
	wg.Wait()
	for i := range reqs {
		require.NoError(errs[i])
		assert.Equal(ids[0], ids[i])
	}
	assert.Equal(1, tf.repo.Len())
}

type brokenStore struct{}

func (*brokenStore) Issue(context.Context) (string, error) {
	return "", errors.New("state backend unavailable")
}

func (*brokenStore) Consume(context.Context, string) error {
	return errors.New("state backend unavailable")
}

type panicResolver struct{}

func (panicResolver) Resolve(context.Context, *identity.ExternalIdentity) (*user.User, error) {
	panic("secret panic detail")
}

type brokenIssuer struct{}

func (brokenIssuer) Issue(context.Context, string, []string) (*session.Credentials, error) {
	return nil, errors.New("signer unavailable")
}
