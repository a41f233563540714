// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package provider

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/rplogin/config"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// Defaults used by a TestProvider until they are overridden.
const (
	TestClientID     = "test-client-id"
	TestClientSecret = "test-client-secret"
	TestAuthCode     = "test-auth-code"
	TestRedirectURL  = "https://app.example.com/callback"
	TestSubject      = "123"
	TestEmail        = "a@b.com"
)

// TestProvider is a local TLS server that imitates a Google style identity
// provider: an authorization endpoint, a token endpoint, a token info
// endpoint, and a JWKS endpoint. Identity tokens are ES256 signed so they
// can be verified against /certs. Failure modes are configured with the
// Set* methods and every call is counted.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks *jose.JSONWebKeySet

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	expectedAuthCode    string
	allowedRedirectURIs []string
	replySubject        string
	replyEmail          string
	customClaims        map[string]interface{}
	customAudience      string
	tokenInfoClaims     map[string]interface{}
	idTokenExpiry       time.Duration
	omitIDToken         bool
	tokenStatus         int
	tokenInfoStatus     int
	tokenDelay          time.Duration
	tokenRequests       int
	tokenInfoRequests   int
	issued              map[string]map[string]interface{}
}

// StartTestProvider creates a disposable TestProvider which is stopped when
// the test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID:            TestClientID,
		clientSecret:        TestClientSecret,
		expectedAuthCode:    TestAuthCode,
		allowedRedirectURIs: []string{TestRedirectURL},
		replySubject:        TestSubject,
		replyEmail:          TestEmail,
		idTokenExpiry:       time.Hour,
		issued:              map[string]map[string]interface{}{},
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// JWKSURL returns the URL of the provider's key set.
func (p *TestProvider) JWKSURL() string { return p.Addr() + "/certs" }

// TestConfig returns a validated config.Config pointing at the test
// provider, trusting its CA and using its client credentials.
func (p *TestProvider) TestConfig(t *testing.T, opt ...config.Option) *config.Config {
	t.Helper()
	p.mu.Lock()
	clientID, clientSecret := p.clientID, p.clientSecret
	p.mu.Unlock()

	opts := append([]config.Option{config.WithProviderCA(p.caCert)}, opt...)
	c, err := config.New(
		p.Addr()+"/auth",
		p.Addr()+"/token",
		p.Addr()+"/tokeninfo",
		clientID,
		config.ClientSecret(clientSecret),
		TestRedirectURL,
		opts...,
	)
	require.NoError(t, err)
	return c
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /auth and the
// allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs.
// If not configured TestRedirectURL is used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetSubjectAndEmail configures the sub and email claims of issued tokens.
func (p *TestProvider) SetSubjectAndEmail(sub, email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
	p.replyEmail = email
}

// SetCustomClaims lets you set claims to return in the JWT issued by the
// token endpoint and in the token info reply.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in issued
// tokens and token info replies.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetTokenInfoClaims replaces the token info reply with claims, regardless
// of which id_token is presented.
func (p *TestProvider) SetTokenInfoClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenInfoClaims = claims
}

// SetIDTokenExpiry sets the lifetime of issued id_tokens. A negative value
// issues tokens which are already expired.
func (p *TestProvider) SetIDTokenExpiry(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenExpiry = d
}

// OmitIDTokens forces an error state where the /token endpoint does not return
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// SetTokenStatus forces the /token endpoint to fail with status. Zero
// restores normal behavior.
func (p *TestProvider) SetTokenStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
}

// SetTokenInfoStatus forces the /tokeninfo endpoint to fail with status.
// Zero restores normal behavior.
func (p *TestProvider) SetTokenInfoStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenInfoStatus = status
}

// SetTokenDelay delays every /token response by d, or until the request is
// cancelled.
func (p *TestProvider) SetTokenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenDelay = d
}

// TokenRequests returns the number of requests made to /token.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// TokenInfoRequests returns the number of requests made to /tokeninfo.
func (p *TestProvider) TokenInfoRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenInfoRequests
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, status int, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeErrorResponse(w http.ResponseWriter, status int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	p.writeJSON(w, status, &body)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode string) {
	qv := req.URL.Query()
	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)
	http.Redirect(w, req, redirectURI, http.StatusFound)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/auth":
		p.serveAuth(w, req)
	case "/token":
		p.serveToken(w, req)
	case "/tokeninfo":
		p.serveTokenInfo(w, req)
	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, http.StatusOK, p.jwks)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) serveAuth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	qv := req.URL.Query()
	switch {
	case qv.Get("response_type") != "code":
		p.writeAuthErrorResponse(w, req, "unsupported_response_type")
		return
	case qv.Get("client_id") != p.clientID:
		p.writeAuthErrorResponse(w, req, "unauthorized_client")
		return
	case qv.Get("state") == "":
		p.writeAuthErrorResponse(w, req, "invalid_request")
		return
	case !contains(p.allowedRedirectURIs, qv.Get("redirect_uri")):
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&code=" + url.QueryEscape(p.expectedAuthCode)
	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p.mu.Lock()
	p.tokenRequests++
	delay := p.tokenDelay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-req.Context().Done():
			return
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tokenStatus != 0 {
		p.writeErrorResponse(w, p.tokenStatus, "server_error", "forced failure")
		return
	}
	switch {
	case req.FormValue("grant_type") != "authorization_code":
		p.writeErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		return
	case req.FormValue("client_id") != p.clientID || req.FormValue("client_secret") != p.clientSecret:
		p.writeErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	case !contains(p.allowedRedirectURIs, req.FormValue("redirect_uri")):
		p.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
		return
	case req.FormValue("code") != p.expectedAuthCode:
		p.writeErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
		return
	}

	now := time.Now()
	exp := now.Add(p.idTokenExpiry)
	aud := p.clientID
	if p.customAudience != "" {
		aud = p.customAudience
	}
	stdClaims := jwt.Claims{
		Subject:  p.replySubject,
		Issuer:   p.Addr(),
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(exp),
		Audience: jwt.Audience{aud},
	}
	privateClaims := map[string]interface{}{
		"azp":            p.clientID,
		"email":          p.replyEmail,
		"email_verified": true,
		"name":           "Test User",
		"given_name":     "Test",
		"family_name":    "User",
		"picture":        "https://example.com/photo.png",
		"locale":         "en",
	}
	for k, v := range p.customClaims {
		privateClaims[k] = v
	}
	idToken, err := signJWT(p.ecdsaPrivateKey, stdClaims, privateClaims)
	if err != nil {
		p.writeErrorResponse(w, http.StatusInternalServerError, "server_error", "unable to sign id_token")
		return
	}

	// token info reports numbers and booleans as strings, like Google does
	info := map[string]interface{}{
		"iss": p.Addr(),
		"aud": aud,
		"sub": p.replySubject,
		"iat": strconv.FormatInt(now.Unix(), 10),
		"exp": strconv.FormatInt(exp.Unix(), 10),
		"alg": "ES256",
		"typ": "JWT",
	}
	for k, v := range privateClaims {
		if b, ok := v.(bool); ok {
			v = strconv.FormatBool(b)
		}
		info[k] = v
	}
	p.issued[idToken] = info

	reply := struct {
		AccessToken  string `json:"access_token"`
		IDToken      string `json:"id_token,omitempty"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		TokenType    string `json:"token_type"`
		Scope        string `json:"scope"`
	}{
		AccessToken:  "test-access-token",
		IDToken:      idToken,
		RefreshToken: "test-refresh-token",
		ExpiresIn:    3599,
		TokenType:    "Bearer",
		Scope:        "openid email profile",
	}
	if p.omitIDToken {
		reply.IDToken = ""
	}
	p.writeJSON(w, http.StatusOK, &reply)
}

func (p *TestProvider) serveTokenInfo(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenInfoRequests++

	if p.tokenInfoStatus != 0 {
		p.writeErrorResponse(w, p.tokenInfoStatus, "invalid_token", "forced failure")
		return
	}
	if p.tokenInfoClaims != nil {
		p.writeJSON(w, http.StatusOK, p.tokenInfoClaims)
		return
	}
	info, ok := p.issued[req.URL.Query().Get("id_token")]
	if !ok {
		p.writeErrorResponse(w, http.StatusBadRequest, "invalid_token", "Invalid Value")
		return
	}
	p.writeJSON(w, http.StatusOK, info)
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				Algorithm: string(jose.ES256),
				Use:       "sig",
			},
		},
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
