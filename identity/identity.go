// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ExternalIdentity is the identity asserted by the provider after its claims
// have been validated. Audience always equals the configured client id.
type ExternalIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	DisplayName   string
	GivenName     string
	FamilyName    string
	PictureURL    string
	Locale        string
	Audience      string
	Issuer        string
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// Validator checks a provider's claims for a single client id.
type Validator struct {
	clientID string
	issuers  []string
	keySet   KeySet
	now      func() time.Time
}

// NewValidator creates a Validator for tokens issued to clientID.
// Supported options: WithNow, WithIssuers, WithKeySet
func NewValidator(clientID string, opt ...Option) (*Validator, error) {
	const op = "identity.NewValidator"
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	opts := getValidatorOpts(opt...)
	return &Validator{
		clientID: clientID,
		issuers:  opts.withIssuers,
		keySet:   opts.withKeySet,
		now:      opts.withNow,
	}, nil
}

// Validate turns raw claims into an ExternalIdentity. The audience must be
// the client id, exp must be strictly after now, and sub and email must be
// present. Numbers may be JSON numbers or decimal strings and booleans may
// be "true", which is how token info endpoints commonly report them.
func (v *Validator) Validate(claims map[string]interface{}) (*ExternalIdentity, error) {
	const op = "identity.(Validator).Validate"
	if len(claims) == 0 {
		return nil, fmt.Errorf("%s: claims are empty: %w", op, ErrInvalidToken)
	}

	if err := v.checkAudience(claims); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	iss := stringClaim(claims, "iss")
	if len(v.issuers) > 0 && !contains(v.issuers, iss) {
		return nil, fmt.Errorf("%s: issuer %q is not trusted: %w: %w", op, iss, ErrInvalidToken, ErrInvalidIssuer)
	}

	exp, ok := timeClaim(claims, "exp")
	if !ok {
		return nil, fmt.Errorf("%s: exp claim is missing or malformed: %w", op, ErrInvalidToken)
	}
	if !exp.After(v.now()) {
		return nil, fmt.Errorf("%s: expired at %s: %w", op, exp.UTC().Format(time.RFC3339), ErrTokenExpired)
	}

	sub := stringClaim(claims, "sub")
	if sub == "" {
		return nil, fmt.Errorf("%s: sub claim is missing: %w", op, ErrInvalidToken)
	}
	email := stringClaim(claims, "email")
	if email == "" {
		return nil, fmt.Errorf("%s: email claim is missing: %w", op, ErrInvalidToken)
	}

	iat, _ := timeClaim(claims, "iat")
	return &ExternalIdentity{
		Subject:       sub,
		Email:         email,
		EmailVerified: boolClaim(claims, "email_verified"),
		DisplayName:   stringClaim(claims, "name"),
		GivenName:     stringClaim(claims, "given_name"),
		FamilyName:    stringClaim(claims, "family_name"),
		PictureURL:    stringClaim(claims, "picture"),
		Locale:        stringClaim(claims, "locale"),
		Audience:      v.clientID,
		Issuer:        iss,
		IssuedAt:      iat,
		ExpiresAt:     exp,
	}, nil
}

// VerifyIDToken verifies the signature of rawIDToken with the configured
// KeySet and requires its signed sub and aud to agree with the introspected
// claims. It does nothing when no KeySet is configured.
func (v *Validator) VerifyIDToken(ctx context.Context, rawIDToken string, introspected map[string]interface{}) error {
	const op = "identity.(Validator).VerifyIDToken"
	if v.keySet == nil {
		return nil
	}
	if rawIDToken == "" {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidToken)
	}
	signed, err := v.keySet.VerifySignature(ctx, rawIDToken)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, ErrInvalidSignature)
	}
	if err := v.checkAudience(signed); err != nil {
		return fmt.Errorf("%s: signed token: %w", op, err)
	}
	if sub := stringClaim(signed, "sub"); sub == "" || sub != stringClaim(introspected, "sub") {
		return fmt.Errorf("%s: signed sub does not match introspected sub: %w", op, ErrInvalidToken)
	}
	return nil
}

func (v *Validator) checkAudience(claims map[string]interface{}) error {
	switch aud := claims["aud"].(type) {
	case string:
		if aud != v.clientID {
			return fmt.Errorf("audience %q does not match client id: %w", aud, ErrInvalidAudience)
		}
		return nil
	case []interface{}:
		auds := make([]string, 0, len(aud))
		for _, a := range aud {
			if s, ok := a.(string); ok {
				auds = append(auds, s)
			}
		}
		if !contains(auds, v.clientID) {
			return fmt.Errorf("audiences %q do not contain client id: %w", auds, ErrInvalidAudience)
		}
		// multiple audiences require the authorized party to be us
		if len(auds) > 1 && stringClaim(claims, "azp") != v.clientID {
			return fmt.Errorf("authorized party does not match client id: %w", ErrInvalidAudience)
		}
		return nil
	case nil:
		return fmt.Errorf("aud claim is missing: %w", ErrInvalidAudience)
	default:
		return fmt.Errorf("aud claim has unexpected type %T: %w", aud, ErrInvalidAudience)
	}
}

func stringClaim(claims map[string]interface{}, name string) string {
	switch v := claims[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func boolClaim(claims map[string]interface{}, name string) bool {
	switch v := claims[name].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func timeClaim(claims map[string]interface{}, name string) (time.Time, bool) {
	var secs int64
	switch v := claims[name].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, err := v.Float64()
			if err != nil {
				return time.Time{}, false
			}
			n = int64(f)
		}
		secs = n
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return time.Time{}, false
		}
		secs = int64(v)
	case int64:
		secs = v
	case int:
		secs = int64(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		secs = n
	default:
		return time.Time{}, false
	}
	if secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
