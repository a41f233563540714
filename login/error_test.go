// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package login

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind        Kind
		wantName    string
		wantStatus  int
		wantMessage string
	}{
		{Unclassified, "unclassified", http.StatusInternalServerError, "internal server error"},
		{InvalidRequest, "invalid_request", http.StatusBadRequest, "invalid request"},
		{InvalidState, "invalid_state", http.StatusBadRequest, "invalid request"},
		{InvalidCode, "invalid_code", http.StatusBadRequest, "invalid authorization code"},
		{ProviderUnavailable, "provider_unavailable", http.StatusServiceUnavailable, "authentication failed"},
		{InvalidToken, "invalid_token", http.StatusUnauthorized, "authentication failed"},
		{InvalidAudience, "invalid_audience", http.StatusUnauthorized, "authentication failed"},
		{TokenExpired, "token_expired", http.StatusUnauthorized, "authentication failed"},
		{ProvisioningFailed, "provisioning_failed", http.StatusInternalServerError, "failed to create user account"},
		{Kind(99), "unclassified", http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			assert := assert.New(t)
			assert.Equal(tt.wantName, tt.kind.String())
			assert.Equal(tt.wantStatus, tt.kind.Status())
			assert.Equal(tt.wantMessage, tt.kind.Message())
		})
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	cause := errors.New("cause")

	err := newError("op", InvalidCode, cause)
	assert.Equal(InvalidCode, KindOf(err))
	assert.Equal(InvalidCode, KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.True(errors.Is(err, cause))
	assert.Equal("op: invalid_code: cause", err.Error())
	assert.Equal("op: invalid_state", newError("op", InvalidState, nil).Error())

	assert.Equal(Unclassified, KindOf(cause))
	assert.Equal(Unclassified, KindOf(nil))
}

func TestMaskEmail(t *testing.T) {
	t.Parallel()
	tests := []struct {
		email string
		want  string
	}{
		{email: "ab@example.com", want: "ab***@example.com"},
		{email: "alice@example.com", want: "al***@example.com"},
		{email: "a@b.com", want: "***"},
		{email: "@example.com", want: "***"},
		{email: "ab", want: "***"},
		{email: "", want: "***"},
		{email: "no-at-sign", want: "***"},
		{email: "éa@example.com", want: "éa***@example.com"},
		{email: "日本語@example.jp", want: "日本***@example.jp"},
		{email: "é@example.com", want: "***"},
		{email: "éé", want: "***"},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			got := MaskEmail(tt.email)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
