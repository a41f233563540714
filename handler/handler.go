// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/rplogin/login"
)

const (
	// LoginURLPath serves GET requests for a provider login URL.
	LoginURLPath = "/auth/google/login-url"

	// CallbackPath serves POST requests completing a login.
	CallbackPath = "/auth/google/callback"

	// ErrorCode is the "error" value of every failure body.
	ErrorCode = "authentication_failed"
)

// Flow is the subset of *login.Flow served by the handlers.
type Flow interface {
	BeginLogin(ctx context.Context, redirectURL string) (string, error)
	CompleteLogin(ctx context.Context, req login.CompleteRequest) (*login.Outcome, error)
}

var _ Flow = (*login.Flow)(nil)

// LoginURLResponse is the body returned by LoginURL.
type LoginURLResponse struct {
	LoginURL string `json:"loginUrl"`
}

// CallbackRequest is the body accepted by Callback.
type CallbackRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
	State       string `json:"state"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// AuthResponse is the body returned by a successful Callback.
type AuthResponse struct {
	Token        string        `json:"token"`
	RefreshToken string        `json:"refreshToken"`
	ExpiresIn    int64         `json:"expiresIn"`
	TokenType    string        `json:"tokenType"`
	User         *UserResponse `json:"user"`
}

// ErrorResponse is the body of every failed request. Message never carries
// detail about the underlying failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Register adds the LoginURL and Callback handlers to mux.
// Supported options: WithLogger, WithMaxBodyBytes
func Register(mux *http.ServeMux, f Flow, opt ...Option) error {
	const op = "handler.Register"
	if mux == nil {
		return fmt.Errorf("%s: mux is nil: %w", op, ErrNilParameter)
	}
	loginURL, err := LoginURL(f, opt...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	callback, err := Callback(f, opt...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	mux.Handle(http.MethodGet+" "+LoginURLPath, loginURL)
	mux.Handle(http.MethodPost+" "+CallbackPath, callback)
	return nil
}

// LoginURL creates a handler which starts a login and replies with the
// provider authorization URL. The optional "redirectUri" query parameter
// selects a registered redirect URL.
// Supported options: WithLogger
func LoginURL(f Flow, opt ...Option) (http.HandlerFunc, error) {
	const op = "handler.LoginURL"
	if f == nil {
		return nil, fmt.Errorf("%s: flow is nil: %w", op, ErrNilParameter)
	}
	opts := getHandlerOpts(opt...)
	logger := opts.withLogger

	return func(w http.ResponseWriter, req *http.Request) {
		u, err := f.BeginLogin(req.Context(), req.URL.Query().Get("redirectUri"))
		if err != nil {
			logger.Error("unable to generate login url", "op", op, "client_ip", ClientIP(req), "kind", login.KindOf(err).String())
			writeError(w, logger, login.KindOf(err))
			return
		}
		writeJSON(w, logger, http.StatusOK, &LoginURLResponse{LoginURL: u})
	}, nil
}

// Callback creates a handler which completes a login from a JSON
// CallbackRequest and replies with session credentials.
// Supported options: WithLogger, WithMaxBodyBytes
func Callback(f Flow, opt ...Option) (http.HandlerFunc, error) {
	const op = "handler.Callback"
	if f == nil {
		return nil, fmt.Errorf("%s: flow is nil: %w", op, ErrNilParameter)
	}
	opts := getHandlerOpts(opt...)
	logger := opts.withLogger

	return func(w http.ResponseWriter, req *http.Request) {
		clientIP := ClientIP(req)
		logger.Info("processing login callback", "client_ip", clientIP)

		var body CallbackRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, opts.withMaxBodyBytes))
		if err := dec.Decode(&body); err != nil {
			var maxErr *http.MaxBytesError
			reason := "malformed body"
			if errors.As(err, &maxErr) {
				reason = "body too large"
			}
			logger.Warn("login callback rejected", "op", op, "client_ip", clientIP, "reason", reason)
			writeError(w, logger, login.InvalidRequest)
			return
		}

		out, err := f.CompleteLogin(req.Context(), login.CompleteRequest{
			Code:        body.Code,
			RedirectURL: body.RedirectURI,
			State:       body.State,
			ClientIP:    clientIP,
		})
		if err != nil {
			writeError(w, logger, login.KindOf(err))
			return
		}

		resp := &AuthResponse{
			// session.Token redacts itself, so the raw values are copied out.
			Token:        string(out.SessionToken),
			RefreshToken: string(out.RefreshToken),
			ExpiresIn:    out.ExpiresIn,
			TokenType:    out.TokenType,
		}
		if out.User != nil {
			resp.User = &UserResponse{
				Email: out.User.Email,
				Name:  out.User.Name,
				Roles: out.User.RoleNames(),
			}
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, logger, http.StatusOK, resp)
	}, nil
}

// ClientIP returns the originating client address of req: the first
// X-Forwarded-For hop, then X-Real-IP, then the connection's remote host.
// The value is only suitable for logging.
func ClientIP(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(req.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		return host
	}
	return req.RemoteAddr
}

func writeError(w http.ResponseWriter, logger hclog.Logger, k login.Kind) {
	writeJSON(w, logger, k.Status(), &ErrorResponse{Error: ErrorCode, Message: k.Message()})
}

func writeJSON(w http.ResponseWriter, logger hclog.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("unable to write response", "error", err)
	}
}
