// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// rplogin (relying party login) provides a collection of related packages
// which sign users in with an external OAuth2 identity provider using the
// authorization code flow.
//
// The config package holds the immutable provider configuration. state issues
// single use login state tokens. provider builds authorization URLs and talks
// to the token and token-info endpoints. identity validates the introspected
// claims. user provisions local accounts. session issues credentials. login
// composes all of them into BeginLogin and CompleteLogin, and handler serves
// the flow over HTTP.
//
// See cmd/rplogin for a runnable server.
package rplogin
