// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Command rplogin serves the login-url and callback endpoints of an OAuth2
// authorization code relying party.
package main

import "os"

// version can be set during build with -ldflags
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
