// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

const (
	logFormatText = "text"
	logFormatJSON = "json"
)

type rootFlags struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "rplogin",
		Short: "OAuth2 authorization code relying party",
		Long: `rplogin signs users in with an external OAuth2 identity provider.

It hands out provider login URLs bound to single use state tokens, exchanges
the returned authorization code, validates the identity token, provisions a
local user and issues session credentials.`,
		Version:      version,
		SilenceUsage: true,
	}
	cmd.SetVersionTemplate(`{{printf "rplogin version %s\n" .Version}}`)
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level: trace, debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", logFormatText, "Log format: text or json")

	cmd.AddCommand(newServeCmd(flags))
	return cmd
}

// newLogger builds the process logger from the root flags.
func newLogger(flags *rootFlags, out io.Writer) (hclog.Logger, error) {
	level := hclog.LevelFromString(flags.logLevel)
	if level == hclog.NoLevel {
		return nil, fmt.Errorf("unknown log level %q", flags.logLevel)
	}
	var jsonFormat bool
	switch flags.logFormat {
	case logFormatText:
	case logFormatJSON:
		jsonFormat = true
	default:
		return nil, fmt.Errorf("unknown log format %q", flags.logFormat)
	}
	if out == nil {
		out = os.Stderr
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "rplogin",
		Level:      level,
		Output:     out,
		JSONFormat: jsonFormat,
	}), nil
}
