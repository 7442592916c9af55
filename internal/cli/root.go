// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passwordless.
//
// go-passwordless is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package cli implements the passwordless command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-passwordless/internal/config"
	"github.com/jeremyhahn/go-passwordless/internal/server"
)

// Options holds the global flags.
type Options struct {
	// ConfigFile is the path to the configuration file
	ConfigFile string

	// OutputFormat controls output formatting (json, text, table)
	OutputFormat string

	// Verbose enables verbose logging
	Verbose bool
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &Options{}

	rootCmd := &cobra.Command{
		Use:   "passwordless",
		Short: "Passwordless authentication server",
		Long: `passwordless serves passkey (WebAuthn) and magic link sign-in with
cookie sessions, and manages accounts and credentials from the command line.

Configuration is read from an optional YAML file and PASSWORDLESS_*
environment variables, for example PASSWORDLESS_SESSION_IDLE_TIMEOUT=12h.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "",
		"config file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&opts.OutputFormat, "output", "o", "text",
		"output format (text, json, table)")
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false,
		"verbose output")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newSweepCmd(opts))
	rootCmd.AddCommand(newAccountCmd(opts))
	rootCmd.AddCommand(newCredentialsCmd(opts))
	rootCmd.AddCommand(newTokenCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newVersionCmd(opts))
	return rootCmd
}

// Execute runs the root command
func Execute() error {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		format, _ := cmd.PersistentFlags().GetString("output")
		_ = NewPrinter(format, os.Stderr).PrintError(err)
		return err
	}
	return nil
}

func (o *Options) printer(cmd *cobra.Command) *Printer {
	return NewPrinter(o.OutputFormat, cmd.OutOrStdout())
}

// printVerbose prints a message if verbose mode is enabled
func (o *Options) printVerbose(cmd *cobra.Command, format string, args ...any) {
	if o.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "[VERBOSE] "+format+"\n", args...)
	}
}

func (o *Options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	o.printVerbose(cmd, "loading configuration from %q", o.ConfigFile)
	return config.Load(o.ConfigFile)
}

// openServer builds the services for an administrative command. Server
// logs go to stderr, or nowhere unless verbose.
func (o *Options) openServer(cmd *cobra.Command) (*server.Server, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	var logs io.Writer = io.Discard
	if o.Verbose {
		logs = cmd.ErrOrStderr()
	}
	return server.New(cfg, logs)
}
