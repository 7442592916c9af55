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

package cli

import (
	"github.com/spf13/cobra"
)

func newCredentialsCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credentials",
		Aliases: []string{"creds"},
		Short:   "Manage passkey credentials",
	}
	cmd.AddCommand(newCredentialsListCmd(opts))
	cmd.AddCommand(newCredentialsRevokeCmd(opts))
	return cmd
}

func newCredentialsListCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list <user-id>",
		Short: "List the credentials of a user, revoked ones included",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := opts.openServer(cmd)
			if err != nil {
				return err
			}
			defer srv.Shutdown(cmd.Context())

			creds, err := srv.Passkeys().ListCredentials(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.printer(cmd).PrintCredentials(creds)
		},
	}
}

func newCredentialsRevokeCmd(opts *Options) *cobra.Command {
	var (
		by     string
		reason string
	)

	cmd := &cobra.Command{
		Use:   "revoke <credential-id>",
		Short: "Revoke a credential and end its owner's sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := opts.openServer(cmd)
			if err != nil {
				return err
			}
			defer srv.Shutdown(cmd.Context())

			cred, err := srv.Passkeys().RevokeCredential(cmd.Context(), args[0], by, reason)
			if err != nil && cred == nil {
				return err
			}
			if err != nil {
				opts.printVerbose(cmd, "session cleanup failed: %v", err)
			}
			return opts.printer(cmd).PrintSuccess("revoked credential " + cred.ID)
		},
	}

	cmd.Flags().StringVar(&by, "by", "cli", "operator recorded as the revoker")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the revocation")
	return cmd
}
