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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-passwordless/pkg/magiclink"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

// ErrAccountExists is returned when the email is already registered.
var ErrAccountExists = errors.New("account already exists")

func newAccountCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newAccountAddCmd(opts))
	cmd.AddCommand(newAccountShowCmd(opts))
	cmd.AddCommand(newAccountSetActiveCmd(opts, "disable", false))
	cmd.AddCommand(newAccountSetActiveCmd(opts, "enable", true))
	return cmd
}

func newAccountAddCmd(opts *Options) *cobra.Command {
	var (
		userID      string
		memberID    string
		displayName string
		role        string
	)

	cmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := magiclink.ValidateEmail(args[0])
			if err != nil {
				return err
			}

			srv, err := opts.openServer(cmd)
			if err != nil {
				return err
			}
			defer srv.Shutdown(cmd.Context())

			st := srv.Store()
			if _, err := st.FindAccountByEmail(cmd.Context(), email); err == nil {
				return fmt.Errorf("%w: %s", ErrAccountExists, email)
			} else if !store.IsNotFound(err) {
				return err
			}

			if userID == "" {
				userID = uuid.NewString()
			}
			acct := &store.Account{
				ID:          uuid.NewString(),
				UserID:      userID,
				MemberID:    memberID,
				Email:       email,
				DisplayName: displayName,
				Role:        role,
				Active:      true,
				CreatedAt:   time.Now().UTC(),
			}
			if err := st.PutAccount(cmd.Context(), acct); err != nil {
				return err
			}
			opts.printVerbose(cmd, "created account %s", acct.ID)
			return opts.printer(cmd).PrintAccount(acct)
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "user handle (default: random UUID)")
	cmd.Flags().StringVar(&memberID, "member-id", "", "external member identifier")
	cmd.Flags().StringVar(&displayName, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "member", "account role")
	return cmd
}

func newAccountShowCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <email>",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := opts.openServer(cmd)
			if err != nil {
				return err
			}
			defer srv.Shutdown(cmd.Context())

			acct, err := srv.Store().FindAccountByEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.printer(cmd).PrintAccount(acct)
		},
	}
}

// newAccountSetActiveCmd builds enable and disable. Disabling also ends
// every session of the account.
func newAccountSetActiveCmd(opts *Options, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email>",
		Short: fmt.Sprintf("%s an account", map[bool]string{true: "Enable", false: "Disable"}[active]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := opts.openServer(cmd)
			if err != nil {
				return err
			}
			defer srv.Shutdown(cmd.Context())

			ctx := cmd.Context()
			acct, err := srv.Store().FindAccountByEmail(ctx, args[0])
			if err != nil {
				return err
			}
			acct.Active = active
			if err := srv.Store().PutAccount(ctx, acct); err != nil {
				return err
			}
			if !active {
				n, err := srv.Sessions().DestroyAllForAccount(ctx, acct.ID)
				if err != nil {
					return err
				}
				opts.printVerbose(cmd, "destroyed %d sessions", n)
			}
			return opts.printer(cmd).PrintAccount(acct)
		},
	}
}
