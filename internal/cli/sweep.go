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

func newSweepCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired challenges, magic links and sessions",
		Long: `Run one cleanup pass against the configured store. Useful with the
file, sqlite and postgres backends when the server sweeper is disabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := opts.openServer(cmd)
			if err != nil {
				return err
			}
			defer srv.Shutdown(cmd.Context())

			res, err := srv.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			return opts.printer(cmd).PrintSweep(res)
		},
	}
}
