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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-passwordless/internal/rest"
)

func newTokenCmd(opts *Options) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token",
		Long: `Sign a bearer token for the /api/v1/admin routes with admin.jwt_secret.
The token carries the configured issuer, audience and role.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cfg.Admin.Enabled() {
				return fmt.Errorf("admin.jwt_secret is not configured")
			}

			authz, err := rest.NewJWTAuthorizer(rest.JWTAuthorizerConfig{
				Secret:   []byte(cfg.Admin.JWTSecret),
				Issuer:   cfg.Admin.Issuer,
				Audience: cfg.Admin.Audience,
				Role:     cfg.Admin.Role,
			})
			if err != nil {
				return err
			}
			tok, err := authz.Issue(subject, ttl)
			if err != nil {
				return err
			}
			return opts.printer(cmd).PrintToken(tok, time.Now().Add(ttl).UTC())
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "operator identity recorded on revocations (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
