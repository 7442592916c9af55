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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jeremyhahn/go-passwordless/pkg/store"
	"github.com/jeremyhahn/go-passwordless/pkg/sweeper"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText  OutputFormat = "text"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintAccount prints an account
func (p *Printer) PrintAccount(a *store.Account) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(a)
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Account:\n")
		fmt.Fprintf(p.writer, "  ID:      %s\n", a.ID)
		fmt.Fprintf(p.writer, "  User ID: %s\n", a.UserID)
		fmt.Fprintf(p.writer, "  Email:   %s\n", a.Email)
		if a.DisplayName != "" {
			fmt.Fprintf(p.writer, "  Name:    %s\n", a.DisplayName)
		}
		if a.MemberID != "" {
			fmt.Fprintf(p.writer, "  Member:  %s\n", a.MemberID)
		}
		fmt.Fprintf(p.writer, "  Role:    %s\n", a.Role)
		fmt.Fprintf(p.writer, "  Active:  %t\n", a.Active)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintCredentials prints a credential list without key material
func (p *Printer) PrintCredentials(creds []*store.Credential) error {
	switch p.format {
	case OutputFormatJSON:
		list := make([]map[string]any, len(creds))
		for i, c := range creds {
			list[i] = map[string]any{
				"id":            c.ID,
				"user_id":       c.UserID,
				"credential_id": base64.RawURLEncoding.EncodeToString(c.CredentialID),
				"device_name":   c.DeviceName,
				"created_at":    c.CreatedAt,
				"last_used_at":  c.LastUsedAt,
				"revoked":       c.Revoked,
			}
		}
		return p.printJSON(map[string]any{"credentials": list})
	case OutputFormatTable:
		if len(creds) == 0 {
			fmt.Fprintln(p.writer, "No credentials found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-36s %-20s %-20s %-8s\n", "ID", "DEVICE", "LAST USED", "STATUS")
		fmt.Fprintln(p.writer, strings.Repeat("-", 87))
		for _, c := range creds {
			fmt.Fprintf(p.writer, "%-36s %-20s %-20s %-8s\n",
				c.ID, c.DeviceName, lastUsed(c.LastUsedAt), status(c))
		}
		return nil
	case OutputFormatText:
		if len(creds) == 0 {
			fmt.Fprintln(p.writer, "No credentials found")
			return nil
		}
		fmt.Fprintln(p.writer, "Credentials:")
		for _, c := range creds {
			name := c.DeviceName
			if name == "" {
				name = "unnamed"
			}
			fmt.Fprintf(p.writer, "  - %s (%s, %s)\n", c.ID, name, status(c))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

func lastUsed(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.DateTime)
}

func status(c *store.Credential) string {
	if c.Revoked {
		return "revoked"
	}
	return "active"
}

// PrintSweep prints the records removed by a cleanup pass
func (p *Printer) PrintSweep(r sweeper.Result) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"challenges":   r.Challenges,
			"magic_links":  r.MagicLinks,
			"sessions":     r.Sessions,
			"limiter_keys": r.LimiterKeys,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Removed %d records:\n", r.Total())
		fmt.Fprintf(p.writer, "  Challenges:  %d\n", r.Challenges)
		fmt.Fprintf(p.writer, "  Magic links: %d\n", r.MagicLinks)
		fmt.Fprintf(p.writer, "  Sessions:    %d\n", r.Sessions)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintToken prints a signed admin token
func (p *Printer) PrintToken(token string, expiresAt time.Time) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"token":      token,
			"expires_at": expiresAt,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, token)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status":  "success",
			"message": message,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

func (p *Printer) printJSON(data any) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
