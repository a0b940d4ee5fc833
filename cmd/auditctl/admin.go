package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openfilz/openfilz-core-sub000/internal/identity"
)

// ── exclusions ───────────────────────────────────────────────────────────────

var exclusionsCmd = &cobra.Command{
	Use:   "exclusions",
	Short: "Show or replace the set of actions excluded from the chain",
	Long: `Excluded actions are not recorded. Changing the set never breaks linkage:
later entries chain to the last entry actually written.

Requires a token with the audit:admin role.`,
}

var exclusionsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the excluded actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ex, err := c.Exclusions(context.Background())
		if err != nil {
			return fmt.Errorf("exclusions: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(ex)
		}
		if len(ex.ExcludedActions) == 0 {
			fmt.Println("No actions are excluded.")
			return nil
		}
		for _, a := range ex.ExcludedActions {
			fmt.Println(a)
		}
		return nil
	},
}

var exclusionsSetCmd = &cobra.Command{
	Use:   "set [ACTION ...]",
	Short: "Replace the excluded actions (no arguments clears the set)",
	RunE: func(cmd *cobra.Command, args []string) error {
		actions := make([]string, 0, len(args))
		for _, a := range args {
			for _, part := range strings.Split(a, ",") {
				if part = strings.TrimSpace(part); part != "" {
					actions = append(actions, strings.ToUpper(part))
				}
			}
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		ex, err := c.SetExclusions(context.Background(), actions)
		if err != nil {
			return fmt.Errorf("set exclusions: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(ex)
		}
		fmt.Printf("Excluded actions: %s\n", strings.Join(ex.ExcludedActions, ", "))
		return nil
	},
}

func init() {
	exclusionsCmd.AddCommand(exclusionsGetCmd)
	exclusionsCmd.AddCommand(exclusionsSetCmd)
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenSecret  string
	tokenIssuer  string
	tokenSubject string
	tokenRoles   []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a service token signed with the auditd secret",
	Long: `token signs a service token locally with the same secret auditd uses
(auth.token_secret). Collaborators present it when recording actions:

  auditctl token --subject documents-service --role audit:write

Services that record actions on behalf of end users also need audit:delegate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = viper.GetString("token_secret")
		}
		issuer, err := identity.NewTokenIssuer([]byte(secret), tokenIssuer, tokenTTL)
		if err != nil {
			return fmt.Errorf("token: %w (pass --secret or set AUDITCTL_TOKEN_SECRET)", err)
		}
		tok, err := issuer.Issue(tokenSubject, tokenRoles)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenSecret, "secret", "", "Signing secret (auth.token_secret of auditd)")
	f.StringVar(&tokenIssuer, "issuer", "openfilz-audit", "Issuer claim; must match auth.issuer")
	f.StringVar(&tokenSubject, "subject", "", "Subject recorded as the user principal (required)")
	f.StringSliceVar(&tokenRoles, "role", []string{identity.RoleWriter}, "Role to grant (repeatable): audit:write, audit:delegate, audit:admin")
	f.DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
}
