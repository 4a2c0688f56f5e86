package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	auth "github.com/mind-engage/gpam/internal/auth/middleware"
	"github.com/mind-engage/gpam/internal/rbac"
)

// hash-password reads the password from stdin so it stays out of shell history.
func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for ADMIN_PASS_HASH (password read from stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			pw := strings.TrimRight(line, "\r\n")
			if pw == "" {
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				return errors.New("empty password")
			}
			h, err := auth.HashPassword(pw)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), h)
			return err
		},
	}
}

// issue-token signs a bearer token offline, e.g. for a student portal that proxies the API.
func newIssueTokenCmd(a *app) *cobra.Command {
	var (
		sub  string
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign a report API token for a student or registrar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !rbac.NewPolicy(nil).KnownRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := auth.NewAuthService(a.cfg.AuthHMACSecret).IssueJWTFor(sub, role, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "Subject: the student PIDM, or the registrar user")
	cmd.Flags().StringVar(&role, "role", rbac.RoleStudent, "student|registrar")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
