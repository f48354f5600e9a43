package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sendas-app/recorridos/internal/auth"
	"github.com/sendas-app/recorridos/internal/config"
)

// NewTokenCmd creates the "token" subcommand.
func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a student token for development",
		Long: "Signs a token with the configured RECORRIDOS_JWT_PRIVATE_KEY/RECORRIDOS_JWT_PUBLIC_KEY pair.\n" +
			"Without configured keys the server would not accept it, so the command refuses.",
		Args: cobra.NoArgs,
		RunE: runToken,
	}

	cmd.Flags().String("user", "", "Student user id (required)")
	cmd.Flags().Int("level", 0, "Student level")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runToken(cmd *cobra.Command, _ []string) error {
	user, _ := cmd.Flags().GetString("user")
	level, _ := cmd.Flags().GetInt("level")
	if level < 0 {
		return errors.New("--level must not be negative")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.JWTPrivateKeyPath == "" {
		return errors.New("token: RECORRIDOS_JWT_PRIVATE_KEY and RECORRIDOS_JWT_PUBLIC_KEY must be set")
	}
	mgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return err
	}
	token, expiresAt, err := mgr.IssueToken(strings.TrimSpace(user), level)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
	return nil
}

// NewHashKeyCmd creates the "hash-key" subcommand.
func NewHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key",
		Short: "Hash a service key read from stdin for RECORRIDOS_SERVICE_KEY_HASH",
		Args:  cobra.NoArgs,
		RunE:  runHashKey,
	}
}

func runHashKey(cmd *cobra.Command, _ []string) error {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	var key string
	if scanner.Scan() {
		key = strings.TrimSpace(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("hash-key: read stdin: %w", err)
	}
	if key == "" {
		return errors.New("hash-key: no key on stdin")
	}

	hash, err := auth.HashServiceKey(key)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
