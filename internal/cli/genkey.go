package cli

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// NewGenKeyCmd creates the "genkey" subcommand.
func NewGenKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate an Ed25519 key pair for token signing",
		Long: "Writes jwt_private.pem and jwt_public.pem into --dir. Point RECORRIDOS_JWT_PRIVATE_KEY\n" +
			"and RECORRIDOS_JWT_PUBLIC_KEY at them; without persistent keys the server signs with an\n" +
			"ephemeral pair and every restart invalidates issued tokens.",
		Args: cobra.NoArgs,
		RunE: runGenKey,
	}
	cmd.Flags().String("dir", "data", "Directory for the key files")
	return cmd
}

func runGenKey(cmd *cobra.Command, _ []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	privPath := filepath.Join(dir, "jwt_private.pem")
	pubPath := filepath.Join(dir, "jwt_public.pem")

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("genkey: create %s: %w", dir, err)
	}

	// Overwriting would invalidate live tokens.
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("genkey: %s already exists, delete it first to rotate keys", path)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("genkey: generate key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("genkey: marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("genkey: marshal public key: %w", err)
	}

	if err := writePEM(privPath, "PRIVATE KEY", privDER); err != nil {
		return err
	}
	if err := writePEM(pubPath, "PUBLIC KEY", pubDER); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "wrote %s\n", privPath)
	fmt.Fprintf(out, "wrote %s\n", pubPath)
	return nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // operator-supplied directory
	if err != nil {
		return fmt.Errorf("genkey: create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return fmt.Errorf("genkey: write %s: %w", path, err)
	}
	return f.Close()
}
