package cmd

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gobeyondidentity/perimeter/pkg/clierror"
	"github.com/gobeyondidentity/perimeter/pkg/dpop"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().Bool("force", false, "Overwrite an existing key")
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a device key pair",
	Long: `Generate a P-256 device key pair and store the private key in the
config directory. The private key never leaves this machine; registration
sends only the public key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		path, err := keyPath()
		if err != nil {
			return err
		}

		if _, err := os.Stat(path); err == nil && !force {
			return clierror.KeyExists(path)
		}

		key, err := dpop.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("failed to generate key pair: %w", err)
		}

		pemData, err := dpop.MarshalPrivateKeyPEM(key)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := os.WriteFile(path, pemData, 0o600); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}

		thumbprint, err := dpop.PublicKeyThumbprint(&key.PublicKey)
		if err != nil {
			return err
		}

		if done, err := formatOutput(map[string]string{
			"key_path":   path,
			"thumbprint": thumbprint,
		}); done {
			return err
		}

		fmt.Printf("%s Generated P-256 device key\n", okFmt("OK"))
		fmt.Printf("  Path:       %s\n", path)
		fmt.Printf("  Thumbprint: %s\n", thumbprint)
		return nil
	},
}

// loadDeviceKey reads the device private key generated by keygen.
func loadDeviceKey() (*deviceKey, error) {
	path, err := keyPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, clierror.NotRegistered()
		}
		return nil, fmt.Errorf("failed to read device key: %w", err)
	}
	priv, err := dpop.LoadPrivateKeyPEM(data)
	if err != nil {
		return nil, err
	}
	jwk, err := dpop.PublicKeyToJWK(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &deviceKey{private: priv, public: jwk}, nil
}

type deviceKey struct {
	private *ecdsa.PrivateKey
	public  *dpop.JWK
}
