package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/gobeyondidentity/perimeter/pkg/clierror"
	"github.com/gobeyondidentity/perimeter/pkg/dpop"
	"github.com/gobeyondidentity/perimeter/pkg/fingerprint"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(registerCmd)

	registerCmd.Flags().String("account", "", "Account ID to bind the device key to")
	registerCmd.Flags().String("fingerprint", "", "Path to a JSON device fingerprint to register")
	registerCmd.MarkFlagRequired("account")
}

type serverRegisterRequest struct {
	AccountID   string                   `json:"accountId"`
	PublicKey   *dpop.JWK                `json:"publicKey"`
	Fingerprint *fingerprint.Fingerprint `json:"fingerprint,omitempty"`
}

type serverRegisterResponse struct {
	DeviceKeyID string `json:"deviceKeyId"`
	Thumbprint  string `json:"thumbprint"`
	Token       string `json:"token"`
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this device's key with the server",
	Long: `Register the device public key with a Perimeter server. The server
stores the key, binds its thumbprint into a bearer token, and returns the
token. The token only works when presented together with a proof signed by
the matching private key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, _ := cmd.Flags().GetString("account")
		fpPath, _ := cmd.Flags().GetString("fingerprint")

		key, err := loadDeviceKey()
		if err != nil {
			return err
		}

		var fp *fingerprint.Fingerprint
		if fpPath != "" {
			data, err := os.ReadFile(fpPath)
			if err != nil {
				return fmt.Errorf("failed to read fingerprint file: %w", err)
			}
			fp = &fingerprint.Fingerprint{}
			if err := json.Unmarshal(data, fp); err != nil {
				return fmt.Errorf("failed to parse fingerprint file: %w", err)
			}
		}

		body, err := json.Marshal(serverRegisterRequest{
			AccountID:   accountID,
			PublicKey:   key.public,
			Fingerprint: fp,
		})
		if err != nil {
			return err
		}

		url := serverURL + "/api/v1/devices/register"
		resp, err := http.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			return clierror.ConnectionFailed(serverURL)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("registration rejected (%d): %s", resp.StatusCode, string(msg))
		}

		var reg serverRegisterResponse
		if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
			return fmt.Errorf("failed to parse registration response: %w", err)
		}

		cfg := &cliConfig{
			DeviceKeyID: reg.DeviceKeyID,
			Thumbprint:  reg.Thumbprint,
			Token:       reg.Token,
			ServerURL:   serverURL,
		}
		if err := saveCLIConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		if done, err := formatOutput(reg); done {
			return err
		}

		fmt.Printf("%s Device registered\n", okFmt("OK"))
		fmt.Printf("  Device key: %s\n", reg.DeviceKeyID)
		fmt.Printf("  Thumbprint: %s\n", reg.Thumbprint)
		fmt.Printf("  %s\n", dimFmt("Token saved to config; use 'popcli call' to make requests"))
		return nil
	},
}
